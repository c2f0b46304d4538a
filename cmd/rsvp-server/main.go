package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"event-whatsapp/internal/config"
	"event-whatsapp/internal/handler"
	"event-whatsapp/internal/notify"
	"event-whatsapp/internal/outbound"
	"event-whatsapp/internal/resolver"
	"event-whatsapp/internal/rsvp"
	"event-whatsapp/internal/sendmap"
	"event-whatsapp/internal/storage"
	"event-whatsapp/internal/whatsapp"
	"event-whatsapp/internal/window"
)

func main() {
	fmt.Println("🎉 Event WhatsApp RSVP Server")
	fmt.Println("=============================")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped")
	}
	fmt.Println("Goodbye! 👋")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogPretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	broker, closeBroker, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	var (
		sender outbound.Sender = whatsapp.NewLogSender(logger)
		wa     *whatsapp.Service
	)
	if cfg.WhatsAppEnabled {
		wa, err = whatsapp.NewService(&whatsapp.Config{
			DataDir:    cfg.WhatsAppDataDir,
			OpenerText: cfg.OpenerText,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize WhatsApp service: %w", err)
		}
		sender = wa
	} else {
		logger.Warn().Msg("WhatsApp disabled, outbound messages are only logged")
	}

	sendMaps := sendmap.NewStore(store, logger, sendmap.WithTTL(cfg.SendMapTTL))
	flow := rsvp.NewFlow(
		resolver.New(store, logger),
		rsvp.NewUpdater(store, broker, logger),
		sendMaps,
		logger,
	)
	orchestrator := outbound.NewOrchestrator(store, sender, window.New(cfg.MessagingWindow), logger)

	if wa != nil {
		rsvpHandler := handler.NewRSVPHandler(flow, wa, logger)
		wa.SetMessageHandler(rsvpHandler.HandleMessage)

		fmt.Println("Connecting to WhatsApp...")
		if err := wa.Connect(); err != nil {
			return fmt.Errorf("failed to connect to WhatsApp: %w", err)
		}
		defer wa.Disconnect()
		fmt.Println("✅ Connected to WhatsApp!")
	}

	srv := handler.NewServer(handler.Deps{
		Tracker:   sendMaps,
		Replies:   flow,
		Templates: orchestrator,
		Updates:   broker,
		Health:    store,
	}, cfg.WebhookSecret, logger)
	if cfg.WebhookSecret == "" {
		logger.Warn().Msg("RSVP_WEBHOOK_SECRET is empty, all webhook calls will be rejected")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if cfg.OpsCLI {
		go startCLI(ctx, store, stop)
	}

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// newBroker uses Redis when REDIS_URL is set so several server processes
// share live updates, and an in-process hub otherwise.
func newBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notify.Broker, func(), error) {
	if cfg.RedisURL == "" {
		return notify.NewHub(), func() {}, nil
	}
	b, err := notify.NewRedisBroker(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return b, func() {
		if err := b.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close redis broker")
		}
	}, nil
}
