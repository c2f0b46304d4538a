package whatsapp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// InboundMessage is a text message a guest sent us
type InboundMessage struct {
	ID        string
	Sender    string
	Text      string
	Timestamp time.Time
}

// MessageHandler is a callback function for handling messages
type MessageHandler func(ctx context.Context, msg InboundMessage) error

type Config struct {
	DataDir string
	// OpenerText is the re-engagement message; %s is replaced by the
	// registration id.
	OpenerText string
}

type Service struct {
	client         *whatsmeow.Client
	cfg            *Config
	log            zerolog.Logger
	messageHandler MessageHandler
}

// NewService creates a new WhatsApp service
func NewService(cfg *Config, logger zerolog.Logger) (*Service, error) {
	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// Use nil logger - sqlstore will use a no-op logger by default
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", cfg.DataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	// Use nil logger - whatsmeow will use a no-op logger by default
	client := whatsmeow.NewClient(deviceStore, nil)

	service := &Service{
		client: client,
		cfg:    cfg,
		log:    logger.With().Str("component", "WhatsApp").Logger(),
	}

	// Register event handlers
	client.AddEventHandler(func(evt interface{}) {
		service.eventHandler(evt)
	})

	return service, nil
}

// Connect connects to WhatsApp, pairing through a terminal QR code on
// first run.
func (s *Service) Connect() error {
	if s.client.Store.ID != nil {
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, _ := s.client.GetQRChannel(context.Background())
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			s.log.Info().Str("event", evt.Event).Msg("Login event")
			continue
		}
		q, err := qrcode.New(evt.Code, qrcode.Medium)
		if err != nil {
			fmt.Printf("QR Code: %s\n", evt.Code)
			fmt.Println("Please scan this QR code with WhatsApp to connect.")
			continue
		}
		fmt.Println("\n" + q.ToSmallString(false))
		fmt.Println("📱 Please scan the QR code above with WhatsApp:")
		fmt.Println("   1. Open WhatsApp on your phone")
		fmt.Println("   2. Go to Settings > Linked Devices")
		fmt.Println("   3. Tap 'Link a Device'")
		fmt.Println("   4. Scan the QR code shown above")
	}
	return nil
}

// Disconnect disconnects from WhatsApp
func (s *Service) Disconnect() {
	s.client.Disconnect()
}

// SendFreeformText sends text as a plain message and returns its message id
func (s *Service) SendFreeformText(ctx context.Context, phoneNumber, text string) (string, error) {
	return s.send(ctx, phoneNumber, text)
}

// SendResumeOpener sends the re-engagement opener for a registration
func (s *Service) SendResumeOpener(ctx context.Context, phoneNumber, registrationID string) (string, error) {
	text := s.cfg.OpenerText
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, registrationID)
	}
	return s.send(ctx, phoneNumber, text)
}

func (s *Service) send(ctx context.Context, phoneNumber, text string) (string, error) {
	jid, err := s.resolveJID(ctx, phoneNumber)
	if err != nil {
		return "", err
	}

	s.log.Debug().Str("jid", jid.String()).Msg("Attempting to send message")

	sentMsg, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: &text,
	})
	if err != nil {
		// Provide more helpful error message
		if strings.Contains(err.Error(), "unknown server") || strings.Contains(err.Error(), "can't send message") {
			return "", fmt.Errorf("failed to send message to %s: %w (the recipient may need to message us first)", jid.String(), err)
		}
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	s.log.Info().Str("jid", jid.String()).Str("message_id", string(sentMsg.ID)).Msg("Message sent")
	return string(sentMsg.ID), nil
}

// resolveJID verifies the number is on WhatsApp and returns the JID
// WhatsApp knows it by.
func (s *Service) resolveJID(ctx context.Context, phoneNumber string) (types.JID, error) {
	phoneNumber = NormalizePhoneNumber(phoneNumber)
	if phoneNumber == "" {
		return types.JID{}, fmt.Errorf("empty phone number")
	}

	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + phoneNumber})
	if err != nil {
		return types.JID{}, fmt.Errorf("failed to verify number on WhatsApp: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return types.JID{}, fmt.Errorf("number %s is not registered on WhatsApp", phoneNumber)
	}
	return resp[0].JID, nil
}

// eventHandler handles incoming WhatsApp events
func (s *Service) eventHandler(evt interface{}) {
	if evt == nil {
		return
	}
	switch evt := evt.(type) {
	case *events.Message:
		s.handleMessage(evt)
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
	case *events.Disconnected:
		s.log.Info().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Info().Msg("Logged out from WhatsApp")
	}
}

// handleMessage processes incoming messages
func (s *Service) handleMessage(msg *events.Message) {
	// Skip messages from self
	if msg.Info.IsFromMe || msg.Message == nil {
		return
	}

	text := msg.Message.GetConversation()
	if text == "" {
		text = msg.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}

	in := InboundMessage{
		ID:        string(msg.Info.ID),
		Sender:    senderPhone(msg.Info.MessageSource),
		Text:      text,
		Timestamp: msg.Info.Timestamp.UTC(),
	}

	if s.messageHandler == nil {
		s.log.Info().Str("sender", in.Sender).Str("message", in.Text).Msg("Received message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.messageHandler(ctx, in); err != nil {
		s.log.Error().Err(err).Str("sender", in.Sender).Msg("Error handling message")
	}
}

// senderPhone returns the sender's phone number. Chats addressed by LID
// carry the phone number in SenderAlt.
func senderPhone(src types.MessageSource) string {
	if src.Sender.Server == types.HiddenUserServer && !src.SenderAlt.IsEmpty() {
		return NormalizePhoneNumber(src.SenderAlt.User)
	}
	return NormalizePhoneNumber(src.Sender.User)
}

// SetMessageHandler sets a custom handler for incoming messages
func (s *Service) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}
