package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration
type Config struct {
	WhatsAppDataDir string `env:"WHATSAPP_DATA_DIR" envDefault:"data"`
	WhatsAppEnabled bool   `env:"WHATSAPP_ENABLED" envDefault:"true"`
	DatabasePath    string `env:"DATABASE_PATH"`
	HTTPAddr        string `env:"HTTP_ADDR" envDefault:":8080"`
	WebhookSecret   string `env:"RSVP_WEBHOOK_SECRET"`
	RedisURL        string `env:"REDIS_URL"`
	OpenerText      string `env:"OPENER_TEXT" envDefault:"Hi! We have an update about your registration (ref %s). Reply to this message to receive it."`

	SendMapTTL      time.Duration `env:"SEND_MAP_TTL" envDefault:"720h"`
	MessagingWindow time.Duration `env:"MESSAGING_WINDOW" envDefault:"24h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	OpsCLI    bool   `env:"OPS_CLI" envDefault:"false"`
}

// LoadConfig loads configuration from environment variables or defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.WhatsAppDataDir, "events.db")
	}
	if cfg.SendMapTTL <= 0 {
		return nil, fmt.Errorf("SEND_MAP_TTL must be positive, got %s", cfg.SendMapTTL)
	}
	if cfg.MessagingWindow <= 0 {
		return nil, fmt.Errorf("MESSAGING_WINDOW must be positive, got %s", cfg.MessagingWindow)
	}
	return cfg, nil
}
