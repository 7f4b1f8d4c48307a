package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/sifen.db"`

	// Mailbox polling
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"10m"`
	MailWindowDays  int           `env:"MAIL_WINDOW_DAYS" envDefault:"5"`
	MailMaxMessages int           `env:"MAIL_MAX_MESSAGES" envDefault:"200"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	GraphBaseURL    string        `env:"GRAPH_BASE_URL" envDefault:"https://graph.microsoft.com/v1.0"`

	// Error staging
	ErrorXMLDir string `env:"ERROR_XML_DIR" envDefault:"xmls_erros"`

	// Telegram poll summaries (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if poll summaries should be sent
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MailWindowDays <= 0 {
		return nil, fmt.Errorf("MAIL_WINDOW_DAYS must be positive, got %d", cfg.MailWindowDays)
	}
	if cfg.MailMaxMessages <= 0 {
		return nil, fmt.Errorf("MAIL_MAX_MESSAGES must be positive, got %d", cfg.MailMaxMessages)
	}

	return cfg, nil
}
