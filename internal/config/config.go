package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"crm-automation"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"./crm.db"`

	// Empty selects the in-process send queue and local execution locks.
	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	TimerPollInterval     time.Duration `env:"TIMER_POLL_INTERVAL" envDefault:"1s"`
	TimerLease            time.Duration `env:"TIMER_LEASE" envDefault:"5m"`
	WebhookTimeout        time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	WaitActionMax         time.Duration `env:"WAIT_ACTION_MAX" envDefault:"1h"`
	ConversationQueueSize int           `env:"CONVERSATION_QUEUE_SIZE" envDefault:"256"`

	VerifyToken        string `env:"VERIFY_TOKEN"`
	WhatsAppToken      string `env:"WHATSAPP_TOKEN"`
	PhoneNumberID      string `env:"PHONE_NUMBER_ID"`
	WhatsAppAPIVersion string `env:"WHATSAPP_API_VERSION" envDefault:"v19.0"`
	WhatsAppBaseURL    string `env:"WHATSAPP_BASE_URL" envDefault:"https://graph.facebook.com"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file loaded")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("DB_DSN is required for postgres")
	}
	if c.TimerPollInterval <= 0 {
		return fmt.Errorf("TIMER_POLL_INTERVAL must be positive")
	}
	if c.ConversationQueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_QUEUE_SIZE must be positive")
	}
	return nil
}
