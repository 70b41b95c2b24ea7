package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Ingest rate limiting (0 disables)
	IngestRateLimit  int `envconfig:"INGEST_RATE_LIMIT" default:"0"`
	IngestRateWindow int `envconfig:"INGEST_RATE_WINDOW_SECONDS" default:"60"`

	// Notifications
	WebhookTimeoutSeconds int    `envconfig:"WEBHOOK_TIMEOUT_SECONDS" default:"5"`
	SMTPAddr              string `envconfig:"SMTP_ADDR" default:""`
	SMTPFrom              string `envconfig:"SMTP_FROM" default:"alerts@pulsegrid.local"`
	SMTPUser              string `envconfig:"SMTP_USER" default:""`
	SMTPPassword          string `envconfig:"SMTP_PASSWORD" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
