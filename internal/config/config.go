package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/pranavkale/lekha/internal/snapshot"
)

// Config holds all environment-driven settings.
type Config struct {
	Port      string `env:"LEKHA_PORT" envDefault:"8080"`
	DBPath    string `env:"LEKHA_DB_PATH" envDefault:"lekha.db"`
	BaseURL   string `env:"LEKHA_BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel  string `env:"LEKHA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LEKHA_LOG_FORMAT" envDefault:"text"`

	// bcrypt hash of the admin API bearer token. Empty disables auth (dev only).
	APITokenHash string `env:"LEKHA_API_TOKEN_HASH"`

	StripeWebhookSecret  string `env:"LEKHA_STRIPE_WEBHOOK_SECRET"`
	WebhookSigningSecret string `env:"LEKHA_WEBHOOK_SIGNING_SECRET"`

	// Shared secret partners present in X-Partner-Secret when posting events.
	// Empty leaves the partner callback route unregistered.
	PartnerSecret string `env:"LEKHA_PARTNER_SECRET"`

	PostmarkToken string `env:"LEKHA_POSTMARK_TOKEN"`
	FromEmail     string `env:"LEKHA_FROM_EMAIL" envDefault:"rewards@lekha.local"`

	SnapshotPassphrase    string `env:"LEKHA_SNAPSHOT_PASSPHRASE"`
	SnapshotHour          int    `env:"LEKHA_SNAPSHOT_HOUR" envDefault:"3"`
	SnapshotRetentionDays int    `env:"LEKHA_SNAPSHOT_RETENTION_DAYS" envDefault:"30"`

	S3Endpoint  string `env:"LEKHA_S3_ENDPOINT"`
	S3Bucket    string `env:"LEKHA_S3_BUCKET"`
	S3Region    string `env:"LEKHA_S3_REGION" envDefault:"auto"`
	S3AccessKey string `env:"LEKHA_S3_ACCESS_KEY"`
	S3SecretKey string `env:"LEKHA_S3_SECRET_KEY"`
	S3Prefix    string `env:"LEKHA_S3_PREFIX" envDefault:"ledger"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// SnapshotConfig assembles the snapshot manager configuration.
func (c Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		S3: snapshot.S3Config{
			Endpoint:  c.S3Endpoint,
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Prefix:    c.S3Prefix,
		},
		DBPath:        c.DBPath,
		Passphrase:    c.SnapshotPassphrase,
		Hour:          c.SnapshotHour,
		RetentionDays: c.SnapshotRetentionDays,
	}
}
