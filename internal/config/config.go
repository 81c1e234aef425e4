package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Env         string `env:"ENV" envDefault:"development"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./data/thomas.db"`

	// Session verification (Clerk)
	ClerkJWTKey            string   `env:"CLERK_JWT_KEY"`
	ClerkIssuer            string   `env:"CLERK_ISSUER"`
	ClerkAuthorizedParties []string `env:"CLERK_AUTHORIZED_PARTIES" envSeparator:","`
	ClerkWebhookSecret     string   `env:"CLERK_WEBHOOK_SIGNING_SECRET"`

	// Optional hosted realtime fan-out
	PusherAppID   string `env:"PUSHER_APP_ID"`
	PusherKey     string `env:"PUSHER_KEY"`
	PusherSecret  string `env:"PUSHER_SECRET"`
	PusherCluster string `env:"PUSHER_CLUSTER" envDefault:"ap1"`

	// Presence
	HeartbeatTTL time.Duration `env:"PRESENCE_HEARTBEAT_TTL" envDefault:"1h"`
	StaleAfter   time.Duration `env:"PRESENCE_STALE_AFTER" envDefault:"1h"`
	ReapInterval time.Duration `env:"PRESENCE_REAP_INTERVAL" envDefault:"1m"`

	// Rate limiting
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `env:"AUTO_BLOCK_ENABLED" envDefault:"false"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StaleAfter <= 0 || c.HeartbeatTTL <= 0 {
		return errors.New("presence durations must be positive")
	}
	if c.ReapInterval <= 0 {
		return errors.New("PRESENCE_REAP_INTERVAL must be positive")
	}
	if !c.IsProduction() {
		return nil
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required in production")
	}
	if c.ClerkJWTKey == "" {
		return errors.New("CLERK_JWT_KEY is required in production")
	}
	if c.ClerkWebhookSecret == "" {
		return errors.New("CLERK_WEBHOOK_SIGNING_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PusherEnabled reports whether all hosted realtime credentials are present.
func (c *Config) PusherEnabled() bool {
	return c.PusherAppID != "" && c.PusherKey != "" && c.PusherSecret != ""
}
