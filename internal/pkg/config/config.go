package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/clubsync/clubsync/internal/pkg/env"
)

// Config carries the service options that are read once at startup. The
// webhook secret is the only hard requirement; everything else has a
// production-safe default.
type Config struct {
	StripeWebhookSecret  string `validate:"required"`
	StripeSecretKey      string
	StripePublishableKey string

	// ServiceAPIKey protects the read API; empty disables those routes.
	ServiceAPIKey string

	// LedgerReplayWindow bounds how long applied ledger entries are kept.
	// Stripe redelivers failed webhooks for up to several days; 30 days
	// leaves generous headroom and keeps the dedup table small.
	LedgerReplayWindow time.Duration `validate:"min=24h"`

	PersistRetryCount     int           `validate:"min=1,max=10"`
	PersistBackoffBase    time.Duration `validate:"min=1ms"`
	PersistAttemptTimeout time.Duration `validate:"min=100ms"`
}

// Load reads the configuration from the environment and validates it.
// A missing STRIPE_WEBHOOK_SECRET is a startup-fatal condition for the
// caller; Load only reports it.
func Load() (*Config, error) {
	cfg := &Config{
		StripeWebhookSecret:   env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSecretKey:       env.GetEnv("STRIPE_SECRET_KEY", ""),
		StripePublishableKey:  env.GetEnv("STRIPE_PUBLISHABLE_KEY", ""),
		ServiceAPIKey:         env.GetEnv("SERVICE_API_KEY", ""),
		LedgerReplayWindow:    env.GetEnvDuration("LEDGER_REPLAY_WINDOW", 30*24*time.Hour),
		PersistRetryCount:     env.GetEnvInt("PERSIST_RETRY_COUNT", 3),
		PersistBackoffBase:    env.GetEnvDuration("PERSIST_BACKOFF_BASE", 200*time.Millisecond),
		PersistAttemptTimeout: env.GetEnvDuration("PERSIST_ATTEMPT_TIMEOUT", 5*time.Second),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
