// Package config loads pool-engine settings from the environment.
//
// A .env file in the working directory is read first if present; real
// environment variables take precedence over it.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config holds every runtime setting.
type Config struct {
	// --- HTTP ---
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	// --- Storage ---
	// Empty DatabaseURL selects the in-memory store.
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	DBMaxConns  int32         `envconfig:"DB_MAX_CONNS" default:"25"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	// --- Messaging ---
	NATSURL           string `envconfig:"NATS_URL"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"eventpool.events"`

	// --- Logging ---
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// --- Economics ---
	CreatorFeeRate           decimal.Decimal `envconfig:"CREATOR_FEE_RATE" default:"0.03"`
	CustomStakeMaxMultiplier decimal.Decimal `envconfig:"CUSTOM_STAKE_MAX_MULTIPLIER" default:"10"`

	// --- Reconciliation ---
	ReconcileEnabled  bool   `envconfig:"RECONCILE_ENABLED" default:"true"`
	ReconcileSchedule string `envconfig:"RECONCILE_SCHEDULE" default:"@every 5m"`
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.DBMaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL))
	}
	if c.CreatorFeeRate.IsNegative() || c.CreatorFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("CREATOR_FEE_RATE must be in [0, 1), got %s", c.CreatorFeeRate))
	}
	if c.CustomStakeMaxMultiplier.LessThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("CUSTOM_STAKE_MAX_MULTIPLIER must be at least 1, got %s", c.CustomStakeMaxMultiplier))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout))
	}
	if c.ReconcileEnabled {
		if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
			errs = append(errs, fmt.Errorf("RECONCILE_SCHEDULE %q: %w", c.ReconcileSchedule, err))
		}
	}

	return errors.Join(errs...)
}
