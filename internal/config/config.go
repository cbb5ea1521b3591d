package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "WalletLedger"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultAdapterTimeout = 30 * time.Second
	defaultPendingExpiry  = 72 * time.Hour
	defaultDedupTTL       = 72 * time.Hour
	defaultSweepSchedule  = "@every 15m"
	defaultAMQPExchange   = "ledger.events"
	defaultFundRateLimit  = 30
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL  string
	RedisURL     string
	AMQPURL      string
	AMQPExchange string

	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	AdapterTimeout time.Duration
	PendingExpiry  time.Duration
	SweepSchedule  string
	DedupTTL       time.Duration

	AuthTokenSecret       string
	RequireKYC            bool
	FundRateLimitPerMin   int
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripeReturnURL       string
	FlutterwaveSecretHash string
	InteracWebhookSecret  string
}

// Load reads configuration values from the environment, after preloading a
// .env file when one is present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:               getEnv("APP_NAME", defaultAppName),
		AppEnv:                getEnv("APP_ENV", defaultAppEnv),
		Port:                  getEnv("PORT", defaultPort),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		AMQPURL:               os.Getenv("AMQP_URL"),
		AMQPExchange:          getEnv("AMQP_EXCHANGE", defaultAMQPExchange),
		SweepSchedule:         getEnv("SWEEP_SCHEDULE", defaultSweepSchedule),
		AuthTokenSecret:       os.Getenv("AUTH_TOKEN_SECRET"),
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeReturnURL:       os.Getenv("STRIPE_RETURN_URL"),
		FlutterwaveSecretHash: os.Getenv("FLUTTERWAVE_SECRET_HASH"),
		InteracWebhookSecret:  os.Getenv("INTERAC_WEBHOOK_SECRET"),
		FundRateLimitPerMin:   defaultFundRateLimit,
	}

	var err error
	durations := []struct {
		name     string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod, defaultShutdownDelay},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL, defaultIdempotencyTTL},
		{"ADAPTER_TIMEOUT", &cfg.AdapterTimeout, defaultAdapterTimeout},
		{"PENDING_EXPIRY", &cfg.PendingExpiry, defaultPendingExpiry},
		{"WEBHOOK_DEDUP_TTL", &cfg.DedupTTL, defaultDedupTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.name, d.fallback); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("REQUIRE_KYC"); v != "" {
		if cfg.RequireKYC, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid REQUIRE_KYC: %w", err)
		}
	}
	if v := os.Getenv("FUND_RATE_LIMIT_PER_MIN"); v != "" {
		if cfg.FundRateLimitPerMin, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid FUND_RATE_LIMIT_PER_MIN: %w", err)
		}
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.AuthTokenSecret == "" {
			return Config{}, fmt.Errorf("AUTH_TOKEN_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}
	if cfg.AuthTokenSecret == "" {
		cfg.AuthTokenSecret = "dev-secret"
	}

	return cfg, nil
}

// IsDevelopment reports whether in-memory backends may stand in for Postgres and Redis.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration reads NAME_SECONDS as an integer, else NAME as a Go duration.
func getDuration(name string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(name + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", name, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}
