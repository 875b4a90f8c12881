package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend   string `envconfig:"STORE_BACKEND" default:"postgres"`
	PGDSN          string `envconfig:"PG_DSN"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"true"`

	RedisAddr         string          `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	QueryCacheTTL     time.Duration   `envconfig:"QUERY_CACHE_TTL" default:"2m"`
	FlowLockTTL       time.Duration   `envconfig:"FLOW_LOCK_TTL" default:"15s"`
	LowStockThreshold decimal.Decimal `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`

	RFQSweepCron         string        `envconfig:"RFQ_SWEEP_CRON" default:"* * * * *"`
	IdempotencyRetention time.Duration `envconfig:"IDEMPOTENCY_RETENTION" default:"72h"`
	WorkerConcurrency    int           `envconfig:"WORKER_CONCURRENCY" default:"5"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations envconfig cannot express.
func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("config: PG_DSN must be provided for the %s backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.LowStockThreshold.IsNegative() {
		return fmt.Errorf("config: LOW_STOCK_THRESHOLD must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// UsesPostgres reports whether documents and the ledger live in Postgres.
func (c *Config) UsesPostgres() bool {
	return c != nil && c.StoreBackend == BackendPostgres
}
