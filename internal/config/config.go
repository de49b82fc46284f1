package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/infra/postgresql"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/retry"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	OrderServiceURL string `env:"ORDER_SERVICE_URL,required=true"`
	PriceServiceURL string `env:"PRICE_SERVICE_URL,required=true"`

	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=50"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`

	BatchConcurrency int `env:"BATCH_CONCURRENCY,default=4"`
	BatchMaxUnits    int `env:"BATCH_MAX_UNITS,default=100"`

	WebhookMaxRetries int  `env:"WEBHOOK_MAX_RETRIES,default=5"`
	WebhookAutoRetry  bool `env:"WEBHOOK_AUTO_RETRY,default=false"`

	PlanMaxFailures   int    `env:"PLAN_MAX_FAILURES,default=3"`
	PlanRunSchedule   string `env:"PLAN_RUN_SCHEDULE,default=0 9 * * *"`
	PlanRetrySchedule string `env:"PLAN_RETRY_SCHEDULE,default=0 15 * * *"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=5"`

	// Durations are read as text and parsed by Load.
	BatchUnitPauseRaw    string `env:"BATCH_UNIT_PAUSE,default=100ms"`
	WebhookTimeoutRaw    string `env:"WEBHOOK_TIMEOUT,default=10s"`
	WebhookGraceRaw      string `env:"WEBHOOK_PENDING_GRACE,default=1m"`
	RetryBaseDelayRaw    string `env:"RETRY_BASE_DELAY,default=1s"`
	RetryMaxDelayRaw     string `env:"RETRY_MAX_DELAY,default=5m"`
	RetryScanIntervalRaw string `env:"RETRY_SCAN_INTERVAL,default=5s"`
	DBConnMaxLifetimeRaw string `env:"DB_CONN_MAX_LIFETIME,default=1h"`
	DBSlowQueryRaw       string `env:"DB_SLOW_QUERY,default=200ms"`
	RedisOpTimeoutRaw    string `env:"REDIS_OP_TIMEOUT,default=500ms"`

	BatchUnitPause    time.Duration
	WebhookTimeout    time.Duration
	WebhookGrace      time.Duration
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RetryScanInterval time.Duration
	DBConnMaxLifetime time.Duration
	DBSlowQuery       time.Duration
	RedisOpTimeout    time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// PostgresPool returns the connection settings for the job store.
func (c *Config) PostgresPool() postgresql.Options {
	return postgresql.Options{
		DSN:             c.DatabaseDSN,
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
		SlowQuery:       c.DBSlowQuery,
	}
}

// WebhookRetryPolicy bounds manual and automatic webhook redelivery.
func (c *Config) WebhookRetryPolicy() retry.Policy {
	return retry.NewPolicy(c.WebhookMaxRetries, c.RetryBaseDelay, c.RetryMaxDelay)
}

// PlanRetryPolicy bounds consecutive installment failures before a plan fails.
func (c *Config) PlanRetryPolicy() retry.Policy {
	return retry.NewPolicy(c.PlanMaxFailures, c.RetryBaseDelay, c.RetryMaxDelay)
}

func (c *Config) parseDurations() error {
	targets := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{name: "BATCH_UNIT_PAUSE", raw: c.BatchUnitPauseRaw, dst: &c.BatchUnitPause},
		{name: "WEBHOOK_TIMEOUT", raw: c.WebhookTimeoutRaw, dst: &c.WebhookTimeout},
		{name: "WEBHOOK_PENDING_GRACE", raw: c.WebhookGraceRaw, dst: &c.WebhookGrace},
		{name: "RETRY_BASE_DELAY", raw: c.RetryBaseDelayRaw, dst: &c.RetryBaseDelay},
		{name: "RETRY_MAX_DELAY", raw: c.RetryMaxDelayRaw, dst: &c.RetryMaxDelay},
		{name: "RETRY_SCAN_INTERVAL", raw: c.RetryScanIntervalRaw, dst: &c.RetryScanInterval},
		{name: "DB_CONN_MAX_LIFETIME", raw: c.DBConnMaxLifetimeRaw, dst: &c.DBConnMaxLifetime},
		{name: "DB_SLOW_QUERY", raw: c.DBSlowQueryRaw, dst: &c.DBSlowQuery},
		{name: "REDIS_OP_TIMEOUT", raw: c.RedisOpTimeoutRaw, dst: &c.RedisOpTimeout},
	}
	for _, target := range targets {
		d, err := time.ParseDuration(target.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", target.name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", target.name)
		}
		*target.dst = d
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.BatchMaxUnits < 1:
		return fmt.Errorf("BATCH_MAX_UNITS must be at least 1")
	case c.WebhookMaxRetries < 1:
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be at least 1")
	case c.PlanMaxFailures < 1:
		return fmt.Errorf("PLAN_MAX_FAILURES must be at least 1")
	case c.WebhookTimeout == 0:
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	case c.WebhookGrace <= c.WebhookTimeout:
		return fmt.Errorf("WEBHOOK_PENDING_GRACE must exceed WEBHOOK_TIMEOUT")
	case c.RetryScanInterval == 0:
		return fmt.Errorf("RETRY_SCAN_INTERVAL must be positive")
	case c.DBMaxOpenConns < 1 || c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns:
		return fmt.Errorf("DB_MAX_IDLE_CONNS must be between 0 and DB_MAX_OPEN_CONNS (at least 1)")
	}
	return nil
}
