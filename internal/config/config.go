package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	DBSource    string `mapstructure:"DB_SOURCE"`
	Port        string `mapstructure:"SERVER_PORT"`
	Env         string `mapstructure:"ENVIRONMENT"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	LedgerEventsExchange string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	WebhookSecret  string `mapstructure:"WEBHOOK_SECRET"`

	IdempotencyTTL     time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	IdempotencyLockTTL time.Duration `mapstructure:"IDEMPOTENCY_LOCK_TTL"`
	MaxRetries         int           `mapstructure:"LEDGER_MAX_RETRIES"`
	LockTimeout        time.Duration `mapstructure:"LOCK_TIMEOUT"`

	DefaultCurrency string `mapstructure:"DEFAULT_CURRENCY"`
	DefaultGoals    string `mapstructure:"DEFAULT_GOALS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var keys = []string{
	"DB_SOURCE", "SERVER_PORT", "ENVIRONMENT", "STORE_DRIVER",
	"REDIS_URL", "RABBITMQ_URL", "LEDGER_EVENTS_EXCHANGE",
	"JWT_SECRET", "INTERNAL_API_KEY", "WEBHOOK_SECRET",
	"IDEMPOTENCY_TTL", "IDEMPOTENCY_LOCK_TTL", "LEDGER_MAX_RETRIES", "LOCK_TIMEOUT",
	"DEFAULT_CURRENCY", "DEFAULT_GOALS", "LOG_LEVEL", "LOG_FORMAT",
}

// Load reads the environment, falling back to an optional .env file in path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("LEDGER_EVENTS_EXCHANGE", "ledger_events")
	v.SetDefault("IDEMPOTENCY_TTL", time.Hour)
	v.SetDefault("IDEMPOTENCY_LOCK_TTL", 30*time.Second)
	v.SetDefault("LEDGER_MAX_RETRIES", 3)
	v.SetDefault("LOCK_TIMEOUT", 5*time.Second)
	v.SetDefault("DEFAULT_CURRENCY", "NGN")
	v.SetDefault("DEFAULT_GOALS", "Emergency Fund:100000")
	v.SetDefault("LOG_LEVEL", "info")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" && (c.StoreDriver != "memory" || c.IsProduction()) {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ParseDefaultGoals reads DEFAULT_GOALS, a comma separated list of name:target.
func ParseDefaultGoals(raw string) ([]domain.NewGoal, error) {
	var goals []domain.NewGoal
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, target, ok := strings.Cut(item, ":")
		name, target = strings.TrimSpace(name), strings.TrimSpace(target)
		if !ok || name == "" || target == "" {
			return nil, fmt.Errorf("invalid DEFAULT_GOALS entry %q, want name:target", item)
		}
		amount, err := decimal.NewFromString(target)
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("invalid DEFAULT_GOALS target %q for %s", target, name)
		}
		goals = append(goals, domain.NewGoal{Name: name, TargetAmount: amount})
	}
	return goals, nil
}
