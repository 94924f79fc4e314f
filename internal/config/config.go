package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema       string        `mapstructure:"DB_SCHEMA"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthTokenTTL   time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`

	SchedulerEnabled      bool          `mapstructure:"ALERT_SCHEDULER_ENABLED"`
	CheckInterval         time.Duration `mapstructure:"ALERT_CHECK_INTERVAL"`
	RecencyWindow         time.Duration `mapstructure:"ALERT_RECENCY_WINDOW"`
	WarningRatio          float64       `mapstructure:"ALERT_WARNING_RATIO"`
	CriticalRatio         float64       `mapstructure:"ALERT_CRITICAL_RATIO"`
	TrialWarningDays      int           `mapstructure:"ALERT_TRIAL_WARNING_DAYS"`
	DefaultReportsAllowed int           `mapstructure:"DEFAULT_REPORTS_ALLOWED"`
	PassLockTTL           time.Duration `mapstructure:"ALERT_PASS_LOCK_TTL"`

	EmailEnabled bool          `mapstructure:"EMAIL_ENABLED"`
	EmailFrom    string        `mapstructure:"EMAIL_FROM"`
	EmailDelay   time.Duration `mapstructure:"EMAIL_DELAY"`
	EmailTimeout time.Duration `mapstructure:"EMAIL_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DB_SCHEMA", "REDIS_URL", "AUTH_SIGNING_KEY", "AUTH_TOKEN_TTL", "CORS_ORIGINS",
	"ALERT_SCHEDULER_ENABLED", "ALERT_CHECK_INTERVAL", "ALERT_RECENCY_WINDOW",
	"ALERT_WARNING_RATIO", "ALERT_CRITICAL_RATIO", "ALERT_TRIAL_WARNING_DAYS",
	"DEFAULT_REPORTS_ALLOWED", "ALERT_PASS_LOCK_TTL",
	"EMAIL_ENABLED", "EMAIL_FROM", "EMAIL_DELAY", "EMAIL_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("AUTH_TOKEN_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ALERT_SCHEDULER_ENABLED", true)
	v.SetDefault("ALERT_CHECK_INTERVAL", "5m")
	v.SetDefault("ALERT_RECENCY_WINDOW", "24h")
	v.SetDefault("ALERT_WARNING_RATIO", 0.8)
	v.SetDefault("ALERT_CRITICAL_RATIO", 1.0)
	v.SetDefault("ALERT_TRIAL_WARNING_DAYS", 7)
	v.SetDefault("DEFAULT_REPORTS_ALLOWED", 10)
	v.SetDefault("ALERT_PASS_LOCK_TTL", "2m")
	v.SetDefault("EMAIL_ENABLED", true)
	v.SetDefault("EMAIL_FROM", "alerts@neurosense360.com")
	v.SetDefault("EMAIL_DELAY", "1s")
	v.SetDefault("EMAIL_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether clinics and alerts are kept in Postgres.
func (c *Config) UsesPostgres() bool {
	return c.StoreDriver == StorePostgres
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SIGNING_KEY must be set so that issued tokens are verifiable.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreDriver)
	}

	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV is %q", c.Env)
	}

	if c.WarningRatio <= 0 || c.CriticalRatio <= 0 {
		return fmt.Errorf("alert ratios must be positive")
	}
	if c.WarningRatio >= c.CriticalRatio {
		return fmt.Errorf("ALERT_WARNING_RATIO (%v) must be below ALERT_CRITICAL_RATIO (%v)", c.WarningRatio, c.CriticalRatio)
	}
	if c.TrialWarningDays < 0 {
		return fmt.Errorf("ALERT_TRIAL_WARNING_DAYS must not be negative")
	}
	if c.DefaultReportsAllowed <= 0 {
		return fmt.Errorf("DEFAULT_REPORTS_ALLOWED must be positive")
	}
	if c.CheckInterval <= 0 || c.RecencyWindow <= 0 {
		return fmt.Errorf("ALERT_CHECK_INTERVAL and ALERT_RECENCY_WINDOW must be positive")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}
	return nil
}
