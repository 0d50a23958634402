// Package config loads service configuration from an optional .env file, an
// optional YAML file and PAYSYNC_ environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PAYSYNC"

// Store backends.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Sync      SyncConfig      `mapstructure:"sync"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Plans     PlansConfig     `mapstructure:"plans"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

type StripeConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance" validate:"gte=0"`
}

type StoreConfig struct {
	Backend          string `mapstructure:"backend" validate:"oneof=memory postgres firestore"`
	DatabaseURL      string `mapstructure:"database_url" validate:"required_if=Backend postgres"`
	AutoMigrate      bool   `mapstructure:"auto_migrate"`
	FirestoreProject string `mapstructure:"firestore_project" validate:"required_if=Backend firestore"`
}

// RedisConfig enables the shared event log and sync lock when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type SyncConfig struct {
	Interval            time.Duration `mapstructure:"interval" validate:"gte=0"`
	Mode                string        `mapstructure:"mode" validate:"oneof=active_only all"`
	Concurrency         int           `mapstructure:"concurrency" validate:"gte=1,lte=100"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PlanMonitorInterval time.Duration `mapstructure:"plan_monitor_interval" validate:"gte=0"`
	AutoInsertPlans     bool          `mapstructure:"auto_insert_plans"`
	BreakerThreshold    int           `mapstructure:"breaker_threshold" validate:"gte=1"`
	BreakerReset        time.Duration `mapstructure:"breaker_reset" validate:"gt=0"`
}

type RateLimitConfig struct {
	// Requests is the per-IP budget per Window; a negative value disables limiting.
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
}

// AdminConfig enables the admin API when Token is set.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace" validate:"required_if=Enabled true"`
}

type PlansConfig struct {
	// SeedFile is a YAML plan catalogue inserted at startup when set.
	SeedFile string `mapstructure:"seed_file"`
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// EnvFile is loaded with godotenv when present. Missing files are ignored.
	EnvFile string
	// ConfigFile is an optional YAML file.
	ConfigFile string
}

var defaults = map[string]interface{}{
	"http.addr":                  ":8080",
	"http.read_timeout":          "15s",
	"http.write_timeout":         "60s",
	"http.shutdown_timeout":      "20s",
	"stripe.api_key":             "",
	"stripe.webhook_secret":      "",
	"stripe.signature_tolerance": "5m",
	"store.backend":              BackendMemory,
	"store.database_url":         "",
	"store.auto_migrate":         false,
	"store.firestore_project":    "",
	"redis.addr":                 "",
	"redis.password":             "",
	"redis.db":                   0,
	"sync.interval":              "1h",
	"sync.mode":                  "active_only",
	"sync.concurrency":           5,
	"sync.timeout":               "10s",
	"sync.plan_monitor_interval": "24h",
	"sync.auto_insert_plans":     false,
	"sync.breaker_threshold":     5,
	"sync.breaker_reset":         "30s",
	"rate_limit.requests":        100,
	"rate_limit.window":          "1m",
	"admin.token":                "",
	"log.level":                  "info",
	"log.format":                 "json",
	"metrics.enabled":            true,
	"metrics.namespace":          "paysync",
	"plans.seed_file":            "",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates configuration.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
