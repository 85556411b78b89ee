package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
// Scalar values come from environment variables with defaults; banks, display
// name rules and categories come from an optional TOML file.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Storage (empty → in-memory store)
	DatabaseURL string

	// Sync
	DefaultLookback    time.Duration
	ProviderTimeout    time.Duration
	SyncConcurrency    int
	BalanceConcurrency int
	SyncSchedule       string // cron spec, empty disables the scheduler
	SyncCycleTimeout   time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries             int
	InitialBackoff         time.Duration
	ProviderMaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Events (empty URL → events disabled)
	RabbitMQURL   string
	EventExchange string

	// API auth (empty → /v1 is open)
	APIJWTSecret string

	// CORS
	CORSAllowedOrigins []string

	Banks      []BankConfig
	Names      []NameConfig
	Categories map[string][]string
}

// BankConfig describes one provider connection.
type BankConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	TokenEnv string `mapstructure:"token_env"`
	BaseURL  string `mapstructure:"base_url"`

	// Token is resolved from TokenEnv at load time.
	Token string `mapstructure:"-"`
}

// NameConfig is a display name rule from the config file.
type NameConfig struct {
	Kind        string `mapstructure:"kind"`
	Pattern     string `mapstructure:"pattern"`
	DisplayName string `mapstructure:"display_name"`
}

const defaultStarlingURL = "https://api.starlingbank.com"

// Load reads configuration from env and from the TOML file at path.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("default_lookback", 30*24*time.Hour)
	v.SetDefault("provider_timeout", 30*time.Second)
	v.SetDefault("sync_concurrency", 4)
	v.SetDefault("balance_concurrency", 8)
	v.SetDefault("sync_schedule", "")
	v.SetDefault("sync_cycle_timeout", 15*time.Minute)
	v.SetDefault("http_timeout", 10*time.Second)
	v.SetDefault("max_retries", 3)
	v.SetDefault("initial_backoff", 100*time.Millisecond)
	v.SetDefault("provider_max_concurrency", 4)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("rabbitmq_url", "")
	v.SetDefault("event_exchange", "bankfeed.events")
	v.SetDefault("api_jwt_secret", "")
	v.SetDefault("cors_allowed_origins", []string{"https://*", "http://*"})

	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:     v.GetInt("port"),
		LogLevel: v.GetString("log_level"),

		DatabaseURL: v.GetString("database_url"),

		DefaultLookback:    v.GetDuration("default_lookback"),
		ProviderTimeout:    v.GetDuration("provider_timeout"),
		SyncConcurrency:    v.GetInt("sync_concurrency"),
		BalanceConcurrency: v.GetInt("balance_concurrency"),
		SyncSchedule:       v.GetString("sync_schedule"),
		SyncCycleTimeout:   v.GetDuration("sync_cycle_timeout"),

		HTTPTimeout: v.GetDuration("http_timeout"),

		MaxRetries:             v.GetInt("max_retries"),
		InitialBackoff:         v.GetDuration("initial_backoff"),
		ProviderMaxConcurrency: v.GetInt("provider_max_concurrency"),

		CacheTTL: v.GetDuration("cache_ttl"),

		OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),

		RabbitMQURL:   v.GetString("rabbitmq_url"),
		EventExchange: v.GetString("event_exchange"),

		APIJWTSecret: v.GetString("api_jwt_secret"),

		CORSAllowedOrigins: v.GetStringSlice("cors_allowed_origins"),
	}

	if err := v.UnmarshalKey("banks", &cfg.Banks); err != nil {
		return nil, fmt.Errorf("parse banks: %w", err)
	}
	if err := v.UnmarshalKey("names", &cfg.Names); err != nil {
		return nil, fmt.Errorf("parse names: %w", err)
	}
	if err := v.UnmarshalKey("categories", &cfg.Categories); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}

	if len(cfg.Banks) == 0 {
		cfg.Banks = []BankConfig{{Name: "starling", Kind: "starling", TokenEnv: "STARLING_TOKEN"}}
	}
	for i := range cfg.Banks {
		b := &cfg.Banks[i]
		if b.Kind == "" {
			b.Kind = strings.ToLower(b.Name)
		}
		if b.BaseURL == "" && b.Kind == "starling" {
			b.BaseURL = defaultStarlingURL
		}
		if b.TokenEnv != "" {
			b.Token = os.Getenv(b.TokenEnv)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DefaultLookback <= 0 {
		return fmt.Errorf("DEFAULT_LOOKBACK must be positive, got %s", c.DefaultLookback)
	}
	if c.SyncCycleTimeout < 0 {
		return fmt.Errorf("SYNC_CYCLE_TIMEOUT must not be negative, got %s", c.SyncCycleTimeout)
	}
	if c.SyncConcurrency < 1 || c.BalanceConcurrency < 1 {
		return errors.New("SYNC_CONCURRENCY and BALANCE_CONCURRENCY must be at least 1")
	}
	seen := make(map[string]bool, len(c.Banks))
	for _, b := range c.Banks {
		if b.Name == "" {
			return errors.New("bank entry without name")
		}
		if seen[b.Name] {
			return fmt.Errorf("bank %q configured twice", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
