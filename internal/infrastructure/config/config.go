package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Fetcher   FetcherConfig   `yaml:"fetcher" toml:"fetcher"`
	Integrity IntegrityConfig `yaml:"integrity" toml:"integrity"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string   `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host            string   `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
	ShutdownTimeout Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend     string `envconfig:"STORAGE_BACKEND" default:"file" yaml:"backend" toml:"backend"`
	Dir         string `envconfig:"STORAGE_DIR" default:"./data" yaml:"dir" toml:"dir"`
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0" yaml:"redis_url" toml:"redis_url"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"miniapp:" yaml:"redis_prefix" toml:"redis_prefix"`
}

// FetcherConfig locates the manifest API and tunes its client.
type FetcherConfig struct {
	BaseURL         string   `envconfig:"MANIFEST_BASE_URL" yaml:"base_url" toml:"base_url"`
	ProjectID       string   `envconfig:"MANIFEST_PROJECT_ID" yaml:"project_id" toml:"project_id"`
	SubscriptionKey string   `envconfig:"MANIFEST_SUBSCRIPTION_KEY" yaml:"subscription_key" toml:"subscription_key"`
	Preview         bool     `envconfig:"MANIFEST_PREVIEW" default:"false" yaml:"preview" toml:"preview"`
	Language        string   `envconfig:"MANIFEST_LANG" yaml:"language" toml:"language"`
	Timeout         Duration `envconfig:"MANIFEST_TIMEOUT" default:"15s" yaml:"timeout" toml:"timeout"`
	MaxRetries      int      `envconfig:"MANIFEST_MAX_RETRIES" default:"2" yaml:"max_retries" toml:"max_retries"`
	RetryWaitMin    Duration `envconfig:"MANIFEST_RETRY_WAIT_MIN" default:"200ms" yaml:"retry_wait_min" toml:"retry_wait_min"`
	RetryWaitMax    Duration `envconfig:"MANIFEST_RETRY_WAIT_MAX" default:"2s" yaml:"retry_wait_max" toml:"retry_wait_max"`
	RateLimit       float64  `envconfig:"MANIFEST_RATE_LIMIT" default:"0" yaml:"rate_limit" toml:"rate_limit"`
	BreakerFailures uint32   `envconfig:"MANIFEST_BREAKER_FAILURES" default:"5" yaml:"breaker_failures" toml:"breaker_failures"`
	BreakerTimeout  Duration `envconfig:"MANIFEST_BREAKER_TIMEOUT" default:"30s" yaml:"breaker_timeout" toml:"breaker_timeout"`
}

// IntegrityConfig selects the manifest digest algorithm.
type IntegrityConfig struct {
	Algorithm    string   `envconfig:"DIGEST_ALGORITHM" default:"sha256" yaml:"algorithm" toml:"algorithm"`
	DrainTimeout Duration `envconfig:"DIGEST_DRAIN_TIMEOUT" default:"5s" yaml:"drain_timeout" toml:"drain_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// CORSConfig holds cross-origin configuration for the API.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ORIGINS" default:"*" yaml:"allowed_origins" toml:"allowed_origins"`
}

// Duration is a time.Duration written as "15s" in env and config files.
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Backend:     "file",
			Dir:         "./data",
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "miniapp:",
		},
		Fetcher: FetcherConfig{
			Timeout:         Duration(15 * time.Second),
			MaxRetries:      2,
			RetryWaitMin:    Duration(200 * time.Millisecond),
			RetryWaitMax:    Duration(2 * time.Second),
			BreakerFailures: 5,
			BreakerTimeout:  Duration(30 * time.Second),
		},
		Integrity: IntegrityConfig{
			Algorithm:    "sha256",
			DrainTimeout: Duration(5 * time.Second),
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Validate reports every inconsistent setting at once
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "file":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage dir is required for the file backend"))
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for the redis backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Fetcher.MaxRetries < 0 {
		errs = append(errs, errors.New("fetcher max retries must not be negative"))
	}
	if c.Fetcher.RetryWaitMax < c.Fetcher.RetryWaitMin {
		errs = append(errs, errors.New("fetcher retry wait max is below retry wait min"))
	}
	if c.Fetcher.RateLimit < 0 {
		errs = append(errs, errors.New("fetcher rate limit must not be negative"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit rps and burst must be positive when enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}
