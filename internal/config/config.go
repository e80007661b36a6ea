// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Cache         CacheConfig         `yaml:"cache"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Integrity     IntegrityConfig     `yaml:"integrity"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the operational HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig describes run and artifact persistence. The same driver backs
// both the run store and every module's artifact gateway so that a run and
// its artifacts always live in the same mode.
type StoreConfig struct {
	// Driver selects the persistence mode: "memory" or "postgres".
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// Tombstone switches artifact deletion from a row DELETE to an explicit
	// deleted_at tombstone. Tombstoned rows stay observably absent.
	Tombstone bool `yaml:"tombstone"`
}

// CacheConfig describes the optional step-outcome cache consulted before the
// run store on idempotent replays.
type CacheConfig struct {
	// Driver: "none", "memory", or "redis".
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DefinitionsConfig describes where workflow definition YAML files live.
type DefinitionsConfig struct {
	Directory string `yaml:"directory"`
}

// PipelineConfig carries per-step defaults and QC settings. Per-step values
// in the workflow definition override the defaults here.
type PipelineConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout"`
	Retry       RetryConfig   `yaml:"retry"`
	QCThreshold float64       `yaml:"qc_threshold"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// RetryConfig describes default retry behavior for recoverable step errors.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// BreakerConfig describes the per-step circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// IntegrityConfig describes the background consistency audit.
type IntegrityConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "PRESSLINE_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			AddrEnv:    "PRESSLINE_REDIS_ADDR",
			DefaultTTL: 24 * time.Hour,
		},
		Definitions: DefinitionsConfig{
			Directory: "/definitions",
		},
		Pipeline: PipelineConfig{
			StepTimeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
			QCThreshold: 0.7,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Integrity: IntegrityConfig{
			CheckInterval: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}
	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("cache.driver %q is not supported (none, memory, redis)", c.Cache.Driver))
	}
	if c.Pipeline.QCThreshold < 0 || c.Pipeline.QCThreshold > 1 {
		errs = append(errs, "pipeline.qc_threshold must be between 0 and 1")
	}
	if c.Pipeline.Retry.MaxAttempts < 1 {
		errs = append(errs, "pipeline.retry.max_attempts must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads PRESSLINE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRESSLINE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRESSLINE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("PRESSLINE_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := os.Getenv("PRESSLINE_DEFINITIONS_DIR"); v != "" {
		cfg.Definitions.Directory = v
	}
	if v := os.Getenv("PRESSLINE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
