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
	Identity      IdentityConfig      `yaml:"identity"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Agent         AgentConfig         `yaml:"agent"`
	Store         StoreConfig         `yaml:"store"`
	Locks         LocksConfig         `yaml:"locks"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes how tenant context is extracted from requests.
// Bearer tokens are verified with an HMAC secret; header tenancy is a
// development convenience and must stay off in production.
type IdentityConfig struct {
	SecretEnv          string            `yaml:"secret_env"`
	Issuer             string            `yaml:"issuer"`
	Audience           string            `yaml:"audience"`
	ClaimPaths         map[string]string `yaml:"claim_paths"`
	AllowHeaderTenancy bool              `yaml:"allow_header_tenancy"`
}

// DefinitionsConfig describes where to find flow definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// AgentConfig describes the external agent capability endpoint.
type AgentConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig describes rate-limit retry settings for the agent executor.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// CircuitBreakerConfig describes circuit breaker settings for the agent
// capability.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// StoreConfig describes checkpoint persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // "memory" or "postgres"
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LocksConfig describes per-flow lock manager settings.
type LocksConfig struct {
	Driver  string        `yaml:"driver"` // "memory" or "redis"
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
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
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Account-Id", "X-Engagement-Id", "X-Correlation-Id"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			SecretEnv: "FLOE_IDENTITY_SECRET",
			ClaimPaths: map[string]string{
				"account_id":    "account_id",
				"engagement_id": "engagement_id",
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
		},
		Agent: AgentConfig{
			Timeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    500 * time.Millisecond,
				BackoffMultiplier: 2.0,
				BackoffMax:        10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "FLOE_STORE_DSN",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Locks: LocksConfig{
			Driver:  "memory",
			AddrEnv: "FLOE_LOCKS_ADDR",
			TTL:     2 * time.Minute,
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
	if c.Agent.BaseURL == "" {
		errs = append(errs, "agent.base_url is required")
	}
	if c.Agent.Retry.MaxAttempts < 1 {
		errs = append(errs, "agent.retry.max_attempts must be at least 1")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	switch c.Locks.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("locks.driver %q is not supported", c.Locks.Driver))
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads FLOE_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FLOE_AGENT_BASE_URL"); v != "" {
		cfg.Agent.BaseURL = v
	}
	if v := os.Getenv("FLOE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FLOE_LOCKS_DRIVER"); v != "" {
		cfg.Locks.Driver = v
	}
	if v := os.Getenv("FLOE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
