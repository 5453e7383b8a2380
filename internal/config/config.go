// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Session       SessionConfig       `yaml:"session"`
	Redis         RedisConfig         `yaml:"redis"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Navigation    NavigationConfig    `yaml:"navigation"`
	Backend       BackendConfig       `yaml:"backend"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Submission    SubmissionConfig    `yaml:"submission"`
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

// IdentityConfig describes how login tokens are verified. Exactly one of
// HMACSecretEnv or PublicKeyFile selects the key.
type IdentityConfig struct {
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	Algorithms    []string          `yaml:"algorithms"`
	HMACSecretEnv string            `yaml:"hmac_secret_env"`
	PublicKeyFile string            `yaml:"public_key_file"`
	ClaimPaths    map[string]string `yaml:"claim_paths"`
}

// SessionConfig describes the panel session store.
type SessionConfig struct {
	Store      string        `yaml:"store"`
	TTL        time.Duration `yaml:"ttl"`
	CookieName string        `yaml:"cookie_name"`
	Header     string        `yaml:"header"`
	Secure     bool          `yaml:"secure"`
}

// RedisConfig describes the Redis server shared by Redis-backed stores.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
}

// Address resolves the Redis address, preferring the environment variable.
func (r RedisConfig) Address() string {
	if r.AddrEnv != "" {
		if v := os.Getenv(r.AddrEnv); v != "" {
			return v
		}
	}
	return r.Addr
}

// DefinitionsConfig describes where to find definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	HotReload   bool     `yaml:"hot_reload"`
}

// NavigationConfig describes how the menu is compiled.
type NavigationConfig struct {
	BasePath string `yaml:"base_path"`
	// BuiltinViews names views the frontend renders without a form
	// definition.
	BuiltinViews []string `yaml:"builtin_views"`
}

// BackendConfig describes the federated server API.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	SpecFile       string               `yaml:"spec_file"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// CapabilityConfig describes role expansion.
type CapabilityConfig struct {
	PolicyFile string      `yaml:"policy_file"`
	Cache      CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// SubmissionConfig describes form submission settings.
type SubmissionConfig struct {
	Guard      string        `yaml:"guard"`
	GuardTTL   time.Duration `yaml:"guard_ttl"`
	MaxUpload  string        `yaml:"max_upload"`
	PreviewTTL time.Duration `yaml:"preview_ttl"`
}

// MaxUploadBytes parses MaxUpload ("40 MB").
func (s SubmissionConfig) MaxUploadBytes() (int64, error) {
	n, err := humanize.ParseBytes(s.MaxUpload)
	if err != nil {
		return 0, fmt.Errorf("submission.max_upload %q: %w", s.MaxUpload, err)
	}
	return int64(n), nil
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
					"X-Correlation-Id", "X-Panel-Session"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			Algorithms: []string{"RS256"},
			ClaimPaths: map[string]string{
				"account_id": "sub",
				"username":   "preferred_username",
				"roles":      "roles",
			},
		},
		Session: SessionConfig{
			Store:      DriverMemory,
			TTL:        12 * time.Hour,
			CookieName: "panel_session",
			Header:     "X-Panel-Session",
			Secure:     true,
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
		},
		Navigation: NavigationConfig{
			BasePath:     "/settings",
			BuiltinViews: []string{"domain-list-import"},
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:    2,
				IdempotentOnly: true,
			},
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{TTL: 5 * time.Minute},
		},
		Submission: SubmissionConfig{
			Guard:      DriverMemory,
			GuardTTL:   time.Minute,
			MaxUpload:  "40 MB",
			PreviewTTL: 10 * time.Minute,
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
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Identity.HMACSecretEnv == "" && c.Identity.PublicKeyFile == "" {
		errs = append(errs, "identity.hmac_secret_env or identity.public_key_file is required")
	}
	if c.Identity.HMACSecretEnv != "" && c.Identity.PublicKeyFile != "" {
		errs = append(errs, "identity.hmac_secret_env and identity.public_key_file are mutually exclusive")
	}

	usesRedis := false
	for name, driver := range map[string]string{
		"session.store":    c.Session.Store,
		"submission.guard": c.Submission.Guard,
	} {
		switch driver {
		case DriverMemory:
		case DriverRedis:
			usesRedis = true
		default:
			errs = append(errs, fmt.Sprintf("%s must be %q or %q", name, DriverMemory, DriverRedis))
		}
	}
	if usesRedis && c.Redis.Address() == "" {
		errs = append(errs, "redis.addr or redis.addr_env is required when a redis store is used")
	}

	if _, err := c.Submission.MaxUploadBytes(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		// Map iteration above is unordered.
		sort.Strings(errs)
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads PANEL_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PANEL_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PANEL_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("PANEL_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("PANEL_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("PANEL_SESSION_STORE"); v != "" {
		cfg.Session.Store = v
	}
	if v := os.Getenv("PANEL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PANEL_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
