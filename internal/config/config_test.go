package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.HandlerTimeout != 20*time.Second {
		t.Errorf("Server.HandlerTimeout = %v, want 20s", cfg.Server.HandlerTimeout)
	}
	if cfg.Identity.Audience != "fedipanel" {
		t.Errorf("Identity.Audience = %q, want fedipanel", cfg.Identity.Audience)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("Session.TTL = %v, want 1h", cfg.Session.TTL)
	}
	if cfg.Backend.Retry.MaxAttempts != 3 {
		t.Errorf("Backend.Retry.MaxAttempts = %d, want 3", cfg.Backend.Retry.MaxAttempts)
	}
	// Unset fields keep their defaults.
	if cfg.Session.CookieName != "panel_session" {
		t.Errorf("Session.CookieName = %q, want panel_session", cfg.Session.CookieName)
	}
	if cfg.Navigation.BasePath != "/settings" {
		t.Errorf("Navigation.BasePath = %q, want /settings", cfg.Navigation.BasePath)
	}

	n, err := cfg.Submission.MaxUploadBytes()
	if err != nil {
		t.Fatalf("MaxUploadBytes() error = %v", err)
	}
	if n != 8_000_000 {
		t.Errorf("MaxUploadBytes() = %d, want 8000000", n)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() without an identity key should return error")
	}
	if !strings.Contains(err.Error(), "identity.hmac_secret_env") {
		t.Errorf("error = %v, want mention of identity key", err)
	}
}

func TestLoad_redis_without_addr(t *testing.T) {
	_, err := Load("testdata/redis_without_addr.yaml")
	if err == nil {
		t.Fatal("Load() with redis store and no address should return error")
	}
	if !strings.Contains(err.Error(), "redis.addr") {
		t.Errorf("error = %v, want mention of redis.addr", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Session.Store != DriverMemory {
		t.Errorf("default Session.Store = %q, want memory", cfg.Session.Store)
	}
	if cfg.Submission.Guard != DriverMemory {
		t.Errorf("default Submission.Guard = %q, want memory", cfg.Submission.Guard)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.Identity.ClaimPaths["account_id"] != "sub" {
		t.Errorf("default account_id claim = %q, want sub", cfg.Identity.ClaimPaths["account_id"])
	}
	if n, err := cfg.Submission.MaxUploadBytes(); err != nil || n != 40_000_000 {
		t.Errorf("default MaxUploadBytes() = %d, %v", n, err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PANEL_SERVER_PORT", "3000")
	t.Setenv("PANEL_IDENTITY_ISSUER", "https://env-issuer.example")
	t.Setenv("PANEL_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("PANEL_BACKEND_BASE_URL", "https://env-backend.example")
	t.Setenv("PANEL_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.example" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Backend.BaseURL != "https://env-backend.example" {
		t.Errorf("Backend.BaseURL = %q, want env override", cfg.Backend.BaseURL)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestRedisConfig_Address(t *testing.T) {
	r := RedisConfig{Addr: "localhost:6379", AddrEnv: "PANEL_TEST_REDIS"}
	if got := r.Address(); got != "localhost:6379" {
		t.Errorf("Address() = %q, want file value", got)
	}
	t.Setenv("PANEL_TEST_REDIS", "redis:6380")
	if got := r.Address(); got != "redis:6380" {
		t.Errorf("Address() = %q, want env value", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Backend.BaseURL = "https://social.example.com"
		cfg.Identity.HMACSecretEnv = "SECRET"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no backend", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url"},
		{"both keys", func(c *Config) { c.Identity.PublicKeyFile = "key.pem" }, "mutually exclusive"},
		{"bad guard", func(c *Config) { c.Submission.Guard = "etcd" }, "submission.guard"},
		{"bad upload", func(c *Config) { c.Submission.MaxUpload = "lots" }, "submission.max_upload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	// File sets port 9090, env sets 5555.
	t.Setenv("PANEL_SERVER_PORT", "5555")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 (env override beats file)", cfg.Server.Port)
	}
}
