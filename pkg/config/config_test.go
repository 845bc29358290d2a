package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("default port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.SessionTTL != 30*24*time.Hour {
		t.Errorf("default session TTL = %v, want 720h", cfg.Auth.SessionTTL)
	}
	if cfg.Auth.LoginFailureThreshold != 5 {
		t.Errorf("default login failure threshold = %d, want 5", cfg.Auth.LoginFailureThreshold)
	}
	if cfg.Auth.LoginFailureWindow != 15*time.Minute {
		t.Errorf("default login failure window = %v, want 15m", cfg.Auth.LoginFailureWindow)
	}
	if cfg.Ollama.URL != "http://localhost:11434" {
		t.Errorf("default ollama URL = %q", cfg.Ollama.URL)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HEARTH_PORT", "9000")
	t.Setenv("HEARTH_SESSION_TTL", "24h")
	t.Setenv("HEARTH_SECURE_COOKIES", "true")
	t.Setenv("HEARTH_OLLAMA_URL", "http://ollama.internal:11434")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Server.Port)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour {
		t.Errorf("session TTL = %v, want 24h", cfg.Auth.SessionTTL)
	}
	if !cfg.Server.SecureCookies {
		t.Error("secure cookies should be enabled")
	}
	if cfg.Ollama.URL != "http://ollama.internal:11434" {
		t.Errorf("ollama URL = %q", cfg.Ollama.URL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty port", func(c *Config) { c.Server.Port = "" }, true},
		{"non-numeric port", func(c *Config) { c.Server.Port = "http" }, true},
		{"empty db path", func(c *Config) { c.Storage.DatabasePath = "" }, true},
		{"zero session ttl", func(c *Config) { c.Auth.SessionTTL = 0 }, true},
		{"zero threshold", func(c *Config) { c.Auth.LoginFailureThreshold = 0 }, true},
		{"bad ollama url", func(c *Config) { c.Ollama.URL = "not-a-url" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_DURATION_UNSET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() default = %v, want 1m", got)
	}

	t.Setenv("TEST_DURATION_BAD", "soon")
	if got := getEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() invalid = %v, want default 1m", got)
	}
}
