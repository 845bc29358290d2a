// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Ollama        OllamaConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps request bodies on the JSON API.
	MaxBodyBytes int64

	// SecureCookies marks session cookies Secure. Enable behind TLS.
	SecureCookies bool
}

// StorageConfig holds the SQLite database location.
type StorageConfig struct {
	DatabasePath string
}

// AuthConfig holds session and login-throttling settings.
type AuthConfig struct {
	SessionTTL            time.Duration
	LoginFailureThreshold int
	LoginFailureWindow    time.Duration
}

// OllamaConfig holds the backend inference server location.
type OllamaConfig struct {
	URL     string
	Timeout time.Duration
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HEARTH_HOST", "0.0.0.0"),
			Port:            getEnv("HEARTH_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HEARTH_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("HEARTH_WRITE_TIMEOUT", 0), // streaming responses need no write deadline
			IdleTimeout:     getEnvDuration("HEARTH_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("HEARTH_SHUTDOWN_TIMEOUT", 15*time.Second),
			MaxBodyBytes:    getEnvInt64("HEARTH_MAX_BODY_BYTES", 10<<20),
			SecureCookies:   getEnvBool("HEARTH_SECURE_COOKIES", false),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("HEARTH_DB_PATH", "data/hearth.db"),
		},
		Auth: AuthConfig{
			SessionTTL:            getEnvDuration("HEARTH_SESSION_TTL", 30*24*time.Hour),
			LoginFailureThreshold: getEnvInt("HEARTH_LOGIN_FAILURE_THRESHOLD", 5),
			LoginFailureWindow:    getEnvDuration("HEARTH_LOGIN_FAILURE_WINDOW", 15*time.Minute),
		},
		Ollama: OllamaConfig{
			URL:     getEnv("HEARTH_OLLAMA_URL", "http://localhost:11434"),
			Timeout: getEnvDuration("HEARTH_OLLAMA_TIMEOUT", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("HEARTH_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("HEARTH_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.LoginFailureThreshold <= 0 {
		return fmt.Errorf("login failure threshold must be positive")
	}
	if c.Auth.LoginFailureWindow <= 0 {
		return fmt.Errorf("login failure window must be positive")
	}

	u, err := url.Parse(c.Ollama.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid ollama URL %q", c.Ollama.URL)
	}

	return nil
}

// Addr returns the host:port the server listens on.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvInt64 returns a 64-bit integer environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
