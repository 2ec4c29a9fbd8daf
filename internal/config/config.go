// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. When DatabaseURL is empty the server runs on
	// the in-memory store (threads and messages do not survive restarts).
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Bootstrap.
	BootstrapAPIKey string // API key seeded for the initial user on startup.
	BootstrapUserID string // User the bootstrap key belongs to.

	// Model provider settings.
	ModelProvider string // "auto", "openai", or "scripted"
	OpenAIAPIKey  string
	OpenAIModel   string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Rate limiting.
	RateLimitRPS   float64 // Sustained requests per second per user; 0 disables limiting.
	RateLimitBurst int

	// Operational settings.
	LogLevel            string
	WaitTimeout         time.Duration // Default synchronous wait budget for POST /executions.
	ExecutionTTL        time.Duration // How long finished executions stay queryable.
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("PARLEY_PORT", 8080),
		ReadTimeout:         envDuration("PARLEY_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("PARLEY_WRITE_TIMEOUT", 90*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		JWTPrivateKeyPath:   envStr("PARLEY_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("PARLEY_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("PARLEY_JWT_EXPIRATION", 24*time.Hour),
		BootstrapAPIKey:     envStr("PARLEY_BOOTSTRAP_API_KEY", ""),
		BootstrapUserID:     envStr("PARLEY_BOOTSTRAP_USER_ID", "admin"),
		ModelProvider:       envStr("PARLEY_MODEL_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIModel:         envStr("PARLEY_OPENAI_MODEL", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "parley"),
		RateLimitRPS:        envFloat("PARLEY_RATE_LIMIT_RPS", 10),
		RateLimitBurst:      envInt("PARLEY_RATE_LIMIT_BURST", 30),
		LogLevel:            envStr("PARLEY_LOG_LEVEL", "info"),
		WaitTimeout:         envDuration("PARLEY_WAIT_TIMEOUT", 22*time.Second),
		ExecutionTTL:        envDuration("PARLEY_EXECUTION_TTL", time.Hour),
		MaxRequestBodyBytes: int64(envInt("PARLEY_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PARLEY_PORT must be between 1 and 65535")
	}
	switch c.ModelProvider {
	case "auto", "openai", "scripted":
	default:
		return fmt.Errorf("config: PARLEY_MODEL_PROVIDER must be auto, openai, or scripted")
	}
	if c.ModelProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required when PARLEY_MODEL_PROVIDER=openai")
	}
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("config: PARLEY_JWT_EXPIRATION must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("config: PARLEY_WAIT_TIMEOUT must be positive")
	}
	if c.ExecutionTTL <= 0 {
		return fmt.Errorf("config: PARLEY_EXECUTION_TTL must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("config: PARLEY_RATE_LIMIT_RPS must not be negative")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: PARLEY_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
