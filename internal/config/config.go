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

	// Template library settings.
	TemplatesPath   string // Local checkout of the template repository.
	TemplatesRemote string // Optional git URL to clone when the local path is absent.
	GitAuthorName   string
	GitAuthorEmail  string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxUploadBytes      int64 // Maximum template archive upload size in bytes.
	MaxRequestBodyBytes int64 // Maximum JSON request body size in bytes.

	// Rate limit settings.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("LOOM_PORT", 8080),
		ReadTimeout:         envDuration("LOOM_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("LOOM_WRITE_TIMEOUT", 60*time.Second),
		TemplatesPath:       envStr("LOOM_TEMPLATES_PATH", defaultTemplatesPath()),
		TemplatesRemote:     envStr("LOOM_TEMPLATES_REMOTE", ""),
		GitAuthorName:       envStr("LOOM_GIT_AUTHOR_NAME", "Loom"),
		GitAuthorEmail:      envStr("LOOM_GIT_AUTHOR_EMAIL", "loom@localhost"),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("LOOM_OTEL_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "loom"),
		LogLevel:            envStr("LOOM_LOG_LEVEL", "info"),
		MaxUploadBytes:      int64(envInt("LOOM_MAX_UPLOAD_BYTES", 100*1024*1024)),  // 100 MB default
		MaxRequestBodyBytes: int64(envInt("LOOM_MAX_REQUEST_BODY_BYTES", 1024*1024)), // 1 MB default
		RateLimitRPS:        envFloat("LOOM_RATE_LIMIT_RPS", 50),
		RateLimitBurst:      envInt("LOOM_RATE_LIMIT_BURST", 100),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.TemplatesPath == "" {
		return fmt.Errorf("config: LOOM_TEMPLATES_PATH is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: LOOM_PORT must be a valid port number")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: LOOM_MAX_UPLOAD_BYTES must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: LOOM_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit settings must be positive")
	}
	return nil
}

func defaultTemplatesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "templates"
	}
	return home + string(os.PathSeparator) + ".loom" + string(os.PathSeparator) + "templates"
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

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
