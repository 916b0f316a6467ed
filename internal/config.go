package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string
	Port     uint16
	BaseURL  string
	Feed     FeedConfig
	Sentry   SentryConfig
}

// FeedConfig controls how the address range document is downloaded.
type FeedConfig struct {
	// URL of the feed. Only overridden for tests and mirrors.
	URL string

	// Timeout bounds a single HTTP request
	Timeout time.Duration

	// RetryAttempts is the total number of tries per load, including the first
	RetryAttempts int

	// RetryInitial and RetryMax bound the exponential backoff between tries
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// SentryConfig holds configuration for Sentry error tracking
type SentryConfig struct {
	DSN              string
	Enabled          bool
	Environment      string
	Release          string
	SampleRate       float64
	TracesSampleRate float64
	Debug            bool
}

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	return loadConfig()
}

// loadConfig reads the process environment without touching .env files.
func loadConfig() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvInt("PORT", 3000),
		BaseURL:  getEnv("BASE_URL", "http://localhost:3000"),
		Feed: FeedConfig{
			URL:           getEnv("FEED_URL", "https://ip-ranges.amazonaws.com/ip-ranges.json"),
			Timeout:       getEnvDuration("FEED_TIMEOUT", 30*time.Second),
			RetryAttempts: int(getEnvInt("FEED_RETRY_ATTEMPTS", 4)),
			RetryInitial:  getEnvDuration("FEED_RETRY_INITIAL", 500*time.Millisecond),
			RetryMax:      getEnvDuration("FEED_RETRY_MAX", 10*time.Second),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			Enabled:          getEnvBool("SENTRY_ENABLED", false), // Disabled by default for development
			Environment:      getEnv("SENTRY_ENVIRONMENT", "development"),
			Release:          getEnv("SENTRY_RELEASE", ""),
			SampleRate:       getEnvFloat("SENTRY_SAMPLE_RATE", 1.0),
			TracesSampleRate: getEnvFloat("SENTRY_TRACES_SAMPLE_RATE", 0.0),
			Debug:            getEnvBool("SENTRY_DEBUG", false),
		},
	}

	// Validate env
	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	// Validate log level
	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	if cfg.Feed.RetryAttempts < 1 {
		slog.Default().Warn("Invalid FEED_RETRY_ATTEMPTS. Using 1", slog.Int("value", cfg.Feed.RetryAttempts))
		cfg.Feed.RetryAttempts = 1
	}

	if cfg.Feed.RetryMax < cfg.Feed.RetryInitial {
		return nil, fmt.Errorf("FEED_RETRY_MAX (%s) must not be less than FEED_RETRY_INITIAL (%s)",
			cfg.Feed.RetryMax, cfg.Feed.RetryInitial)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		var intValue uint16
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatValue float64
		if _, err := fmt.Sscanf(value, "%f", &floatValue); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d >= 0 {
			return d
		}
		slog.Default().Warn("Invalid duration. Using default", slog.String("key", key), slog.String("value", value))
	}
	return defaultValue
}
