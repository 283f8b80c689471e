// Package config loads application configuration from environment
// variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Database backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// QuotaConfig is a rate limit for one action: Count admitted actions per
// Window. Count 0 means unrestricted.
type QuotaConfig struct {
	Count  int
	Window time.Duration
}

// Config holds all application configuration.
type Config struct {
	Port string

	// Database
	DatabaseBackend string // "sqlite" or "postgres"
	DatabaseURL     string // Postgres connection string
	SQLitePath      string
	MaxConnections  int

	// Object store
	S3Bucket          string
	S3Region          string
	S3Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PathStyle       bool // Use path-style addressing (required for MinIO)

	// Upload limits
	MaxChunkSize int64

	// Rate limits
	StartQuota QuotaConfig
	ChunkQuota QuotaConfig

	// Reaper
	ReaperInterval time.Duration
	StaleThreshold time.Duration

	// OperationTimeout bounds every call to the object store and database.
	OperationTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseBackend: getEnv("DATABASE_BACKEND", BackendSQLite),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		SQLitePath:      getEnv("SQLITE_PATH", "./sensorvault.db"),
		MaxConnections:  getEnvInt("MAX_CONNECTIONS", 25),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3PathStyle:       getEnvBool("S3_PATH_STYLE", false),

		MaxChunkSize: getEnvInt64("MAX_CHUNK_SIZE", 32*1024*1024), // 32MB

		StartQuota: QuotaConfig{
			Count:  getEnvInt("RATE_LIMIT_START", 20),
			Window: getEnvDuration("RATE_LIMIT_START_WINDOW", time.Hour),
		},
		ChunkQuota: QuotaConfig{
			Count:  getEnvInt("RATE_LIMIT_CHUNK", 600),
			Window: getEnvDuration("RATE_LIMIT_CHUNK_WINDOW", time.Hour),
		},

		ReaperInterval: getEnvDuration("REAPER_INTERVAL", 5*time.Minute),
		StaleThreshold: getEnvDuration("STALE_THRESHOLD", time.Hour),

		OperationTimeout: getEnvDuration("OPERATION_TIMEOUT", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures configuration values are sensible.
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.DatabaseBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("DATABASE_BACKEND must be %q or %q, got %q",
			BackendSQLite, BackendPostgres, c.DatabaseBackend)
	}

	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET cannot be empty")
	}

	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}

	if c.StartQuota.Count < 0 || c.ChunkQuota.Count < 0 {
		return fmt.Errorf("rate limit counts cannot be negative")
	}
	if c.StartQuota.Count > 0 && c.StartQuota.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_START_WINDOW must be positive when RATE_LIMIT_START is set")
	}
	if c.ChunkQuota.Count > 0 && c.ChunkQuota.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_CHUNK_WINDOW must be positive when RATE_LIMIT_CHUNK is set")
	}

	if c.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive, got %s", c.ReaperInterval)
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("STALE_THRESHOLD must be positive, got %s", c.StaleThreshold)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("OPERATION_TIMEOUT must be positive, got %s", c.OperationTimeout)
	}

	return nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 returns the environment variable as an int64 or a default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
// Accepts Go duration syntax ("90s", "5m", "1h").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
