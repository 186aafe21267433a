package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// ChunkMaxBytes bounds the serialized payload of one batch chunk.
	ChunkMaxBytes int
	// UploadConcurrency bounds parallel source staging uploads.
	UploadConcurrency int
	// ExportConcurrency bounds parallel artifact fetches during export.
	ExportConcurrency int
	// CleanupMaxAttempts bounds retries of the asynchronous external cleanup.
	CleanupMaxAttempts int

	ReconcilePollInterval time.Duration
	ExternalCallTimeout   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),

		ChunkMaxBytes:      getEnvInt("BATCH_CHUNK_MAX_BYTES", 18*1024*1024),
		UploadConcurrency:  getEnvInt("UPLOAD_CONCURRENCY", 10),
		ExportConcurrency:  getEnvInt("EXPORT_CONCURRENCY", 6),
		CleanupMaxAttempts: getEnvInt("CLEANUP_MAX_ATTEMPTS", 3),

		ReconcilePollInterval: time.Second * time.Duration(getEnvInt("RECONCILE_POLL_SECONDS", 30)),
		ExternalCallTimeout:   time.Second * time.Duration(getEnvInt("EXTERNAL_CALL_TIMEOUT_SECONDS", 60)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ChunkMaxBytes <= 0 {
		return nil, fmt.Errorf("BATCH_CHUNK_MAX_BYTES must be positive")
	}
	if cfg.ExportConcurrency <= 0 {
		cfg.ExportConcurrency = 6
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 10
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
