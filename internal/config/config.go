package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	// LogFormat is "json", "pretty" or "auto" (pretty on a terminal).
	LogFormat string
	LogFile   string

	// DatabaseURL selects the store backend: sqlite://<path>, memory:// or
	// a postgres:// connection string.
	DatabaseURL string
	MaxDBConns  int32
	// RedisURL enables the extraction queue. Empty disables it.
	RedisURL string

	GeminiAPIKey    string
	GeminiModelName string
	ExtractTimeout  time.Duration
	// PipelineTimeout bounds one full extract, aggregate and load run.
	PipelineTimeout time.Duration

	ImageDir       string
	JSONDir        string
	AggregatedDir  string
	MaxUploadBytes int64

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
	// ScanCron schedules a pipeline run over ImageDir. Empty disables it.
	ScanCron string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "auto"),
		LogFile:         getEnv("LOG_FILE", ""),
		DatabaseURL:     getEnv("DATABASE_URL", "sqlite://data/gym_schedule.db"),
		MaxDBConns:      int32(getEnvInt("MAX_DB_CONNS", 4)),
		RedisURL:        getEnv("REDIS_URL", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModelName: getEnv("GEMINI_MODEL_NAME", "gemini-2.0-flash"),
		ExtractTimeout:  getEnvDuration("EXTRACT_TIMEOUT", 2*time.Minute),
		PipelineTimeout: getEnvDuration("PIPELINE_TIMEOUT", 30*time.Minute),
		ImageDir:        getEnv("IMAGE_DIR", "data/img"),
		JSONDir:         getEnv("JSON_DIR", "data/json"),
		AggregatedDir:   getEnv("AGGREGATED_DIR", "data/aggregated"),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 10)) * 1024 * 1024,
		AllowedOrigins:  parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
		ScanCron:        getEnv("SCAN_CRON", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
