package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/soundspan/soundspan/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	// Acquisition system (Lidarr)
	LidarrURL    string
	LidarrAPIKey string
	RootFolder   string

	// Outbound notifications; empty URL means log-only
	NotifyWebhookURL string

	// MusicBrainz lookup; empty disables artist resolution
	MusicBrainzURL string

	// Orchestrator tuning
	PendingTimeout     time.Duration
	NoSourceTimeout    time.Duration
	ImportTimeout      time.Duration
	FailureDedupWindow time.Duration
	RetryWindowMinutes int
	QueueSyncMissLimit int
	SweepInterval      time.Duration
	SyncInterval       time.Duration
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", constants.DefaultPort),
		DBPath:             getEnv("DB_PATH", constants.DefaultDBPath),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		LidarrURL:          getEnv("LIDARR_URL", constants.DefaultLidarrURL),
		LidarrAPIKey:       getEnv("LIDARR_API_KEY", ""),
		RootFolder:         getEnv("ROOT_FOLDER", constants.DefaultRootFolder),
		NotifyWebhookURL:   getEnv("NOTIFY_WEBHOOK_URL", ""),
		MusicBrainzURL:     getEnv("MUSICBRAINZ_URL", "https://musicbrainz.org/ws/2"),
		PendingTimeout:     getEnvDuration("PENDING_TIMEOUT", constants.DefaultPendingTimeout),
		NoSourceTimeout:    getEnvDuration("NO_SOURCE_TIMEOUT", constants.DefaultNoSourceTimeout),
		ImportTimeout:      getEnvDuration("IMPORT_TIMEOUT", constants.DefaultImportTimeout),
		FailureDedupWindow: getEnvDuration("FAILURE_DEDUP_WINDOW", constants.DefaultFailureDedupWindow),
		RetryWindowMinutes: getEnvInt("RETRY_WINDOW_MINUTES", constants.DefaultRetryWindowMinutes),
		QueueSyncMissLimit: getEnvInt("QUEUE_SYNC_MISS_LIMIT", constants.DefaultQueueSyncMissLimit),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", constants.DefaultSweepInterval),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", constants.DefaultSyncInterval),
	}
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	// Validate Port
	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	// Validate DBPath
	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}

	// Validate LidarrURL
	if c.LidarrURL == "" {
		errors = append(errors, "LIDARR_URL cannot be empty")
	} else {
		if _, err := url.Parse(c.LidarrURL); err != nil {
			errors = append(errors, fmt.Sprintf("LIDARR_URL is not a valid URL: %s", c.LidarrURL))
		}
	}

	if c.RootFolder == "" {
		errors = append(errors, "ROOT_FOLDER cannot be empty")
	}

	// Validate LogLevel
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	// Validate LogFormat
	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if c.RetryWindowMinutes < 0 {
		errors = append(errors, fmt.Sprintf("RETRY_WINDOW_MINUTES cannot be negative, got: %d", c.RetryWindowMinutes))
	}
	if c.QueueSyncMissLimit < 1 {
		errors = append(errors, fmt.Sprintf("QUEUE_SYNC_MISS_LIMIT must be at least 1, got: %d", c.QueueSyncMissLimit))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
