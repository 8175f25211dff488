// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool
	Refresh  RefreshConfig
}

// RefreshConfig holds the tuning surface for the market-data refresh
// subsystem. These are configuration, not behavior: the defaults mirror
// the documented operational settings (retry after 60s, three attempts,
// 10/15 minute soft/hard limits, one job at a time per worker).
type RefreshConfig struct {
	RetryDelay       time.Duration // Delay before a failed job becomes available again
	MaxAttempts      int           // Attempts before a job is dead-lettered
	SoftTimeLimit    time.Duration // Cooperative cancellation deadline per job
	HardTimeLimit    time.Duration // Forced abandonment deadline per job
	PriceWorkers     int           // Worker concurrency on the prices queue
	DividendWorkers  int           // Worker concurrency on the dividends queue
	CoordinationLane int           // Worker concurrency on the coordination queue
	PriceInterval    time.Duration // Price sweep interval during market hours
	DividendSince    time.Duration // How far back dividend fetches look
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRACKER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("TRACKER_PORT", 8000),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Refresh: RefreshConfig{
			RetryDelay:       getEnvAsDuration("REFRESH_RETRY_DELAY", 60*time.Second),
			MaxAttempts:      getEnvAsInt("REFRESH_MAX_ATTEMPTS", 3),
			SoftTimeLimit:    getEnvAsDuration("REFRESH_SOFT_TIME_LIMIT", 10*time.Minute),
			HardTimeLimit:    getEnvAsDuration("REFRESH_HARD_TIME_LIMIT", 15*time.Minute),
			PriceWorkers:     getEnvAsInt("REFRESH_PRICE_WORKERS", 2),
			DividendWorkers:  getEnvAsInt("REFRESH_DIVIDEND_WORKERS", 1),
			CoordinationLane: getEnvAsInt("REFRESH_COORDINATION_WORKERS", 1),
			PriceInterval:    getEnvAsDuration("REFRESH_PRICE_INTERVAL", 5*time.Minute),
			DividendSince:    getEnvAsDuration("REFRESH_DIVIDEND_SINCE", 365*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and coherent
func (c *Config) Validate() error {
	if c.Refresh.MaxAttempts < 1 {
		return fmt.Errorf("refresh max attempts must be at least 1, got %d", c.Refresh.MaxAttempts)
	}
	if c.Refresh.HardTimeLimit < c.Refresh.SoftTimeLimit {
		return fmt.Errorf("refresh hard time limit (%s) must not be shorter than soft time limit (%s)",
			c.Refresh.HardTimeLimit, c.Refresh.SoftTimeLimit)
	}
	if c.Refresh.PriceWorkers < 1 || c.Refresh.DividendWorkers < 1 || c.Refresh.CoordinationLane < 1 {
		return fmt.Errorf("refresh worker concurrency must be at least 1 per queue")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
