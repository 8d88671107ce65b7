// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the polyyoung engine.
type Config struct {
	// Polymarket data-api (trade feed + wallet activity)
	DataAPIURL string

	// Polymarket Gamma API (market metadata for WS subscriptions)
	GammaAPIURL string

	// Polymarket WebSocket (optional secondary live feed)
	PolymarketWSURL string
	EnableWS        bool

	// Ingestion cycle
	FetchInterval time.Duration
	FetchLimit    int
	TakerOnly     bool

	// Wallet age classification
	MaxAgeDays    int
	WalletTTL     time.Duration
	LookupBudget  int
	LookupTimeout time.Duration

	// Ledger / dedup bounds
	MaxLedgerRows int
	DedupCapacity int

	// Accumulation window
	AccumWindow    time.Duration
	AccumThreshold float64

	// Backfill sweep
	BackfillScanRows int
	BackfillInterval time.Duration

	// Redis (optional age-cache persistence)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Postgres (optional trade archive)
	PostgresDSN string

	// HTTP surfaces
	APIPort     int
	MonitorPort int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DataAPIURL:  getEnv("DATA_API_URL", "https://data-api.polymarket.com"),
		GammaAPIURL: getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),

		PolymarketWSURL: getEnv("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/"),
		EnableWS:        getEnvBool("ENABLE_WS", false),

		FetchInterval: time.Duration(getEnvFloat("FETCH_INTERVAL_SECONDS", 2.5) * float64(time.Second)),
		FetchLimit:    getEnvInt("FETCH_LIMIT", 800),
		TakerOnly:     getEnvBool("TAKER_ONLY", true),

		MaxAgeDays:    getEnvInt("MAX_AGE_DAYS", 7),
		WalletTTL:     time.Duration(getEnvInt("WALLET_TTL_SECONDS", 6*3600)) * time.Second,
		LookupBudget:  getEnvInt("MAX_LOOKUPS_PER_CYCLE", 60),
		LookupTimeout: time.Duration(getEnvInt("LOOKUP_TIMEOUT_MS", 3800)) * time.Millisecond,

		MaxLedgerRows: getEnvInt("MAX_LEDGER_ROWS", 20000),
		DedupCapacity: getEnvInt("DEDUP_CAPACITY", 50000),

		AccumWindow:    time.Duration(getEnvInt("ACCUM_WINDOW_SECONDS", 24*3600)) * time.Second,
		AccumThreshold: getEnvFloat("ACCUM_THRESHOLD_USD", 1000),

		BackfillScanRows: getEnvInt("BACKFILL_SCAN_ROWS", 8000),
		BackfillInterval: time.Duration(getEnvInt("BACKFILL_INTERVAL_SECONDS", 30)) * time.Second,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		APIPort:     getEnvInt("API_PORT", 8080),
		MonitorPort: getEnvInt("MONITOR_PORT", 9090),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.DataAPIURL == "" {
		return fmt.Errorf("DATA_API_URL is required")
	}

	if c.FetchInterval < 500*time.Millisecond {
		return fmt.Errorf("FETCH_INTERVAL_SECONDS must be at least 0.5")
	}

	if c.FetchLimit < 1 || c.FetchLimit > 10000 {
		return fmt.Errorf("FETCH_LIMIT must be between 1 and 10000")
	}

	if c.MaxAgeDays < 1 {
		return fmt.Errorf("MAX_AGE_DAYS must be at least 1")
	}

	if c.LookupBudget < 1 {
		return fmt.Errorf("MAX_LOOKUPS_PER_CYCLE must be at least 1")
	}

	if c.MaxLedgerRows < 1 {
		return fmt.Errorf("MAX_LEDGER_ROWS must be at least 1")
	}

	if c.DedupCapacity < 1 {
		return fmt.Errorf("DEDUP_CAPACITY must be at least 1")
	}

	if c.AccumWindow <= 0 {
		return fmt.Errorf("ACCUM_WINDOW_SECONDS must be positive")
	}

	if c.AccumThreshold < 0 {
		return fmt.Errorf("ACCUM_THRESHOLD_USD must not be negative")
	}

	if c.BackfillScanRows < 1 {
		return fmt.Errorf("BACKFILL_SCAN_ROWS must be at least 1")
	}

	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535")
	}

	if c.MonitorPort < 1 || c.MonitorPort > 65535 {
		return fmt.Errorf("MONITOR_PORT must be between 1 and 65535")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
