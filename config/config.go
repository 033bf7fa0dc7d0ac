package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	// Storage backend: postgres (default) or memory for local runs
	StorageBackend string

	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// HTTP receiver
	HTTPPort      int
	WebhookSecret string // expected X-Webhook-Secret; empty accepts every sender

	// Dispatcher configuration
	Dispatch DispatchConfig

	// Rollup configuration
	Rollup RollupConfig

	// Schedule holds cron specs for the `schedule` command
	Schedule ScheduleConfig
}

// DispatchConfig holds webhook dispatcher parameters
type DispatchConfig struct {
	BatchSize    int           // max events claimed per batch
	Concurrency  int           // max (source, table) lanes applied at once
	ClaimTTL     time.Duration // claims older than this are considered abandoned
	PollInterval time.Duration // follow mode wakes at least this often
	SettleDelay  time.Duration // only events received at least this long ago are picked up
}

// RollupConfig holds snapshot and rollup parameters
type RollupConfig struct {
	MaxPeriods       int           // max days processed by one backfill invocation
	OperationTimeout time.Duration // upper bound for a single snapshot/rollup operation
	LockTTL          time.Duration // redis run-lock expiry
}

// ScheduleConfig holds cron expressions for the in-process scheduler
type ScheduleConfig struct {
	Dispatch string
	Snapshot string
	Daily    string
	Weekly   string
	Monthly  string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		StorageBackend: getEnvOrDefault("STORAGE_BACKEND", BackendPostgres),

		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "vesta"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "vesta"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "vesta"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		HTTPPort:      getEnvInt("HTTP_PORT", 8080),
		WebhookSecret: getEnvOrDefault("WEBHOOK_SECRET", ""),

		Dispatch: DispatchConfig{
			BatchSize:    getEnvInt("DISPATCH_BATCH_SIZE", 200),
			Concurrency:  getEnvInt("DISPATCH_CONCURRENCY", 4),
			ClaimTTL:     getEnvDuration("CLAIM_TTL", 10*time.Minute),
			PollInterval: getEnvDuration("DISPATCH_POLL_INTERVAL", 30*time.Second),
			SettleDelay:  getEnvDuration("DISPATCH_SETTLE_DELAY", 0),
		},

		Rollup: RollupConfig{
			MaxPeriods:       getEnvInt("ROLLUP_MAX_PERIODS", 120),
			OperationTimeout: getEnvDuration("OPERATION_TIMEOUT", 10*time.Minute),
			LockTTL:          getEnvDuration("ROLLUP_LOCK_TTL", 15*time.Minute),
		},

		Schedule: ScheduleConfig{
			Dispatch: getEnvOrDefault("SCHEDULE_DISPATCH", "@every 1m"),
			Snapshot: getEnvOrDefault("SCHEDULE_SNAPSHOT", "0 5 * * *"),
			Daily:    getEnvOrDefault("SCHEDULE_DAILY", "30 5 * * *"),
			Weekly:   getEnvOrDefault("SCHEDULE_WEEKLY", "0 6 * * 1"),
			Monthly:  getEnvOrDefault("SCHEDULE_MONTHLY", "0 7 1 * *"),
		},
	}
}

// DSN builds the postgres connection string shared by gorm and the lib/pq listener
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable TimeZone=UTC",
		c.DatabaseHost, c.DatabasePort, c.DatabaseName, c.DatabaseUser, c.DatabasePassword)
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvDuration parses values like "90s" or "10m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
