package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	// HTTP trigger surface
	ListenAddr string
	CronSecret string

	// Provider OAuth app
	GoogleClientID     string
	GoogleClientSecret string

	// Orchestrator budgets
	SyncTimeBudget   time.Duration // wall-clock budget per invocation
	MaxReviewsPerRun int
	PriorityLookback time.Duration
	ReviewPageSize   int
	SyncMinInterval  time.Duration // floor between runs unless forced

	// Job queue
	ClaimBatchSize int
	TenantCooldown time.Duration // requeue delay when a tenant already has a job in flight

	// Draft pipeline
	DraftLookbackDays int
	DraftBatchLimit   int
	DraftCooldown     time.Duration

	// Scheduling
	SyncSchedule    string // robfig cron spec
	DraftSchedule   string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cronSecret := os.Getenv("CRON_SECRET")
	if cronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required")
	}

	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	googleClientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if googleClientID == "" || googleClientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, token refresh will not work")
	}

	lookbackDays := getIntEnv("DRAFT_LOOKBACK_DAYS", 180)
	if lookbackDays > 3650 {
		lookbackDays = 3650
	}

	return &Config{
		DatabaseURL: dbURL,

		ListenAddr: getEnv("LISTEN_ADDR", ":8090"),
		CronSecret: cronSecret,

		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,

		SyncTimeBudget:   getDuration("SYNC_TIME_BUDGET", 24*time.Second),
		MaxReviewsPerRun: getIntEnv("MAX_REVIEWS_PER_RUN", 80),
		PriorityLookback: getDuration("PRIORITY_LOOKBACK", 48*time.Hour),
		ReviewPageSize:   getIntEnv("REVIEW_PAGE_SIZE", 50),
		SyncMinInterval:  getDuration("SYNC_MIN_INTERVAL", 30*time.Second),

		ClaimBatchSize: getIntEnv("CLAIM_BATCH_SIZE", 5),
		TenantCooldown: getDuration("TENANT_COOLDOWN", 60*time.Second),

		DraftLookbackDays: lookbackDays,
		DraftBatchLimit:   getIntEnv("DRAFT_BATCH_LIMIT", 25),
		DraftCooldown:     getDuration("DRAFT_COOLDOWN", 30*time.Minute),

		SyncSchedule:    getEnv("SYNC_SCHEDULE", "@every 1m"),
		DraftSchedule:   getEnv("DRAFT_SCHEDULE", "@every 15m"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
