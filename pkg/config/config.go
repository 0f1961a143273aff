package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the swap engine.
type Config struct {
	Port string

	// Database
	DBPath string

	// Durable queue
	QueuePrefix string // namespace for queue artifacts on disk
	QueueDir    string // WAL directory
	QueueSize   int

	// Worker scheduler
	WorkerConcurrency int
	RateLimitMax      int           // max jobs per window
	RateLimitWindow   time.Duration // rolling window for the global cap

	// Retry policy
	RetryAttempts    int
	RetryBackoffBase time.Duration

	// Routing / execution
	VenuesConfig string // optional venues.yaml path; built-ins when empty
	BasePrice    float64
	QuoteTimeout time.Duration
	SubmitDelay  time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/swap.db"),
		QueuePrefix:       getEnv("QUEUE_PREFIX", "swap-engine"),
		QueueDir:          getEnv("QUEUE_DIR", "./data/queue"),
		QueueSize:         getEnvInt("QUEUE_SIZE", 200),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		RateLimitMax:      getEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBackoffBase:  getEnvDuration("RETRY_BACKOFF_BASE", time.Second),
		VenuesConfig:      getEnv("VENUES_CONFIG", ""),
		BasePrice:         getEnvFloat("BASE_PRICE", 100.0),
		QuoteTimeout:      getEnvDuration("QUOTE_TIMEOUT", 2*time.Second),
		SubmitDelay:       getEnvDuration("SUBMIT_DELAY", 500*time.Millisecond),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
