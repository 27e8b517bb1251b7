package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application, built once at process
// start from the environment and injected into Worker and the ingestion API.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string // optional; "" disables the leader lock

	TargetURL     string
	WebhookSecret string

	HTTPTimeout              time.Duration
	WorkerPollInterval       time.Duration
	WorkerClaimLimit         int
	WorkerConcurrency        int
	MaxAttempts              int
	BackoffBaseSeconds       time.Duration
	BackoffMaxSeconds        time.Duration
	ShortCircuitPermanent4xx bool

	MigrationsPath string
}

// Load reads configuration from environment variables, applying the
// defaults from spec.md §6.
func Load() (*Config, error) {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: dbURL,
		RedisURL:    getEnv("REDIS_URL", ""),

		TargetURL:     getEnv("TARGET_URL", "http://localhost:8080/webhook"),
		WebhookSecret: getEnv("WEBHOOK_SECRET", "change-me-in-production"),

		HTTPTimeout:              getEnvSeconds("HTTP_TIMEOUT", 15),
		WorkerPollInterval:       getEnvSecondsFloat("WORKER_POLL_INTERVAL", 1.5),
		WorkerClaimLimit:         getEnvInt("WORKER_CLAIM_LIMIT", 10),
		WorkerConcurrency:        getEnvInt("WORKER_CONCURRENCY", 4),
		MaxAttempts:              getEnvInt("MAX_ATTEMPTS", 20),
		BackoffBaseSeconds:       getEnvSeconds("BACKOFF_BASE_SECONDS", 2),
		BackoffMaxSeconds:        getEnvSeconds("BACKOFF_MAX_SECONDS", 3600),
		ShortCircuitPermanent4xx: getEnvBool("SHORT_CIRCUIT_PERMANENT_4XX", false),

		MigrationsPath: getEnv("MIGRATIONS_PATH", "file://migrations"),
	}, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallbackSeconds int) time.Duration {
	n := getEnvInt(key, fallbackSeconds)
	return time.Duration(n) * time.Second
}

func getEnvSecondsFloat(key string, fallbackSeconds float64) time.Duration {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return time.Duration(fallbackSeconds * float64(time.Second))
}
