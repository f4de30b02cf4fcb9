package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	PresenceBackendSQL   = "sql"
	PresenceBackendRedis = "redis"
)

// Config holds all configuration for the server.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	PollBatchSize   int
	PollMaxWait     time.Duration
	PollRateLimit   int
	PresenceWindow  time.Duration
	PresenceBackend string

	EventRetention time.Duration
	SweepInterval  time.Duration
}

// Load reads configuration from environment variables. Callers that want
// .env support load it first (see cmd/server).
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		NATSURL:     getEnv("NATS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		PollBatchSize:   getEnvInt("POLL_BATCH_SIZE", 50),
		PollMaxWait:     getEnvDuration("POLL_MAX_WAIT", 0),
		PollRateLimit:   getEnvInt("POLL_RATE_LIMIT", 0),
		PresenceWindow:  getEnvDuration("PRESENCE_WINDOW", 30*time.Second),
		PresenceBackend: getEnv("PRESENCE_BACKEND", PresenceBackendSQL),

		EventRetention: getEnvDuration("EVENT_RETENTION", 168*time.Hour),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PollBatchSize <= 0 {
		return nil, fmt.Errorf("POLL_BATCH_SIZE must be positive, got %d", cfg.PollBatchSize)
	}
	if cfg.PresenceWindow <= 0 {
		return nil, fmt.Errorf("PRESENCE_WINDOW must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}
	if cfg.EventRetention <= 0 {
		return nil, fmt.Errorf("EVENT_RETENTION must be positive, got %s", cfg.EventRetention)
	}

	switch cfg.PresenceBackend {
	case PresenceBackendSQL:
	case PresenceBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when PRESENCE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("unknown PRESENCE_BACKEND %q", cfg.PresenceBackend)
	}

	if cfg.PollRateLimit > 0 && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required when POLL_RATE_LIMIT is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
