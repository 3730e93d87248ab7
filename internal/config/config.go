package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBSource      string
	WebhookSecret string
	Port          string
	Env           string
	CacheTTL      time.Duration
	QueryTimeout  time.Duration
	SweepInterval time.Duration
}

// Load reads configuration from the environment. A missing DB_SOURCE or
// WEBHOOK_SECRET is fatal: without the secret no request can pass
// authentication, so the server refuses to start.
func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	cacheTTL, err := durationEnv("CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	queryTimeout, err := durationEnv("QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := durationEnv("CACHE_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBSource:      dbSource,
		WebhookSecret: secret,
		Port:          port,
		Env:           env,
		CacheTTL:      cacheTTL,
		QueryTimeout:  queryTimeout,
		SweepInterval: sweepInterval,
	}, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", name, err)
	}
	return d, nil
}
