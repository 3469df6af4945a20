// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env            string
	StoreDriver    string
	DatabaseURL    string
	SQLitePath     string
	RedisAddr      string
	IdempotencyTTL time.Duration
	JWTSecret      string
	Token          string
	LockTimeout    time.Duration
	MaxRetries     int
	ExpiryWindow   time.Duration
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment without touching .env files.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:         getEnv("APP_ENV", "development"),
		StoreDriver: getEnv("STORE_DRIVER", DriverSQLite),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "stock.db"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Token:       os.Getenv("SETTLE_TOKEN"),
	}

	var err error
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = getDuration("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ExpiryWindow, err = getDuration("EXPIRY_WINDOW", 48*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = getInt("SETTLE_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("SETTLE_MAX_RETRIES must be non-negative, got %d", cfg.MaxRetries)
	}

	switch cfg.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q (want postgres or sqlite)", cfg.StoreDriver)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return n, nil
}
