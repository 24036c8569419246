// Package config loads runtime settings from the environment, optionally seeded by a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every tunable of the client session and the social server.
type Config struct {
	ServerURL  string // ws(s):// address the room client dials.
	ListenAddr string // Address the social server binds.
	JWTSecret  string

	StoreDriver string // memory, sqlite, postgres or redis.
	SQLitePath  string
	DatabaseURL string
	RedisURL    string

	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration

	SeasonCheckInterval time.Duration
	BetCleanupInterval  time.Duration
	RoomIdleTimeout     time.Duration

	PayoutRemainderPolicy string
	LogLevel              logrus.Level
}

// Load reads .env (if present) and the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("config: no .env loaded")
	}

	cfg := &Config{
		ServerURL:             getEnv("SOCIAL_SERVER_URL", "ws://localhost:8080/ws"),
		ListenAddr:            getEnv("SOCIAL_LISTEN_ADDR", ":8080"),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		StoreDriver:           getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:            getEnv("SQLITE_PATH", "mysterybox.db"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		PayoutRemainderPolicy: getEnv("PAYOUT_REMAINDER_POLICY", "house"),
	}

	var err error
	if cfg.ConnectTimeout, err = getDuration("CONNECT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectAttempts, err = getInt("RECONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ReconnectBackoff, err = getDuration("RECONNECT_BACKOFF", time.Second); err != nil {
		return nil, err
	}
	if cfg.SeasonCheckInterval, err = getDuration("SEASON_CHECK_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.BetCleanupInterval, err = getDuration("BET_CLEANUP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.RoomIdleTimeout, err = getDuration("ROOM_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch cfg.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for STORE_DRIVER=redis")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
