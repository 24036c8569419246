package store

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/mysterybox/internal/config"
)

// Open returns the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return ConnectPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		return ConnectRedis(ctx, cfg.RedisURL)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
