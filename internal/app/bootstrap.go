package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stock-settlement/internal/config"
	"stock-settlement/internal/core"
	"stock-settlement/internal/db"
	"stock-settlement/internal/idempotency"
	"stock-settlement/internal/store/postgres"
	"stock-settlement/internal/store/sqlite"
)

// Runtime holds the process-wide dependencies built from configuration.
type Runtime struct {
	Store core.RecordStore
	Guard IdempotencyGuard

	closers []func()
}

// Close releases every resource opened by Open, in reverse order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Open connects the configured record store and, when REDIS_ADDR is set, the
// idempotency guard. SQLite databases are migrated on open; PostgreSQL
// schemas are managed by cmd/migrate.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.Store = postgres.New(pool, cfg.LockTimeout)

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath, cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { conn.Close() })
		if _, err := db.MigrateSQLite(ctx, conn, logger); err != nil {
			rt.Close()
			return nil, err
		}
		rt.Store = sqlite.New(conn)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			rt.Close()
			return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		rt.closers = append(rt.closers, func() { client.Close() })
		rt.Guard = idempotency.NewRedisGuard(client, cfg.IdempotencyTTL)
	}

	logger.Debug("runtime opened",
		zap.String("store_driver", cfg.StoreDriver),
		zap.Bool("idempotency", rt.Guard != nil))
	return rt, nil
}
