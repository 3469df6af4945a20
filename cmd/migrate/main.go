package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"stock-settlement/internal/config"
	"stock-settlement/internal/db"
	"stock-settlement/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var applied int
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			log.Fatal("[CONNECT] failed", zap.Error(err))
		}
		defer pool.Close()
		applied, err = db.MigratePostgres(ctx, pool, log)
		if err != nil {
			log.Error("[MIGRATE] failed", zap.Error(err))
			pool.Close()
			os.Exit(1)
		}

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath, cfg.LockTimeout)
		if err != nil {
			log.Fatal("[CONNECT] failed", zap.Error(err))
		}
		defer conn.Close()
		applied, err = db.MigrateSQLite(ctx, conn, log)
		if err != nil {
			log.Error("[MIGRATE] failed", zap.Error(err))
			conn.Close()
			os.Exit(1)
		}
	}

	log.Info("[DONE] All migrations processed.",
		zap.String("store_driver", cfg.StoreDriver),
		zap.Int("applied", applied))
}
