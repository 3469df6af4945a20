package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// advisoryLockKey serialises concurrent migrators on one PostgreSQL database.
const advisoryLockKey = 7462839

// Migration is one versioned schema file.
type Migration struct {
	Version  string
	Filename string
	Checksum string
	SQL      string
}

// DiscoverMigrations reads NNN_description.sql files from dir, ordered by filename.
func DiscoverMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		filename := entry.Name()
		version, err := extractVersion(filename)
		if err != nil {
			return nil, err
		}
		if seen[version] {
			return nil, fmt.Errorf("duplicate migration version: %s", version)
		}
		seen[version] = true

		body, err := fs.ReadFile(fsys, path.Join(dir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", filename, err)
		}
		sum := sha256.Sum256(body)
		migrations = append(migrations, Migration{
			Version:  version,
			Filename: filename,
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(body),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Filename < migrations[j].Filename })
	return migrations, nil
}

func extractVersion(filename string) (string, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("invalid migration filename %s: expected NNN_description.sql", filename)
	}
	return parts[0], nil
}

// migrationTarget is the dialect-specific half of the runner.
type migrationTarget interface {
	ensureLedger(ctx context.Context) error
	// appliedChecksum returns "" when version has not been applied.
	appliedChecksum(ctx context.Context, version string) (string, error)
	apply(ctx context.Context, m Migration) error
}

// runMigrations applies every pending migration, skipping applied ones whose
// checksum matches and refusing to continue on a checksum mismatch.
func runMigrations(ctx context.Context, target migrationTarget, migrations []Migration, logger *zap.Logger) (int, error) {
	if err := target.ensureLedger(ctx); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		existing, err := target.appliedChecksum(ctx, m.Version)
		if err != nil {
			return applied, fmt.Errorf("failed to query schema_migrations for %s: %w", m.Filename, err)
		}
		if existing != "" {
			if existing != m.Checksum {
				return applied, fmt.Errorf("checksum mismatch for %s: recorded %s, found %s", m.Filename, existing, m.Checksum)
			}
			logger.Debug("migration already applied", zap.String("file", m.Filename))
			continue
		}
		if err := target.apply(ctx, m); err != nil {
			return applied, fmt.Errorf("failed to apply migration %s: %w", m.Filename, err)
		}
		logger.Info("migration applied", zap.String("file", m.Filename))
		applied++
	}
	return applied, nil
}

// MigratePostgres applies the embedded PostgreSQL migrations under an advisory lock.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (int, error) {
	migrations, err := DiscoverMigrations(migrationFS, "migrations/postgres")
	if err != nil {
		return 0, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection for lock: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&locked); err != nil {
		return 0, fmt.Errorf("failed to query advisory lock: %w", err)
	}
	if !locked {
		return 0, fmt.Errorf("another migrator is currently running")
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", advisoryLockKey)

	return runMigrations(ctx, &pgTarget{pool: pool}, migrations, logger)
}

// MigrateSQLite applies the embedded SQLite migrations.
func MigrateSQLite(ctx context.Context, db *sql.DB, logger *zap.Logger) (int, error) {
	migrations, err := DiscoverMigrations(migrationFS, "migrations/sqlite")
	if err != nil {
		return 0, err
	}
	return runMigrations(ctx, &sqliteTarget{db: db}, migrations, logger)
}

const createLedgerPostgres = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createLedgerSQLite = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);`

type pgTarget struct {
	pool *pgxpool.Pool
}

func (t *pgTarget) ensureLedger(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, createLedgerPostgres)
	return err
}

func (t *pgTarget) appliedChecksum(ctx context.Context, version string) (string, error) {
	var checksum string
	err := t.pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", version).Scan(&checksum)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return checksum, err
}

func (t *pgTarget) apply(ctx context.Context, m Migration) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.Version, m.Filename, m.Checksum); err != nil {
		return fmt.Errorf("failed to insert migration record: %w", err)
	}
	return tx.Commit(ctx)
}

type sqliteTarget struct {
	db *sql.DB
}

func (t *sqliteTarget) ensureLedger(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, createLedgerSQLite)
	return err
}

func (t *sqliteTarget) appliedChecksum(ctx context.Context, version string) (string, error) {
	var checksum string
	err := t.db.QueryRowContext(ctx, "SELECT checksum FROM schema_migrations WHERE version = ?", version).Scan(&checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return checksum, err
}

func (t *sqliteTarget) apply(ctx context.Context, m Migration) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES (?, ?, ?)",
		m.Version, m.Filename, m.Checksum); err != nil {
		return fmt.Errorf("failed to insert migration record: %w", err)
	}
	return tx.Commit()
}
