package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jw6ventures/esn-calendar/internal/logging"
	"github.com/jw6ventures/esn-calendar/internal/migrations"
)

// MigrationTable tracks the migrations of this module only. The database is
// shared with the host platform, so nothing else in it is inspected.
const MigrationTable = "calendar_schema_migrations"

// Migrator is the subset of pgxpool.Pool used to apply migrations.
type Migrator interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ApplyMigrations runs every embedded migration not yet recorded in
// MigrationTable, in file name order. Each migration runs in its own
// transaction under an advisory lock, so instances starting together apply it once.
func ApplyMigrations(ctx context.Context, db Migrator, logger logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	names, err := listMigrationFiles()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	const create = `CREATE TABLE IF NOT EXISTS ` + MigrationTable + ` (
        version TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.Exec(ctx, create); err != nil {
		return fmt.Errorf("create %s: %w", MigrationTable, err)
	}

	for _, name := range names {
		applied, err := applyMigration(ctx, db, name)
		if err != nil {
			return err
		}
		if applied {
			logger.Info("store: migration applied", "version", name)
		}
	}
	return nil
}

func listMigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// applyMigration reports false when name was already recorded.
func applyMigration(ctx context.Context, db Migrator, name string) (applied bool, err error) {
	contents, err := migrations.Files.ReadFile(name)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, MigrationTable); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var done bool
	const check = `SELECT EXISTS (SELECT 1 FROM ` + MigrationTable + ` WHERE version=$1)`
	if err := tx.QueryRow(ctx, check, name).Scan(&done); err != nil {
		return false, fmt.Errorf("check migration %s: %w", name, err)
	}
	if done {
		return false, nil
	}

	if _, err := tx.Exec(ctx, string(contents)); err != nil {
		return false, fmt.Errorf("apply migration %s: %w", name, err)
	}
	const record = `INSERT INTO ` + MigrationTable + ` (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`
	if _, err := tx.Exec(ctx, record, name); err != nil {
		return false, fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", name, err)
	}
	return true, nil
}
