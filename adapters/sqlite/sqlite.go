// Package sqlite provides a SQLite-backed archive adapter for cold storage of
// archived events, compressed batches and rollups.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emberforge/chronicle/adapters"
	"github.com/emberforge/chronicle/adapters/sqlite/migrations"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	driverName     = "sqlite"
	migrationTable = "schema_migrations"
	memoryPath     = ":memory:"
)

// Ensure SQLiteAdapter implements required interfaces.
var (
	_ adapters.ArchiveAdapter = (*SQLiteAdapter)(nil)
	_ adapters.HealthChecker  = (*SQLiteAdapter)(nil)
)

// SQLiteAdapter stores archive data in a SQLite database file.
type SQLiteAdapter struct {
	db     *sqlx.DB
	now    func() time.Time
	closed atomic.Bool
}

// Option configures a SQLiteAdapter.
type Option func(*SQLiteAdapter)

// WithClock sets the clock used for ArchivedAt and CreatedAt defaults.
func WithClock(now func() time.Time) Option {
	return func(a *SQLiteAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAdapter opens the archive database at path and applies the embedded
// migrations. Use ":memory:" for a private in-memory database.
func NewAdapter(ctx context.Context, path string, opts ...Option) (*SQLiteAdapter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("chronicle/sqlite: storage path is required")
	}

	dsn := memoryPath
	if path != memoryPath {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to open database: %w", err)
	}
	if path == memoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	adapter, err := NewAdapterWithDB(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}

// NewAdapterWithDB creates an adapter over an existing connection and applies
// the embedded migrations.
func NewAdapterWithDB(ctx context.Context, db *sqlx.DB, opts ...Option) (*SQLiteAdapter, error) {
	adapter := &SQLiteAdapter{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(adapter)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to ping database: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to run migrations: %w", err)
	}

	return adapter, nil
}

// applyMigrations executes embedded migrations at most once per file.
func applyMigrations(ctx context.Context, db *sqlx.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var applied int
		err := db.GetContext(ctx, &applied, "SELECT COUNT(*) FROM "+migrationTable+" WHERE name = ?", file)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}

// Close closes the database handle.
func (a *SQLiteAdapter) Close() error {
	a.closed.Store(true)
	return a.db.Close()
}

// Ping checks database connectivity.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database handle.
func (a *SQLiteAdapter) DB() *sql.DB {
	return a.db.DB
}

func (a *SQLiteAdapter) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
