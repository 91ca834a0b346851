// Package state opens the localsync state database: a single SQLite file
// holding the action queue, the conflict log, and the entity mirror. The
// schema is managed by embedded goose migrations.
package state

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultBusyTimeout is how long a statement waits on a lock held by
// another process before failing with SQLITE_BUSY.
const DefaultBusyTimeout = 5 * time.Second

// Open opens the SQLite database at dbPath with DefaultBusyTimeout.
func Open(dbPath string, logger *slog.Logger) (*sql.DB, error) {
	return OpenWithTimeout(dbPath, DefaultBusyTimeout, logger)
}

// OpenWithTimeout opens the SQLite database at dbPath, applies pending
// migrations and returns the handle. WAL mode with synchronous=FULL makes every committed
// queue mutation durable across a crash.
//
// The pool is capped at one connection (sole-writer pattern). Callers that
// open a transaction must route every statement through the *sql.Tx until
// it commits, or they will block on the pool.
func OpenWithTimeout(dbPath string, busyTimeout time.Duration, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)",
		dbPath, busyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state: database ready", slog.String("db_path", dbPath))

	return db, nil
}

// migrate applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("state: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("state: applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// NullString maps "" to SQL NULL.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

// NullInt64 maps 0 to SQL NULL.
func NullInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: n, Valid: true}
}
