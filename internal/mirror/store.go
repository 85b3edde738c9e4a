// Package mirror persists the relational mirror of a user's remote tree:
// folders, items, sync state, settings, encrypted credentials, and
// notification records. Every write is an idempotent upsert keyed on the
// natural remote identity, which is what makes the indexer and sync runner
// safely re-entrant.
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("mirror: not found")

// Store is the sole writer to the mirror database. It shares one *sql.DB
// across all entity operations (sole-writer via SetMaxOpenConns(1)).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the SQLite database at dbPath, applies migrations, and returns
// a ready-to-use Store. The database uses WAL mode with synchronous=FULL
// for crash-safe durability.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mirror: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("mirror store ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString converts "" to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
