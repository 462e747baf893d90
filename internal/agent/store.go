package agent

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// currentSchemaVersion is incremented when the schema changes in a way that
// requires data migration (not just adding indexes).
const currentSchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id        INTEGER PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	level     INTEGER NOT NULL,
	replica   TEXT    NOT NULL,
	message   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs(timestamp);
CREATE UNIQUE INDEX IF NOT EXISTS idx_logs_identity ON logs(timestamp, replica, message);

CREATE TABLE IF NOT EXISTS ingest_state (
	source TEXT PRIMARY KEY,
	until  INTEGER NOT NULL
);
`

// Store manages SQLite persistence for log lines.
type Store struct {
	db         *sql.DB
	path       string
	now        func() time.Time
	fetchLimit int
}

// OpenStore opens or creates a SQLite database at the given path with WAL mode.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "set WAL mode"},
		// Limit SQLite page cache to ~2MB (negative = KB).
		{"PRAGMA cache_size = -2000", "set cache_size"},
		{"PRAGMA auto_vacuum = 2", "set auto_vacuum"},
		{"PRAGMA busy_timeout = 5000", "set busy_timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}

	s := &Store{db: db, path: path, now: time.Now, fetchLimit: defaultFetchLimit}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Restrict database file permissions to owner-only.
	if err := os.Chmod(path, 0o600); err != nil {
		slog.Warn("failed to set database file permissions", "error", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate handles schema migrations using PRAGMA user_version for tracking.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
