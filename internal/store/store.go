// Package store persists run history in a local SQLite database so past
// runs and their per-fork outcomes can be inspected after the process
// exits.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the runs database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	prompt        TEXT NOT NULL,
	model         TEXT NOT NULL,
	num_forks     INTEGER NOT NULL,
	max_turns     INTEGER NOT NULL,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP,
	successful    INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	total_tokens  INTEGER NOT NULL DEFAULT 0,
	total_cost    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fork_results (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	fork_id        INTEGER NOT NULL,
	success        INTEGER NOT NULL,
	status         TEXT NOT NULL,
	final_response TEXT NOT NULL DEFAULT '',
	turns          INTEGER NOT NULL DEFAULT 0,
	tool_calls     INTEGER NOT NULL DEFAULT 0,
	errors         INTEGER NOT NULL DEFAULT 0,
	total_tokens   INTEGER NOT NULL DEFAULT 0,
	total_cost     REAL NOT NULL DEFAULT 0,
	execution_time REAL NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, fork_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open runs db: %w", err)
	}
	// The modernc driver is not safe for concurrent writers on one
	// connection pool without serialization.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
