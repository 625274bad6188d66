// Package store holds all process-lifetime state: registered users and the
// request registry. It is backed by an in-memory SQLite database so that the
// claim race is settled by a single conditional UPDATE rather than by
// anything the callers have to coordinate. Nothing survives a restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned for an unknown user or request identity.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned when a claim loses the race: some
	// earlier claim already moved the request out of pending.
	ErrAlreadyResolved = errors.New("request already resolved")
	// ErrAlreadyRated is returned when a request has been rated before.
	ErrAlreadyRated = errors.New("request already rated")
	// ErrNotResolved is returned when rating a request no volunteer took on.
	ErrNotResolved = errors.New("request not resolved")
	// ErrNotYours is returned when a user mutates a request they do not own.
	ErrNotYours = errors.New("request belongs to someone else")
)

type Store struct {
	conn *sql.DB
}

// memSeq distinguishes the in-memory databases of independent Store
// instances within one process (relevant for tests).
var memSeq atomic.Int64

// New opens a fresh in-memory database and creates the schema. A single
// connection is kept for the lifetime of the Store: it owns the database,
// and it serializes every statement, so each conditional UPDATE below is
// atomic with respect to all other callers.
func New() (*Store, error) {
	dsn := fmt.Sprintf("file:dutybot%d?mode=memory&cache=shared", memSeq.Add(1))

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		handle TEXT NOT NULL,
		role TEXT NOT NULL,
		season INTEGER NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT '',
		helped_count INTEGER NOT NULL DEFAULT 0,
		rating REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		leader_id INTEGER NOT NULL,
		duty_id INTEGER,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		request_text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		feedback TEXT,
		rating INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_leader ON requests(leader_id);
	CREATE INDEX IF NOT EXISTS idx_requests_duty ON requests(duty_id);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection, discarding all state.
func (s *Store) Close() error {
	return s.conn.Close()
}
