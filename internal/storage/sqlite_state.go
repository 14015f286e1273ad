// Path: internal/storage/sqlite_state.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"loki-downloader/internal/domain"

	_ "modernc.org/sqlite"
)

const createRunStatesTable = `
CREATE TABLE IF NOT EXISTS run_states (
	fingerprint TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

const upsertRunState = `
INSERT INTO run_states (fingerprint, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`

const selectRunState = `SELECT state FROM run_states WHERE fingerprint = ?`

// SQLiteStateStore keeps every run's snapshot in one SQLite database.
type SQLiteStateStore struct {
	conn *sql.DB
}

// NewSQLiteStateStore opens (or creates) the database at dbPath and initializes the schema.
func NewSQLiteStateStore(dbPath string) (*SQLiteStateStore, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	conn.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
		createRunStatesTable,
	} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteStateStore{conn: conn}, nil
}

// Close closes the database connection.
func (s *SQLiteStateStore) Close() error {
	return s.conn.Close()
}

// Open implements the StateStore interface.
func (s *SQLiteStateStore) Open(inputs ...string) StateHandle {
	return &sqliteStateHandle{conn: s.conn, key: domain.Fingerprint(inputs...)}
}

type sqliteStateHandle struct {
	conn *sql.DB
	key  string
}

func (h *sqliteStateHandle) Key() string { return h.key }

func (h *sqliteStateHandle) Load(ctx context.Context) (*domain.State, error) {
	var raw string
	err := h.conn.QueryRowContext(ctx, selectRunState, h.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", h.key, err)
	}
	return decodeState(h.key, []byte(raw))
}

func (h *sqliteStateHandle) Save(ctx context.Context, state domain.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertRunState, h.key, string(data), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to save state %s: %w", h.key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state %s: %w", h.key, err)
	}
	return nil
}
