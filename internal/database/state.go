package database

import (
	"context"
	"database/sql"
)

// State is a per-source key/value store backed by the source_state table.
type State struct {
	db     *DB
	source string
}

// State returns the state store for one source instance.
func (db *DB) State(source string) *State {
	return &State{db: db, source: source}
}

// Get returns the value stored under key, or "" if none.
func (s *State) Get(ctx context.Context, key string) (string, error) {
	conn, err := s.db.reader()
	if err != nil {
		return "", err
	}
	var value string
	err = conn.QueryRowContext(ctx,
		"SELECT value FROM source_state WHERE source = ? AND key = ?", s.source, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Set stores value under key.
func (s *State) Set(ctx context.Context, key, value string) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO source_state (source, key, value) VALUES (?, ?, ?)
			ON CONFLICT(source, key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
			s.source, key, value,
		)
		return err
	})
}
