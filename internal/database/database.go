package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by writes issued after Close.
var ErrClosed = errors.New("database closed")

// DB wraps a SQLite database connection and implements content.Storage.
type DB struct {
	path string
	conn *sql.DB

	mu     sync.RWMutex
	closed bool
	writes sync.WaitGroup
}

// New returns an unopened database handle for dbPath. Call Init before use.
func New(dbPath string) *DB {
	return &DB{path: dbPath}
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	db := New(dbPath)
	if err := db.Init(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

// Init opens the connection and brings the schema up to date. It is a no-op
// on an already initialized handle.
func (db *DB) Init(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn != nil {
		return nil
	}

	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", db.path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("migrating schema: %w", err)
	}

	db.conn = conn
	db.closed = false
	return nil
}

// Close waits for in-flight writes to finish, then closes the connection.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed || db.conn == nil {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.writes.Wait()
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// beginWrite registers an in-flight write so Close can drain it.
func (db *DB) beginWrite() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed || db.conn == nil {
		return ErrClosed
	}
	db.writes.Add(1)
	return nil
}

func (db *DB) endWrite() {
	db.writes.Done()
}

// withTx runs fn in a transaction, rolling back when fn or the commit fails.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := db.beginWrite(); err != nil {
		return err
	}
	defer db.endWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// reader returns the connection for read queries.
func (db *DB) reader() (*sql.DB, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed || db.conn == nil {
		return nil, ErrClosed
	}
	return db.conn, nil
}
