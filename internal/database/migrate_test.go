package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openRaw(t *testing.T, name string) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFreshDatabaseIsAtLatestVersion(t *testing.T) {
	db := openTestDB(t)

	version, err := schemaVersion(context.Background(), db.conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestUnversionedSchemaIsUpgraded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "unversioned.db")

	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	_, err = raw.Exec(`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cid TEXT UNIQUE,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT,
		text TEXT,
		link TEXT,
		topics TEXT,
		date INTEGER NOT NULL,
		metadata TEXT
	);
	CREATE TABLE summary (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		title TEXT,
		categories TEXT,
		date INTEGER NOT NULL,
		UNIQUE (type, date)
	);
	INSERT INTO items (cid, type, source, date) VALUES ('keep-me', 'rss', 'feed', 1)`)
	if err != nil {
		t.Fatalf("create unversioned schema: %v", err)
	}
	raw.Close()

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	version, err := schemaVersion(ctx, db.conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d after upgrade, got %d", latestVersion(), version)
	}

	// Only migrations after version 1 ran, so existing rows survive.
	it, err := db.GetContentItem(ctx, "keep-me")
	if err != nil || it == nil {
		t.Errorf("expected existing item to survive upgrade, got %v, %v", it, err)
	}
	if err := db.State("s").Set(ctx, "k", "v"); err != nil {
		t.Errorf("expected source_state table after upgrade: %v", err)
	}
}

func TestReopenKeepsVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	for i := 0; i < 2; i++ {
		db, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		version, err := schemaVersion(context.Background(), db.conn)
		db.Close()
		if err != nil {
			t.Fatalf("schemaVersion: %v", err)
		}
		if version != latestVersion() {
			t.Errorf("open #%d: expected version %d, got %d", i+1, latestVersion(), version)
		}
	}
}

func TestEmptyFileIsVersionZero(t *testing.T) {
	conn := openRaw(t, "empty.db")
	ctx := context.Background()

	version, err := schemaVersion(ctx, conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
	unversioned, err := hasUnversionedSchema(ctx, conn)
	if err != nil {
		t.Fatalf("hasUnversionedSchema: %v", err)
	}
	if unversioned {
		t.Error("expected no items table in an empty file")
	}
}

func TestPending(t *testing.T) {
	tests := []struct {
		version int
		want    int
	}{
		{0, len(migrations)},
		{1, len(migrations) - 1},
		{latestVersion(), 0},
	}
	for _, tt := range tests {
		if got := len(pending(tt.version)); got != tt.want {
			t.Errorf("pending(%d): expected %d migrations, got %d", tt.version, tt.want, got)
		}
	}
}
