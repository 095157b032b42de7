package summary

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/database"
)

func TestSnapshotDay(t *testing.T) {
	tests := []struct {
		path string
		day  string
		ok   bool
	}{
		{"/out/2026-02-05.json", "2026-02-05", true},
		{"/out/2026-02-05.json.tmp", "", false},
		{"/out/notes.json", "", false},
		{"/out/2026-02-05.md", "", false},
	}
	for _, tt := range tests {
		day, ok := snapshotDay(tt.path)
		if ok != tt.ok || day != tt.day {
			t.Errorf("%s: expected (%q, %v), got (%q, %v)", tt.path, tt.day, tt.ok, day, ok)
		}
	}
}

func TestWatchRestoresEditedSnapshot(t *testing.T) {
	db := openTestDB(t)
	dayStart, _, _ := database.DayBounds("2026-02-05")
	stored := content.Summary{Type: DefaultType, Title: "Daily Report - 2026-02-05", Date: dayStart}
	if err := db.SaveSummaryItem(context.Background(), stored); err != nil {
		t.Fatalf("saving summary: %v", err)
	}
	g := newTestGenerator(t, db, &mockProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watch returned error: %v", err)
		}
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		os.MkdirAll(g.OutputDir(), 0o755)
		os.WriteFile(g.SnapshotPath("2026-02-05"), []byte(`{"title":"tampered"}`), 0o644)
		time.Sleep(time.Second)
		if ok, _ := g.snapshotMatches("2026-02-05", stored); ok {
			return
		}
	}
	t.Fatal("expected watcher to restore the snapshot from the database")
}
