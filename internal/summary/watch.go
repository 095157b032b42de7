package summary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TobiSchelling/AIDigest/internal/database"
)

const debounceInterval = 500 * time.Millisecond

// Watch restores snapshot files from the database when they are edited or
// removed on disk. It blocks until ctx is cancelled.
func (g *Generator) Watch(ctx context.Context) error {
	if g.outputDir == "" {
		<-ctx.Done()
		return nil
	}
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(g.outputDir); err != nil {
		return fmt.Errorf("watching %s: %w", g.outputDir, err)
	}
	g.log.Info("watching snapshots", "dir", g.outputDir)

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		wg     sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			g.log.Warn("snapshot watcher error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			day, ok := snapshotDay(ev.Name)
			if !ok || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}

			mu.Lock()
			if t, ok := timers[day]; ok && t.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timers[day] = time.AfterFunc(debounceInterval, func() {
				defer wg.Done()
				mu.Lock()
				delete(timers, day)
				mu.Unlock()
				if _, err := g.Reconcile(ctx, day); err != nil {
					g.log.Error("reconciling snapshot", "day", day, "error", err)
				}
			})
			mu.Unlock()
		}
	}
}

// snapshotDay extracts the day key from a snapshot file name.
func snapshotDay(path string) (string, bool) {
	base := filepath.Base(path)
	day, ok := strings.CutSuffix(base, ".json")
	if !ok {
		return "", false
	}
	if _, err := database.ParseDay(day); err != nil {
		return "", false
	}
	return day, true
}
