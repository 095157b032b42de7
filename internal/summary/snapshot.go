package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/database"
)

// Result describes what GenerateContent did.
type Result struct {
	Day       string
	Generated bool
	Rewritten bool
	Summary   *content.Summary
}

// SnapshotPath returns the snapshot file for day.
func (g *Generator) SnapshotPath(day string) string {
	return filepath.Join(g.outputDir, day+".json")
}

// GenerateContent makes sure yesterday has a summary. An existing stored
// summary is never regenerated; its snapshot file is rewritten from the
// stored row when the two differ.
func (g *Generator) GenerateContent(ctx context.Context) (*Result, error) {
	day := database.GetYesterday(g.now())
	existing, err := g.stored(ctx, day)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		s, err := g.GenerateAndStore(ctx, day)
		if err != nil {
			return nil, err
		}
		return &Result{Day: day, Generated: true, Summary: s}, nil
	}

	g.metrics.Summary("skipped")
	rewritten, err := g.syncSnapshot(day, *existing)
	if err != nil {
		return nil, err
	}
	return &Result{Day: day, Rewritten: rewritten, Summary: existing}, nil
}

// Reconcile rewrites the snapshot for day from the stored summary when they
// differ. It reports whether the file was rewritten.
func (g *Generator) Reconcile(ctx context.Context, day string) (bool, error) {
	existing, err := g.stored(ctx, day)
	if err != nil || existing == nil {
		return false, err
	}
	return g.syncSnapshot(day, *existing)
}

func (g *Generator) stored(ctx context.Context, day string) (*content.Summary, error) {
	start, end, err := database.DayBounds(day)
	if err != nil {
		return nil, err
	}
	summaries, err := g.storage.GetSummaryBetweenEpoch(ctx, start, end, "")
	if err != nil {
		return nil, fmt.Errorf("loading summary for %s: %w", day, err)
	}
	for i := range summaries {
		if summaries[i].Type == g.summaryType {
			return &summaries[i], nil
		}
	}
	return nil, nil
}

func (g *Generator) syncSnapshot(day string, s content.Summary) (bool, error) {
	if g.outputDir == "" {
		return false, nil
	}
	same, err := g.snapshotMatches(day, s)
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}
	if err := g.writeSnapshot(day, s); err != nil {
		return false, err
	}
	g.metrics.SnapshotRewritten()
	g.log.Info("snapshot diverged from database, rewritten", "day", day)
	return true, nil
}

// snapshotMatches compares the file and the row structurally, so formatting
// and key order do not count as differences.
func (g *Generator) snapshotMatches(day string, s content.Summary) (bool, error) {
	data, err := os.ReadFile(g.SnapshotPath(day))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading snapshot: %w", err)
	}

	var onDisk any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		g.log.Warn("snapshot is not valid JSON", "day", day, "error", err)
		return false, nil
	}

	want, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	var stored any
	if err := json.Unmarshal(want, &stored); err != nil {
		return false, err
	}
	return reflect.DeepEqual(onDisk, stored), nil
}

func (g *Generator) writeSnapshot(day string, s content.Summary) error {
	if g.outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	path := g.SnapshotPath(day)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}
