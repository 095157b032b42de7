package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/AIDigest/internal/aggregator"
	"github.com/TobiSchelling/AIDigest/internal/config"
	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/llm"
	"github.com/TobiSchelling/AIDigest/internal/registry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockSource struct {
	name    string
	items   func() []content.Item
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) FetchItems(ctx context.Context) ([]content.Item, error) {
	m.calls.Add(1)
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.release != nil {
		<-m.release
	}
	if m.items == nil {
		return nil, nil
	}
	return m.items(), nil
}

type mockHistoricalSource struct {
	mockSource
	days []string
	mu   sync.Mutex
}

func (m *mockHistoricalSource) FetchHistorical(ctx context.Context, day string) ([]content.Item, error) {
	m.mu.Lock()
	m.days = append(m.days, day)
	m.mu.Unlock()
	date, _ := database.ParseDay(day)
	return []content.Item{{
		CID:    m.name + "-" + day,
		Type:   "note",
		Source: m.name,
		Text:   "backfilled " + day,
		Topics: []string{"history"},
		Date:   date.Add(time.Hour).Unix(),
	}}, nil
}

type stubProvider struct{}

func (stubProvider) Summarize(ctx context.Context, prompt string) (string, error) {
	return `{"title": "Roundup", "content": [{"text": "things happened", "sources": [], "images": [], "videos": []}]}`, nil
}

func (stubProvider) Topics(ctx context.Context, text string) ([]string, error) { return nil, nil }

func params(t *testing.T, s string) yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("bad params: %v", err)
	}
	return *doc.Content[0]
}

func recentItems(source string, n int) func() []content.Item {
	return func() []content.Item {
		var items []content.Item
		for i := 0; i < n; i++ {
			items = append(items, content.Item{
				CID:      fmt.Sprintf("%s-%d", source, i),
				Type:     "rss",
				Source:   source,
				Text:     "item text",
				Link:     fmt.Sprintf("https://example.com/%d", i),
				Topics:   []string{"ai"},
				Date:     time.Now().Add(-time.Hour).Unix(),
				Metadata: content.Metadata{"photos": []string{"https://img.example/a.png"}},
			})
		}
		return items
	}
}

// testSetup returns a config and registry wired to the given mock sources.
func testSetup(t *testing.T, sources ...content.Source) (*config.Config, *registry.Registry) {
	t.Helper()
	reg := registry.Default()
	reg.RegisterAI("stub", func(p config.Plugin, env *registry.Env) (llm.Provider, error) {
		return stubProvider{}, nil
	})
	byName := make(map[string]content.Source)
	for _, s := range sources {
		byName[s.Name()] = s
	}
	reg.RegisterSource("mock", func(p config.Plugin, env *registry.Env) (content.Source, error) {
		return byName[p.Name], nil
	})

	dir := t.TempDir()
	cfg := &config.Config{
		Settings: config.Settings{DataDir: dir, SnapshotDir: filepath.Join(dir, "snapshots")},
		AI:       []config.Plugin{{Type: "stub", Name: "ai"}},
		Storage:  []config.Plugin{{Type: "sqlite", Name: "main"}},
		Generators: []config.Plugin{{
			Type:   "daily_summary",
			Name:   "daily",
			Params: params(t, "provider: ai\nstorage: main"),
		}},
	}
	for _, s := range sources {
		cfg.Sources = append(cfg.Sources, config.Plugin{Type: "mock", Name: s.Name(), Interval: 30 * time.Minute})
	}
	return cfg, reg
}

func buildRuntime(t *testing.T, cfg *config.Config, reg *registry.Registry) *Runtime {
	t.Helper()
	rt, err := Build(context.Background(), cfg, reg, quiet, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestBuildWiresPlugins(t *testing.T) {
	cfg, reg := testSetup(t, &mockSource{name: "a"}, &mockSource{name: "b"})
	rt := buildRuntime(t, cfg, reg)

	srcs := rt.Aggregator.Sources()
	if len(srcs) != 2 || srcs[0].Name() != "a" || srcs[1].Name() != "b" {
		t.Fatalf("expected sources a, b in config order, got %v", srcs)
	}
	if rt.Interval("a") != 30*time.Minute {
		t.Errorf("expected configured interval, got %v", rt.Interval("a"))
	}
	if rt.Interval("unknown") != config.DefaultInterval {
		t.Errorf("expected default interval, got %v", rt.Interval("unknown"))
	}
	if len(rt.Generators) != 1 || rt.Generators[0].OutputDir() != cfg.Settings.SnapshotDir {
		t.Errorf("expected one generator writing to the snapshot dir, got %+v", rt.Generators)
	}
}

func TestBuildFailsOnUnknownType(t *testing.T) {
	cfg, reg := testSetup(t)
	cfg.Enrichers = []config.Plugin{{Type: "mystery", Name: "m"}}

	rt, err := Build(context.Background(), cfg, reg, quiet, nil)
	if !errors.Is(err, registry.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if rt != nil {
		t.Error("expected no runtime on failure")
	}
}

func TestBuildFailsOnUnresolvedReference(t *testing.T) {
	cfg, reg := testSetup(t)
	cfg.Generators[0].Params = params(t, "provider: missing\nstorage: main")

	if _, err := Build(context.Background(), cfg, reg, quiet, nil); !errors.Is(err, registry.ErrUnresolvedRef) {
		t.Fatalf("expected ErrUnresolvedRef, got %v", err)
	}
}

func TestRunOnce(t *testing.T) {
	cfg, reg := testSetup(t, &mockSource{name: "feed", items: recentItems("feed", 2)})
	rt := buildRuntime(t, cfg, reg)

	res := rt.RunOnce(context.Background(), false)
	if res.Failed() {
		t.Fatalf("expected no failures, got %+v", res.Steps)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected fetch and generate steps, got %+v", res.Steps)
	}
	if res.Steps[0].Summary != "Stored 2 items" {
		t.Errorf("unexpected fetch summary %q", res.Steps[0].Summary)
	}
	if !strings.HasPrefix(res.Steps[1].Summary, "Generated summary for ") {
		t.Errorf("unexpected generate summary %q", res.Steps[1].Summary)
	}

	// A second run finds the stored summary and leaves it alone.
	res = rt.RunOnce(context.Background(), false)
	if !strings.HasSuffix(res.Steps[1].Summary, "already exists") {
		t.Errorf("expected existing summary to be kept, got %q", res.Steps[1].Summary)
	}
}

func TestRunOnceOnlyFetch(t *testing.T) {
	cfg, reg := testSetup(t, &mockSource{name: "feed", items: recentItems("feed", 1)})
	rt := buildRuntime(t, cfg, reg)

	res := rt.RunOnce(context.Background(), true)
	if len(res.Steps) != 1 || res.Steps[0].Name != "Fetch feed" {
		t.Fatalf("expected only the fetch step, got %+v", res.Steps)
	}
}

func TestFetchUnknownSource(t *testing.T) {
	cfg, reg := testSetup(t, &mockSource{name: "feed"})
	rt := buildRuntime(t, cfg, reg)

	res := rt.Fetch(context.Background(), "nope")
	if !res.Failed() || !errors.Is(res.Steps[0].Err, aggregator.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %+v", res.Steps)
	}
}

func TestHistorical(t *testing.T) {
	hist := &mockHistoricalSource{mockSource: mockSource{name: "archive"}}
	live := &mockSource{name: "live"}
	cfg, reg := testSetup(t, hist, live)
	rt := buildRuntime(t, cfg, reg)

	filter := aggregator.DateFilter{After: "2026-02-01", Before: "2026-02-03"}
	res, err := rt.Historical(context.Background(), "", filter, false)
	if err != nil {
		t.Fatalf("Historical: %v", err)
	}
	if len(hist.days) != 3 {
		t.Errorf("expected 3 backfilled days, got %v", hist.days)
	}
	if live.calls.Load() != 0 {
		t.Error("expected live-only source to be skipped")
	}
	// One backfill step plus one generation step per day.
	if len(res.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %+v", res.Steps)
	}
	if res.Steps[0].Summary != "Stored 3 items over 3 days" {
		t.Errorf("unexpected backfill summary %q", res.Steps[0].Summary)
	}
	for _, step := range res.Steps[1:] {
		if step.Err != nil || step.Summary != "Generated 1 categories" {
			t.Errorf("unexpected generation step %+v", step)
		}
	}
}

func TestHistoricalNamedLiveSource(t *testing.T) {
	cfg, reg := testSetup(t, &mockSource{name: "live"})
	rt := buildRuntime(t, cfg, reg)

	_, err := rt.Historical(context.Background(), "live", aggregator.DateFilter{During: "2026-02-01"}, true)
	if !errors.Is(err, content.ErrNotHistorical) {
		t.Fatalf("expected ErrNotHistorical, got %v", err)
	}
}

func TestDryRun(t *testing.T) {
	hist := &mockHistoricalSource{mockSource: mockSource{name: "archive"}}
	cfg, reg := testSetup(t, hist)
	rt := buildRuntime(t, cfg, reg)

	res := rt.DryRun()
	if len(res.Steps) != 2 {
		t.Fatalf("expected source and generator steps, got %+v", res.Steps)
	}
	if !strings.Contains(res.Steps[0].Summary, "live+historical") {
		t.Errorf("expected historical capability in dry run, got %q", res.Steps[0].Summary)
	}
	if hist.calls.Load() != 0 {
		t.Error("dry run must not fetch")
	}
}
