package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSource struct {
	name       string
	items      []content.Item
	historical map[string][]content.Item
	err        error
	block      chan struct{}
	started    chan struct{}
	calls      int
	mu         sync.Mutex
	once       sync.Once
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) FetchItems(ctx context.Context) ([]content.Item, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.block != nil {
		<-m.block
	}
	return m.items, m.err
}

type mockHistoricalSource struct {
	mockSource
}

func (m *mockHistoricalSource) FetchHistorical(ctx context.Context, windowKey string) ([]content.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.historical[windowKey], nil
}

type topicEnricher struct {
	topic string
	seen  int
}

func (e *topicEnricher) Enrich(ctx context.Context, items []content.Item) ([]content.Item, error) {
	e.seen += len(items)
	out := make([]content.Item, len(items))
	for i, it := range items {
		it.Topics = append(append([]string(nil), it.Topics...), e.topic)
		out[i] = it
	}
	return out, nil
}

type failingEnricher struct{}

func (failingEnricher) Enrich(ctx context.Context, items []content.Item) ([]content.Item, error) {
	return nil, errors.New("model returned garbage")
}

type shrinkingEnricher struct{}

func (shrinkingEnricher) Enrich(ctx context.Context, items []content.Item) ([]content.Item, error) {
	return items[:0], nil
}

type mockStorage struct {
	mu      sync.Mutex
	items   map[string]content.Item
	saved   [][]content.Item
	saveErr error
	lookups int
}

func newMockStorage(existing ...content.Item) *mockStorage {
	s := &mockStorage{items: make(map[string]content.Item)}
	for _, it := range existing {
		s.items[it.CID] = it
	}
	return s
}

func (s *mockStorage) Init(ctx context.Context) error { return nil }
func (s *mockStorage) Close() error                   { return nil }

func (s *mockStorage) SaveContentItems(ctx context.Context, items []content.Item) ([]content.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, items)
	for _, it := range items {
		if it.CID != "" {
			s.items[it.CID] = it
		}
	}
	return items, nil
}

func (s *mockStorage) GetContentItem(ctx context.Context, cid string) (*content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	it, ok := s.items[cid]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (s *mockStorage) SaveSummaryItem(ctx context.Context, sum content.Summary) error { return nil }

func (s *mockStorage) GetSummaryBetweenEpoch(ctx context.Context, start, end int64, excludeType string) ([]content.Summary, error) {
	return nil, nil
}

func (s *mockStorage) GetContentItemsBetweenEpoch(ctx context.Context, start, end int64, excludeType string) ([]content.Item, error) {
	return nil, nil
}

func cids(items []content.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.CID
	}
	return out
}

func TestFetchAllOrderAndEnrichment(t *testing.T) {
	agg := New(quietLogger(), nil)
	agg.RegisterSource(&mockSource{name: "s1", items: []content.Item{{CID: "a"}}})
	agg.RegisterSource(&mockSource{name: "s2", items: []content.Item{{CID: "b"}}})
	agg.RegisterEnricher(&topicEnricher{topic: "x"})

	got := agg.FetchAll(context.Background())
	if len(got) != 2 || got[0].CID != "a" || got[1].CID != "b" {
		t.Fatalf("expected [a b], got %v", cids(got))
	}
	for _, it := range got {
		if len(it.Topics) != 1 || it.Topics[0] != "x" {
			t.Errorf("item %s: expected topics [x], got %v", it.CID, it.Topics)
		}
	}
}

func TestEnrichersRunInRegistrationOrder(t *testing.T) {
	agg := New(quietLogger(), nil)
	agg.RegisterSource(&mockSource{name: "s", items: []content.Item{{CID: "a"}}})
	agg.RegisterEnricher(&topicEnricher{topic: "first"})
	agg.RegisterEnricher(&topicEnricher{topic: "second"})

	got := agg.FetchAll(context.Background())
	if len(got[0].Topics) != 2 || got[0].Topics[0] != "first" || got[0].Topics[1] != "second" {
		t.Errorf("expected [first second], got %v", got[0].Topics)
	}
}

func TestFailingSourceContributesNothing(t *testing.T) {
	agg := New(quietLogger(), nil)
	agg.RegisterSource(&mockSource{name: "bad", err: errors.New("401 unauthorized")})
	agg.RegisterSource(&mockSource{name: "good", items: []content.Item{{CID: "g"}}})

	got := agg.FetchAll(context.Background())
	if len(got) != 1 || got[0].CID != "g" {
		t.Errorf("expected only [g], got %v", cids(got))
	}
}

func TestFailingEnricherKeepsBatch(t *testing.T) {
	agg := New(quietLogger(), nil)
	agg.RegisterSource(&mockSource{name: "s", items: []content.Item{{CID: "a"}, {CID: "b"}}})
	agg.RegisterEnricher(failingEnricher{})
	agg.RegisterEnricher(shrinkingEnricher{})
	agg.RegisterEnricher(&topicEnricher{topic: "x"})

	got := agg.FetchAll(context.Background())
	if len(got) != 2 {
		t.Fatalf("expected batch preserved, got %v", cids(got))
	}
	if len(got[0].Topics) != 1 {
		t.Errorf("expected later enricher still applied, got %v", got[0].Topics)
	}
}

func TestFetchSourceUnknown(t *testing.T) {
	agg := New(quietLogger(), nil)
	if _, err := agg.FetchSource(context.Background(), "nope"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestFetchSourceOnlyNamed(t *testing.T) {
	s1 := &mockSource{name: "s1", items: []content.Item{{CID: "a"}}}
	s2 := &mockSource{name: "s2", items: []content.Item{{CID: "b"}}}
	agg := New(quietLogger(), nil)
	agg.RegisterSource(s1)
	agg.RegisterSource(s2)

	got, err := agg.FetchSource(context.Background(), "s2")
	if err != nil {
		t.Fatalf("FetchSource: %v", err)
	}
	if len(got) != 1 || got[0].CID != "b" {
		t.Errorf("expected [b], got %v", cids(got))
	}
	if s1.calls != 0 {
		t.Error("expected s1 not to be fetched")
	}
}

func TestFetchAndStoreWithoutStorage(t *testing.T) {
	src := &mockSource{name: "s", items: []content.Item{{CID: "a"}}}
	agg := New(quietLogger(), nil)
	agg.RegisterSource(src)

	_, err := agg.FetchAndStore(context.Background(), "s")
	if !errors.Is(err, ErrNoStorage) {
		t.Errorf("expected ErrNoStorage, got %v", err)
	}
	if src.calls != 0 {
		t.Error("expected no fetch without storage")
	}
}

func TestFetchAndStorePersists(t *testing.T) {
	store := newMockStorage()
	agg := New(quietLogger(), nil)
	agg.RegisterSource(&mockSource{name: "s", items: []content.Item{{CID: "a"}, {CID: "b"}}})
	agg.RegisterEnricher(&topicEnricher{topic: "x"})
	agg.RegisterStorage(store)

	saved, err := agg.FetchAndStore(context.Background(), "s")
	if err != nil {
		t.Fatalf("FetchAndStore: %v", err)
	}
	if len(saved) != 2 || len(store.saved) != 1 {
		t.Fatalf("expected one batch of 2, got %d items in %d batches", len(saved), len(store.saved))
	}
	if store.items["a"].Topics[0] != "x" {
		t.Error("expected enriched items to be stored")
	}
}

func TestFetchAndStorePropagatesStorageError(t *testing.T) {
	store := newMockStorage()
	store.saveErr = errors.New("disk I/O error")
	agg := New(quietLogger(), nil)
	agg.RegisterSource(&mockSource{name: "s", items: []content.Item{{CID: "a"}}})
	agg.RegisterStorage(store)

	if _, err := agg.FetchAndStore(context.Background(), "s"); err == nil {
		t.Error("expected storage error to propagate")
	}
}

// cancelingSource simulates a shutdown signal arriving mid-fetch.
type cancelingSource struct {
	mockSource
	cancel    context.CancelFunc
	commits   int
	commitErr error
}

func (c *cancelingSource) FetchItems(ctx context.Context) ([]content.Item, error) {
	if c.cancel != nil {
		c.cancel()
	}
	return c.items, c.err
}

func (c *cancelingSource) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.commits++
	return c.commitErr
}

func TestFetchAndStoreDrainsBatchAfterCancel(t *testing.T) {
	store := newMockStorage()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelingSource{mockSource: mockSource{name: "s", items: []content.Item{{CID: "a"}}}, cancel: cancel}
	agg := New(quietLogger(), nil)
	agg.RegisterSource(src)
	agg.RegisterStorage(store)

	saved, err := agg.FetchAndStore(ctx, "s")
	if err != nil {
		t.Fatalf("FetchAndStore: %v", err)
	}
	if len(saved) != 1 || store.items["a"].CID != "a" {
		t.Errorf("expected fetched batch to be stored after cancel, got %v", cids(saved))
	}
	if src.commits != 1 {
		t.Errorf("expected source to be committed once, got %d", src.commits)
	}
}

func TestFetchAndStoreCommitsOnlyAfterStore(t *testing.T) {
	store := newMockStorage()
	store.saveErr = errors.New("disk I/O error")
	src := &cancelingSource{mockSource: mockSource{name: "s", items: []content.Item{{CID: "a"}}}}
	agg := New(quietLogger(), nil)
	agg.RegisterSource(src)
	agg.RegisterStorage(store)

	if _, err := agg.FetchAndStore(context.Background(), "s"); err == nil {
		t.Fatal("expected storage error")
	}
	if src.commits != 0 {
		t.Errorf("expected no commit after failed store, got %d", src.commits)
	}
}

func TestFetchAndStoreCommitFailureKeepsItems(t *testing.T) {
	store := newMockStorage()
	src := &cancelingSource{
		mockSource: mockSource{name: "s", items: []content.Item{{CID: "a"}}},
		commitErr:  errors.New("state table locked"),
	}
	agg := New(quietLogger(), nil)
	agg.RegisterSource(src)
	agg.RegisterStorage(store)

	saved, err := agg.FetchAndStore(context.Background(), "s")
	if err != nil {
		t.Fatalf("FetchAndStore: %v", err)
	}
	if len(saved) != 1 {
		t.Errorf("expected stored items to be returned, got %v", cids(saved))
	}
}

func TestFetchInProgressGuard(t *testing.T) {
	src := &mockSource{
		name:    "slow",
		items:   []content.Item{{CID: "a"}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	agg := New(quietLogger(), nil)
	agg.RegisterSource(src)
	agg.RegisterStorage(newMockStorage())

	done := make(chan error, 1)
	go func() {
		_, err := agg.FetchAndStore(context.Background(), "slow")
		done <- err
	}()
	<-src.started

	if _, err := agg.FetchAndStore(context.Background(), "slow"); !errors.Is(err, ErrFetchInProgress) {
		t.Errorf("expected ErrFetchInProgress for overlapping fetch, got %v", err)
	}
	if got := agg.FetchAll(context.Background()); len(got) != 0 {
		t.Errorf("expected FetchAll to skip busy source, got %v", cids(got))
	}

	close(src.block)
	if err := <-done; err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("expected exactly one upstream call, got %d", src.calls)
	}

	// The guard is released once the first fetch completes.
	if _, err := agg.FetchSource(context.Background(), "slow"); err != nil {
		t.Errorf("expected fetch to succeed after release, got %v", err)
	}
}

func TestHistoricalDropsStoredItemsBeforeEnrichment(t *testing.T) {
	store := newMockStorage(content.Item{CID: "old"})
	src := &mockHistoricalSource{mockSource{
		name: "hist",
		historical: map[string][]content.Item{
			"2026-02-05": {{CID: "old"}, {CID: "new"}, {Text: "no cid"}},
		},
	}}
	enricher := &topicEnricher{topic: "x"}

	agg := New(quietLogger(), nil)
	agg.RegisterSource(src)
	agg.RegisterEnricher(enricher)
	agg.RegisterStorage(store)

	got, err := agg.FetchSourceHistorical(context.Background(), "hist", "2026-02-05")
	if err != nil {
		t.Fatalf("FetchSourceHistorical: %v", err)
	}
	if len(got) != 2 || got[0].CID != "new" || got[1].CID != "" {
		t.Fatalf("expected [new, <no cid>], got %v", cids(got))
	}
	if enricher.seen != 2 {
		t.Errorf("expected enrichment only for fresh items, enricher saw %d", enricher.seen)
	}
}

func TestHistoricalRequiresHistoricalSource(t *testing.T) {
	agg := New(quietLogger(), nil)
	agg.RegisterSource(&mockSource{name: "live"})
	agg.RegisterStorage(newMockStorage())

	_, err := agg.FetchSourceHistorical(context.Background(), "live", "2026-02-05")
	if !errors.Is(err, content.ErrNotHistorical) {
		t.Errorf("expected ErrNotHistorical, got %v", err)
	}
	if !IsSkippable(err) {
		t.Error("expected ErrNotHistorical to be skippable")
	}
}

func TestProcessItemsWithoutStorage(t *testing.T) {
	agg := New(quietLogger(), nil)
	in := []content.Item{{CID: "a"}, {CID: "b"}}
	out, err := agg.ProcessItems(context.Background(), in)
	if err != nil || len(out) != 2 {
		t.Errorf("expected passthrough, got %v err=%v", cids(out), err)
	}
}

func TestFetchAndStoreRange(t *testing.T) {
	store := newMockStorage()
	src := &mockHistoricalSource{mockSource{
		name: "hist",
		historical: map[string][]content.Item{
			"2026-02-01": {{CID: "d1"}},
			"2026-02-02": {{CID: "d2"}, {CID: "d1"}},
			"2026-02-03": {{CID: "d3"}},
		},
	}}
	agg := New(quietLogger(), nil)
	agg.RegisterSource(src)
	agg.RegisterStorage(store)

	n, err := agg.FetchAndStoreRange(context.Background(), "hist",
		DateFilter{After: "2026-02-01", Before: "2026-02-03"}, time.Now())
	if err != nil {
		t.Fatalf("FetchAndStoreRange: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 new items across the range, got %d", n)
	}
	if len(store.items) != 3 {
		t.Errorf("expected 3 stored items, got %d", len(store.items))
	}
}
