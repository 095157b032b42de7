// Package aggregator drives registered sources through fetch, enrichment,
// deduplication and storage, both for live fetches and bounded backfills.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/metrics"
)

var (
	// ErrNoStorage is reported when persistence is requested without storage.
	ErrNoStorage = errors.New("no storage registered")
	// ErrFetchInProgress is returned when a fetch for the same source is
	// already running.
	ErrFetchInProgress = errors.New("fetch already in progress")
	// ErrUnknownSource is returned for a source name that was never registered.
	ErrUnknownSource = errors.New("unknown source")
)

// Aggregator owns the registered sources, enrichers and storage.
type Aggregator struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	sources   []content.Source
	enrichers []content.Enricher
	storage   content.Storage
	inFlight  map[string]struct{}
}

// New creates an empty aggregator. A nil logger uses slog.Default().
func New(log *slog.Logger, m *metrics.Metrics) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{log: log, metrics: m, inFlight: make(map[string]struct{})}
}

// RegisterSource appends a source. Fetch order follows registration order.
func (a *Aggregator) RegisterSource(s content.Source) {
	a.mu.Lock()
	a.sources = append(a.sources, s)
	a.mu.Unlock()
}

// RegisterEnricher appends an enricher. Enrichers run in registration order.
func (a *Aggregator) RegisterEnricher(e content.Enricher) {
	a.mu.Lock()
	a.enrichers = append(a.enrichers, e)
	a.mu.Unlock()
}

// RegisterStorage sets the storage backend.
func (a *Aggregator) RegisterStorage(s content.Storage) {
	a.mu.Lock()
	a.storage = s
	a.mu.Unlock()
}

// Sources returns the registered sources in registration order.
func (a *Aggregator) Sources() []content.Source {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]content.Source(nil), a.sources...)
}

func (a *Aggregator) snapshot() ([]content.Source, []content.Enricher, content.Storage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]content.Source(nil), a.sources...),
		append([]content.Enricher(nil), a.enrichers...),
		a.storage
}

func (a *Aggregator) source(name string) (content.Source, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sources {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
}

// acquire marks name as being fetched. It fails if a fetch is already running.
func (a *Aggregator) acquire(name string) (release func(), err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inFlight[name]; busy {
		a.metrics.FetchSkipped(name)
		return nil, fmt.Errorf("%s: %w", name, ErrFetchInProgress)
	}
	a.inFlight[name] = struct{}{}
	return func() {
		a.mu.Lock()
		delete(a.inFlight, name)
		a.mu.Unlock()
	}, nil
}

// FetchAll fetches every registered source in registration order, then runs
// the enrichers over the combined batch. Sources that fail, or that are
// already being fetched, contribute no items.
func (a *Aggregator) FetchAll(ctx context.Context) []content.Item {
	sources, enrichers, _ := a.snapshot()

	var all []content.Item
	for _, s := range sources {
		release, err := a.acquire(s.Name())
		if err != nil {
			a.log.Warn("skipping source", "source", s.Name(), "error", err)
			continue
		}
		all = append(all, a.fetchOne(ctx, s)...)
		release()
	}
	return a.enrich(ctx, enrichers, all)
}

// FetchSource fetches one source by name and enriches the result.
func (a *Aggregator) FetchSource(ctx context.Context, name string) ([]content.Item, error) {
	s, err := a.source(name)
	if err != nil {
		return nil, err
	}
	release, err := a.acquire(name)
	if err != nil {
		return nil, err
	}
	defer release()

	_, enrichers, _ := a.snapshot()
	return a.enrich(ctx, enrichers, a.fetchOne(ctx, s)), nil
}

// FetchAndStore fetches one source and persists the enriched items. Storage
// failures are returned; a missing storage is logged and reported as
// ErrNoStorage without fetching.
func (a *Aggregator) FetchAndStore(ctx context.Context, name string) ([]content.Item, error) {
	s, err := a.source(name)
	if err != nil {
		return nil, err
	}
	_, enrichers, storage := a.snapshot()
	if storage == nil {
		a.log.Error("cannot store items: no storage registered", "source", name)
		return nil, ErrNoStorage
	}

	release, err := a.acquire(name)
	if err != nil {
		return nil, err
	}
	defer release()

	items := a.enrich(ctx, enrichers, a.fetchOne(ctx, s))
	saved, err := a.store(ctx, storage, name, items)
	if err != nil {
		return nil, err
	}
	a.commit(ctx, s)
	return saved, nil
}

// commit lets a source advance its read position once its batch is stored.
func (a *Aggregator) commit(ctx context.Context, s content.Source) {
	c, ok := s.(content.Committer)
	if !ok {
		return
	}
	if err := c.Commit(context.WithoutCancel(ctx)); err != nil {
		a.log.Warn("source commit failed, items may be fetched again", "source", s.Name(), "error", err)
	}
}

func (a *Aggregator) fetchOne(ctx context.Context, s content.Source) []content.Item {
	start := time.Now()
	items, err := s.FetchItems(ctx)
	a.metrics.ObserveFetch(s.Name(), time.Since(start))
	if err != nil {
		a.metrics.SourceError(s.Name())
		a.log.Error("source fetch failed", "source", s.Name(), "error", err)
		return nil
	}
	a.metrics.ItemsFetched(s.Name(), len(items))
	a.log.Debug("fetched items", "source", s.Name(), "count", len(items))
	return items
}

// enrich runs each enricher over the whole batch. A failing enricher, or one
// that does not return exactly one item per input, leaves the batch as it was.
func (a *Aggregator) enrich(ctx context.Context, enrichers []content.Enricher, items []content.Item) []content.Item {
	if len(items) == 0 {
		return items
	}
	for _, e := range enrichers {
		out, err := e.Enrich(ctx, items)
		if err == nil && len(out) != len(items) {
			err = fmt.Errorf("returned %d items for %d inputs", len(out), len(items))
		}
		if err != nil {
			a.metrics.EnrichError(enricherName(e))
			a.log.Error("enricher failed, keeping batch unchanged", "enricher", enricherName(e), "error", err)
			continue
		}
		items = out
	}
	return items
}

func (a *Aggregator) store(ctx context.Context, storage content.Storage, name string, items []content.Item) ([]content.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	// A fetched batch is committed even when shutdown cancels ctx.
	saved, err := storage.SaveContentItems(context.WithoutCancel(ctx), items)
	if err != nil {
		return nil, fmt.Errorf("storing items from %s: %w", name, err)
	}
	a.metrics.ItemsStored(name, len(saved))
	a.log.Info("stored items", "source", name, "count", len(saved))
	return saved, nil
}

type named interface {
	Name() string
}

func enricherName(e content.Enricher) string {
	if n, ok := e.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", e)
}
