package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

// FetchSourceHistorical fetches the window identified by windowKey from one
// source, drops items already in storage, then enriches the remainder.
func (a *Aggregator) FetchSourceHistorical(ctx context.Context, name, windowKey string) ([]content.Item, error) {
	s, err := a.source(name)
	if err != nil {
		return nil, err
	}
	hs, ok := s.(content.HistoricalSource)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, content.ErrNotHistorical)
	}

	release, err := a.acquire(name)
	if err != nil {
		return nil, err
	}
	defer release()

	_, enrichers, storage := a.snapshot()
	return a.fetchHistorical(ctx, hs, enrichers, storage, windowKey)
}

// FetchAndStoreHistorical is FetchSourceHistorical followed by a save.
func (a *Aggregator) FetchAndStoreHistorical(ctx context.Context, name, windowKey string) ([]content.Item, error) {
	s, err := a.source(name)
	if err != nil {
		return nil, err
	}
	hs, ok := s.(content.HistoricalSource)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, content.ErrNotHistorical)
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

	items, err := a.fetchHistorical(ctx, hs, enrichers, storage, windowKey)
	if err != nil {
		return nil, err
	}
	return a.store(ctx, storage, name, items)
}

// FetchAndStoreRange runs FetchAndStoreHistorical for every day selected by
// filter, oldest first. It stops at the first storage error.
func (a *Aggregator) FetchAndStoreRange(ctx context.Context, name string, filter DateFilter, now time.Time) (int, error) {
	days, err := filter.Days(now)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		saved, err := a.FetchAndStoreHistorical(ctx, name, day)
		if err != nil {
			return total, fmt.Errorf("%s on %s: %w", name, day, err)
		}
		total += len(saved)
	}
	return total, nil
}

func (a *Aggregator) fetchHistorical(ctx context.Context, hs content.HistoricalSource, enrichers []content.Enricher, storage content.Storage, windowKey string) ([]content.Item, error) {
	start := time.Now()
	items, err := hs.FetchHistorical(ctx, windowKey)
	a.metrics.ObserveFetch(hs.Name(), time.Since(start))
	if err != nil {
		a.metrics.SourceError(hs.Name())
		a.log.Error("historical fetch failed", "source", hs.Name(), "window", windowKey, "error", err)
		return nil, nil
	}
	a.metrics.ItemsFetched(hs.Name(), len(items))

	fresh, err := a.processItems(ctx, storage, items)
	if err != nil {
		return nil, err
	}
	if dropped := len(items) - len(fresh); dropped > 0 {
		a.metrics.DedupDropped(hs.Name(), dropped)
		a.log.Info("skipped already stored items", "source", hs.Name(), "window", windowKey, "count", dropped)
	}
	return a.enrich(ctx, enrichers, fresh), nil
}

// ProcessItems drops every item whose CID already exists in storage. Items
// without a CID are kept. Without storage the batch is returned unchanged.
func (a *Aggregator) ProcessItems(ctx context.Context, items []content.Item) ([]content.Item, error) {
	_, _, storage := a.snapshot()
	return a.processItems(ctx, storage, items)
}

func (a *Aggregator) processItems(ctx context.Context, storage content.Storage, items []content.Item) ([]content.Item, error) {
	if storage == nil {
		return items, nil
	}
	out := make([]content.Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.CID == "" {
			out = append(out, it)
			continue
		}
		if _, dup := seen[it.CID]; dup {
			continue
		}
		seen[it.CID] = struct{}{}

		stored, err := storage.GetContentItem(ctx, it.CID)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", it.CID, err)
		}
		if stored != nil {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// IsSkippable reports whether err is an expected condition for a scheduled
// tick rather than a failure.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrFetchInProgress) || errors.Is(err, content.ErrNotHistorical)
}
