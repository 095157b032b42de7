// Package content defines the normalized record shapes and the capability
// contracts shared by sources, enrichers, storage backends and generators.
package content

import (
	"context"
	"errors"
	"strings"
)

// ErrNotHistorical is returned when a historical fetch is requested from a
// source that only supports live fetching.
var ErrNotHistorical = errors.New("source does not support historical fetch")

// Metadata is an open key/value bag attached to an item.
type Metadata map[string]any

// Item is the unit of ingested content. A non-empty CID identifies the same
// logical item across sources and fetches; an empty CID is never deduplicated.
type Item struct {
	CID      string   `json:"cid,omitempty"`
	Type     string   `json:"type"`
	Source   string   `json:"source"`
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text,omitempty"`
	Link     string   `json:"link,omitempty"`
	Topics   []string `json:"topics,omitempty"`
	Date     int64    `json:"date"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Photos returns the image URLs recorded in the item's metadata.
func (it Item) Photos() []string {
	return stringList(it.Metadata["photos"])
}

// Videos returns the video URLs recorded in the item's metadata.
func (it Item) Videos() []string {
	return stringList(it.Metadata["videos"])
}

// HasMedia reports whether the item carries any image or video.
func (it Item) HasMedia() bool {
	return len(it.Photos()) > 0 || len(it.Videos()) > 0
}

// IsMarketAnalytics reports whether the item is a market data snapshot.
func (it Item) IsMarketAnalytics() bool {
	return strings.HasSuffix(it.Type, "MarketAnalytics") || strings.HasSuffix(it.Type, "TokenAnalytics")
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	}
	return nil
}

// Entry is a single summarized point inside a category.
type Entry struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
	Images  []string `json:"images"`
	Videos  []string `json:"videos"`
}

// Category is the summary of one topic group.
type Category struct {
	Title   string  `json:"title"`
	Topic   string  `json:"topic,omitempty"`
	Content []Entry `json:"content"`
}

// Summary is a generated digest covering one window. Date is the start of
// the covered UTC day, not the generation time, so (Type, Date) names a day.
type Summary struct {
	ID         int64      `json:"-"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Categories []Category `json:"categories"`
	Date       int64      `json:"date"`
}

// Source produces items from one external origin.
type Source interface {
	Name() string
	FetchItems(ctx context.Context) ([]Item, error)
}

// HistoricalSource is a Source that can also fetch a bounded past window.
// The window key is a day in YYYY-MM-DD form.
type HistoricalSource interface {
	Source
	FetchHistorical(ctx context.Context, windowKey string) ([]Item, error)
}

// Enricher transforms a whole batch. Implementations must return one item
// per input item, in input order.
type Enricher interface {
	Enrich(ctx context.Context, items []Item) ([]Item, error)
}

// Committer is implemented by sources that advance a read position only
// after their last batch has been stored.
type Committer interface {
	Commit(ctx context.Context) error
}

// Storage persists items and summaries. SaveContentItems upserts by CID:
// a repeated CID keeps its title, text and topics and replaces its metadata.
type Storage interface {
	Init(ctx context.Context) error
	Close() error
	SaveContentItems(ctx context.Context, items []Item) ([]Item, error)
	GetContentItem(ctx context.Context, cid string) (*Item, error)
	SaveSummaryItem(ctx context.Context, s Summary) error
	GetSummaryBetweenEpoch(ctx context.Context, start, end int64, excludeType string) ([]Summary, error)
	GetContentItemsBetweenEpoch(ctx context.Context, start, end int64, excludeType string) ([]Item, error)
}
