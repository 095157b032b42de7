// Package summary produces the daily digest: it groups a window of stored
// items by topic, asks the model for one summary per topic, and keeps the
// stored row and its JSON snapshot on disk in sync.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/grouper"
	"github.com/TobiSchelling/AIDigest/internal/llm"
	"github.com/TobiSchelling/AIDigest/internal/metrics"
)

const (
	DefaultType      = "dailySummary"
	DefaultMaxGroups = 10
	lookback         = 24 * time.Hour
	maxItemText      = 1000
)

// ErrNoContent is returned when the covered window holds no items.
var ErrNoContent = errors.New("no content in window")

const topicPrompt = `You are writing one section of a daily community digest for %s.

Topic: %s

Summarize the items below into a few concise points. Keep every URL you cite exactly as given and attach images and videos only to the point they illustrate.

Items:
%s

Respond with ONLY this JSON:
{
    "title": "A short title for this topic",
    "content": [
        {"text": "One summarized point", "sources": ["https://..."], "images": ["https://..."], "videos": ["https://..."]}
    ]
}`

// Summarizer is the part of an AI provider the generator needs.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Generator builds summaries from stored items.
type Generator struct {
	provider    Summarizer
	storage     content.Storage
	summaryType string
	outputDir   string
	maxGroups   int
	now         func() time.Time
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithMaxGroups caps the number of topic groups summarized per run.
func WithMaxGroups(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxGroups = n
		}
	}
}

// New creates a generator. An empty outputDir disables snapshot files.
func New(provider Summarizer, storage content.Storage, summaryType, outputDir string, opts ...Option) *Generator {
	if summaryType == "" {
		summaryType = DefaultType
	}
	g := &Generator{
		provider:    provider,
		storage:     storage,
		summaryType: summaryType,
		outputDir:   outputDir,
		maxGroups:   DefaultMaxGroups,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Type returns the summary type this generator writes.
func (g *Generator) Type() string { return g.summaryType }

// OutputDir returns the snapshot directory.
func (g *Generator) OutputDir() string { return g.outputDir }

// GenerateAndStore summarizes the 24 hours before now and stores the result
// under day.
func (g *Generator) GenerateAndStore(ctx context.Context, day string) (*content.Summary, error) {
	end := g.now()
	return g.generate(ctx, day, end.Add(-lookback).Unix(), end.Unix())
}

// GenerateForDay summarizes the calendar day itself, for backfilled data.
func (g *Generator) GenerateForDay(ctx context.Context, day string) (*content.Summary, error) {
	start, end, err := database.DayBounds(day)
	if err != nil {
		return nil, err
	}
	return g.generate(ctx, day, start, end)
}

func (g *Generator) generate(ctx context.Context, day string, start, end int64) (*content.Summary, error) {
	dayStart, _, err := database.DayBounds(day)
	if err != nil {
		return nil, err
	}
	if g.provider == nil {
		g.metrics.Summary("failed")
		return nil, llm.ErrNotConfigured
	}

	items, err := g.storage.GetContentItemsBetweenEpoch(ctx, start, end, g.summaryType)
	if err != nil {
		g.metrics.Summary("failed")
		return nil, fmt.Errorf("loading items for %s: %w", day, err)
	}
	if len(items) == 0 {
		g.log.Warn("no content to summarize", "day", day)
		g.metrics.Summary("skipped")
		return nil, fmt.Errorf("%s: %w", day, ErrNoContent)
	}

	groups := grouper.GroupItems(items)
	g.log.Info("grouped items", "day", day, "items", len(items), "groups", len(groups))

	var categories []content.Category
	summarized := 0
	for _, grp := range groups {
		if len(grp.Items) == 0 {
			continue
		}
		if summarized >= g.maxGroups {
			g.log.Debug("group cap reached, skipping topic", "topic", grp.Topic)
			continue
		}
		summarized++

		cat, err := g.summarizeGroup(ctx, day, grp)
		if err != nil {
			g.metrics.TopicDropped()
			g.log.Error("dropping topic", "topic", grp.Topic, "error", err)
			continue
		}
		categories = append(categories, *cat)
	}

	s := content.Summary{
		Type:       g.summaryType,
		Title:      fmt.Sprintf("Daily Report - %s", day),
		Categories: categories,
		Date:       dayStart,
	}
	if err := g.storage.SaveSummaryItem(context.WithoutCancel(ctx), s); err != nil {
		g.metrics.Summary("failed")
		return nil, fmt.Errorf("storing summary for %s: %w", day, err)
	}
	if err := g.writeSnapshot(day, s); err != nil {
		g.metrics.Summary("failed")
		return nil, err
	}

	g.metrics.Summary("generated")
	g.log.Info("summary stored", "day", day, "categories", len(categories))
	return &s, nil
}

func (g *Generator) summarizeGroup(ctx context.Context, day string, grp grouper.Group) (*content.Category, error) {
	prompt := fmt.Sprintf(topicPrompt, day, grp.Topic, formatItems(grp.Items))
	reply, err := g.provider.Summarize(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var cat content.Category
	if err := llm.ParseJSON(reply, &cat); err != nil {
		return nil, err
	}
	cat.Topic = grp.Topic
	if cat.Title == "" {
		cat.Title = grp.Topic
	}
	return &cat, nil
}

// formatItems renders the items worth showing the model: those with media
// and market snapshots.
func formatItems(items []content.Item) string {
	var parts []string
	for _, it := range items {
		if !it.HasMedia() && !it.IsMarketAnalytics() {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "- %s", itemText(it))
		if it.Link != "" {
			fmt.Fprintf(&b, "\n  URL: %s", it.Link)
		}
		if photos := it.Photos(); len(photos) > 0 {
			fmt.Fprintf(&b, "\n  Images: %s", strings.Join(photos, ", "))
		}
		if videos := it.Videos(); len(videos) > 0 {
			fmt.Fprintf(&b, "\n  Videos: %s", strings.Join(videos, ", "))
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

func itemText(it content.Item) string {
	text := it.Text
	if text == "" {
		text = it.Title
	}
	text = strings.Join(strings.Fields(text), " ")
	return truncate(text, maxItemText)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
