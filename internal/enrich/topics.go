// Package enrich holds the batch enrichers applied between fetch and storage.
package enrich

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

// TopicRule maps a topic to the keywords that select it.
type TopicRule struct {
	Topic    string   `yaml:"topic"`
	Keywords []string `yaml:"keywords"`
}

// KeywordTopics tags items whose title or text mentions a rule keyword.
type KeywordTopics struct {
	rules []TopicRule
}

func NewKeywordTopics(rules []TopicRule) *KeywordTopics {
	return &KeywordTopics{rules: rules}
}

func (k *KeywordTopics) Name() string { return "topics" }

// Enrich sets each item's topics to the rules it matches, in rule order.
// Matching is a case-insensitive substring test.
func (k *KeywordTopics) Enrich(_ context.Context, items []content.Item) ([]content.Item, error) {
	out := make([]content.Item, len(items))
	for i, it := range items {
		text := strings.ToLower(it.Title + " " + it.Text)
		var matched []string
		for _, r := range k.rules {
			for _, kw := range r.Keywords {
				if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
					matched = append(matched, r.Topic)
					break
				}
			}
		}
		it.Topics = matched
		out[i] = it
	}
	return out, nil
}

// DefaultTopicThreshold is the shortest text sent to the model for topics.
const DefaultTopicThreshold = 300

// TopicsProvider is the part of an AI provider AITopics needs.
type TopicsProvider interface {
	Topics(ctx context.Context, text string) ([]string, error)
}

// AITopics asks a model for topics on items with enough text.
type AITopics struct {
	provider  TopicsProvider
	threshold int
	log       *slog.Logger
}

// NewAITopics creates the enricher. A threshold <= 0 uses
// DefaultTopicThreshold.
func NewAITopics(provider TopicsProvider, threshold int, log *slog.Logger) *AITopics {
	if threshold <= 0 {
		threshold = DefaultTopicThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &AITopics{provider: provider, threshold: threshold, log: log}
}

func (a *AITopics) Name() string { return "ai_topics" }

// Enrich replaces topics on items whose text reaches the threshold. An item
// the model fails on keeps its previous topics.
func (a *AITopics) Enrich(ctx context.Context, items []content.Item) ([]content.Item, error) {
	out := make([]content.Item, len(items))
	for i, it := range items {
		out[i] = it
		if utf8.RuneCountInString(it.Text) < a.threshold {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		topics, err := a.provider.Topics(ctx, it.Text)
		if err != nil {
			a.log.Warn("topic extraction failed", "cid", it.CID, "error", err)
			continue
		}
		out[i].Topics = topics
	}
	return out, nil
}
