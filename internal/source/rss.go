package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

const defaultMaxPerFeed = 20

// RSSConfig configures an RSS or Atom feed.
type RSSConfig struct {
	URL      string `yaml:"url"`
	MaxItems int    `yaml:"max_items"`
}

// RSS reads one RSS or Atom feed.
type RSS struct {
	name   string
	cfg    RSSConfig
	parser *gofeed.Parser
	now    func() time.Time
}

func NewRSS(name string, cfg RSSConfig) (*RSS, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rss source %s: url is required", name)
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxPerFeed
	}
	if name == "" {
		name = feedName(cfg.URL)
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = newHTTPClient(0)
	return &RSS{name: name, cfg: cfg, parser: parser, now: time.Now}, nil
}

func (r *RSS) Name() string { return r.name }

func (r *RSS) FetchItems(ctx context.Context) ([]content.Item, error) {
	feed, err := r.parser.ParseURLWithContext(r.cfg.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", r.cfg.URL, err)
	}

	var items []content.Item
	for _, fi := range feed.Items {
		if len(items) >= r.cfg.MaxItems {
			break
		}
		if it, ok := r.toItem(fi); ok {
			items = append(items, it)
		}
	}
	return items, nil
}

func (r *RSS) toItem(fi *gofeed.Item) (content.Item, bool) {
	link := fi.Link
	if link == "" {
		link = fi.GUID
	}
	title := strings.TrimSpace(fi.Title)
	if link == "" || title == "" {
		return content.Item{}, false
	}

	published := fi.PublishedParsed
	if published == nil {
		published = fi.UpdatedParsed
	}

	text := fi.Content
	if text == "" {
		text = fi.Description
	}

	meta := content.Metadata{}
	if fi.Image != nil && fi.Image.URL != "" {
		meta["photos"] = []string{fi.Image.URL}
	}
	for _, enc := range fi.Enclosures {
		switch {
		case strings.HasPrefix(enc.Type, "image/"):
			meta["photos"] = append(stringSlice(meta["photos"]), enc.URL)
		case strings.HasPrefix(enc.Type, "video/"):
			meta["videos"] = append(stringSlice(meta["videos"]), enc.URL)
		}
	}
	if len(fi.Authors) > 0 && fi.Authors[0].Name != "" {
		meta["author"] = fi.Authors[0].Name
	}
	if len(meta) == 0 {
		meta = nil
	}

	return content.Item{
		CID:      linkCID("rss", link),
		Type:     "rss",
		Source:   r.name,
		Title:    title,
		Text:     plainText(text),
		Link:     link,
		Date:     epoch(published, r.now()),
		Metadata: meta,
	}, true
}

func stringSlice(v any) []string {
	s, _ := v.([]string)
	return s
}

// feedName derives a display name from a feed URL.
func feedName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}
