package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

const (
	userAgent       = "aidigest/1.0 (news aggregator)"
	maxPageBytes    = 5 << 20
	minExtractedLen = 100
)

// Crawl replaces an item's text with the readable text of its link when the
// extracted text is longer.
type Crawl struct {
	client *http.Client
	log    *slog.Logger
}

// NewCrawl creates a crawl enricher. A zero timeout uses 15s.
func NewCrawl(timeout time.Duration, log *slog.Logger) *Crawl {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Crawl{
		log: log,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

func (c *Crawl) Name() string { return "crawl" }

// Enrich crawls every linked item. After an HTTP error the rest of that
// domain is skipped for this batch.
func (c *Crawl) Enrich(ctx context.Context, items []content.Item) ([]content.Item, error) {
	out := make([]content.Item, len(items))
	failedDomains := make(map[string]struct{})
	fetched := 0

	for i, it := range items {
		out[i] = it
		if it.Link == "" {
			continue
		}
		u, err := url.Parse(it.Link)
		if err != nil || u.Host == "" {
			continue
		}
		domain := strings.ToLower(u.Host)
		if _, failed := failedDomains[domain]; failed {
			continue
		}

		title, text, err := c.extract(ctx, u)
		if err != nil {
			failedDomains[domain] = struct{}{}
			c.log.Warn("crawl failed, skipping remaining links from domain", "url", it.Link, "domain", domain, "error", err)
			continue
		}
		if len(text) > len(it.Text) {
			out[i].Text = text
			fetched++
		}
		if out[i].Title == "" {
			out[i].Title = title
		}
	}

	c.log.Debug("crawl complete", "items", len(items), "fetched", fetched)
	return out, nil
}

func (c *Crawl) extract(ctx context.Context, u *url.URL) (title, text string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), u)
	if err != nil {
		// Unparseable pages are not a domain failure.
		return "", "", nil
	}
	text = strings.TrimSpace(article.TextContent)
	if len(text) <= minExtractedLen {
		return article.Title, "", nil
	}
	return article.Title, text, nil
}
