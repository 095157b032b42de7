package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIConfig configures a NewsAPI query.
type NewsAPIConfig struct {
	APIKey   string `yaml:"api_key"`
	Query    string `yaml:"query"`
	DaysBack int    `yaml:"days_back"`
	PageSize int    `yaml:"page_size"`
	Language string `yaml:"language"`
	BaseURL  string `yaml:"base_url"`
}

// NewsAPI searches the NewsAPI everything endpoint.
type NewsAPI struct {
	name   string
	cfg    NewsAPIConfig
	client *http.Client
	now    func() time.Time
}

func NewNewsAPI(name string, cfg NewsAPIConfig) (*NewsAPI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("newsapi source %s: api_key is required", name)
	}
	if cfg.Query == "" {
		cfg.Query = "artificial intelligence software development"
	}
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 1
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = newsAPIBaseURL
	}
	return &NewsAPI{name: name, cfg: cfg, client: newHTTPClient(0), now: time.Now}, nil
}

func (n *NewsAPI) Name() string { return n.name }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		PublishedAt string `json:"publishedAt"`
		Content     string `json:"content"`
		Description string `json:"description"`
		Author      string `json:"author"`
		URLToImage  string `json:"urlToImage"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (n *NewsAPI) FetchItems(ctx context.Context) ([]content.Item, error) {
	now := n.now()
	params := url.Values{
		"q":        {n.cfg.Query},
		"from":     {now.AddDate(0, 0, -n.cfg.DaysBack).Format("2006-01-02")},
		"to":       {now.Format("2006-01-02")},
		"language": {n.cfg.Language},
		"pageSize": {strconv.Itoa(n.cfg.PageSize)},
		"sortBy":   {"relevancy"},
	}

	var result newsAPIResponse
	header := http.Header{"X-Api-Key": {n.cfg.APIKey}}
	if err := getJSON(ctx, n.client, n.cfg.BaseURL+"?"+params.Encode(), header, &result); err != nil {
		return nil, err
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %q: %s", result.Status, result.Message)
	}

	var items []content.Item
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" || a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		date := now
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			date = t
		}
		text := a.Content
		if text == "" {
			text = a.Description
		}

		meta := content.Metadata{"publisher": a.Source.Name}
		if a.Author != "" {
			meta["author"] = a.Author
		}
		if a.URLToImage != "" {
			meta["photos"] = []string{a.URLToImage}
		}

		items = append(items, content.Item{
			CID:      linkCID("newsapi", a.URL),
			Type:     "newsArticle",
			Source:   n.name,
			Title:    strings.TrimSpace(a.Title),
			Text:     strings.TrimSpace(text),
			Link:     a.URL,
			Date:     date.Unix(),
			Metadata: meta,
		})
	}
	return items, nil
}
