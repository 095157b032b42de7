package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

// GitHubConfig configures the repository activity feeds. The historical URLs
// are templates with <year>, <month> and <day> placeholders.
type GitHubConfig struct {
	ContributorsURL           string  `yaml:"contributors_url"`
	SummaryURL                string  `yaml:"summary_url"`
	HistoricalContributorsURL string  `yaml:"historical_contributors_url"`
	HistoricalSummaryURL      string  `yaml:"historical_summary_url"`
	Owner                     string  `yaml:"owner"`
	Repo                      string  `yaml:"repo"`
	RequestsPerSecond         float64 `yaml:"requests_per_second"`
}

// GitHub turns daily contributor and summary reports into items.
type GitHub struct {
	name    string
	cfg     GitHubConfig
	repoURL string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	log     *slog.Logger
}

func NewGitHub(name string, cfg GitHubConfig, log *slog.Logger) (*GitHub, error) {
	if cfg.ContributorsURL == "" || cfg.SummaryURL == "" {
		return nil, fmt.Errorf("github source %s: contributors_url and summary_url are required", name)
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github source %s: owner and repo are required", name)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &GitHub{
		name:    name,
		cfg:     cfg,
		repoURL: fmt.Sprintf("https://github.com/%s/%s/", cfg.Owner, cfg.Repo),
		client:  newHTTPClient(0),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		now:     time.Now,
		log:     log,
	}, nil
}

func (g *GitHub) Name() string { return g.name }

type ghContributor struct {
	Contributor string `json:"contributor"`
	AvatarURL   string `json:"avatar_url"`
	Activity    struct {
		Code struct {
			Commits []struct {
				SHA          string `json:"sha"`
				Message      string `json:"message"`
				Additions    int    `json:"additions"`
				Deletions    int    `json:"deletions"`
				ChangedFiles int    `json:"changed_files"`
			} `json:"commits"`
			PullRequests []struct {
				Number int    `json:"number"`
				Title  string `json:"title"`
				Body   string `json:"body"`
				State  string `json:"state"`
				Merged bool   `json:"merged"`
			} `json:"pull_requests"`
		} `json:"code"`
		Issues struct {
			Opened []struct {
				Number int    `json:"number"`
				Title  string `json:"title"`
				Body   string `json:"body"`
				State  string `json:"state"`
			} `json:"opened"`
		} `json:"issues"`
	} `json:"activity"`
}

type ghSummary struct {
	Title           string `json:"title"`
	Overview        string `json:"overview"`
	Metrics         any    `json:"metrics"`
	Changes         any    `json:"changes"`
	Areas           any    `json:"areas"`
	IssuesSummary   any    `json:"issues_summary"`
	TopContributors any    `json:"top_contributors"`
	Questions       any    `json:"questions"`
}

// FetchItems reads the current reports. Both must be available.
func (g *GitHub) FetchItems(ctx context.Context) ([]content.Item, error) {
	var contributors []ghContributor
	if err := g.get(ctx, g.cfg.ContributorsURL, &contributors); err != nil {
		return nil, fmt.Errorf("contributors: %w", err)
	}
	var summary ghSummary
	if err := g.get(ctx, g.cfg.SummaryURL, &summary); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return g.items(contributors, summary, g.now()), nil
}

// FetchHistorical reads the reports for day. A missing report contributes
// nothing; the other is still used.
func (g *GitHub) FetchHistorical(ctx context.Context, day string) ([]content.Item, error) {
	if g.cfg.HistoricalContributorsURL == "" && g.cfg.HistoricalSummaryURL == "" {
		return nil, content.ErrNotHistorical
	}
	date, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}

	var contributors []ghContributor
	if u := expandDate(g.cfg.HistoricalContributorsURL, date); u != "" {
		if err := g.get(ctx, u, &contributors); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.log.Warn("historical contributors unavailable", "source", g.name, "day", day, "error", err)
			contributors = nil
		}
	}
	var summary ghSummary
	if u := expandDate(g.cfg.HistoricalSummaryURL, date); u != "" {
		if err := g.get(ctx, u, &summary); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.log.Warn("historical summary unavailable", "source", g.name, "day", day, "error", err)
			summary = ghSummary{}
		}
	}
	return g.items(contributors, summary, date), nil
}

func (g *GitHub) get(ctx context.Context, url string, v any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	err := getJSON(ctx, g.client, url, nil, v)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return fmt.Errorf("report not published: %w", err)
	}
	return err
}

func (g *GitHub) items(contributors []ghContributor, summary ghSummary, date time.Time) []content.Item {
	ts := date.Unix()
	var items []content.Item
	for _, c := range contributors {
		photos := []string{}
		if c.AvatarURL != "" {
			photos = []string{c.AvatarURL}
		}
		for _, commit := range c.Activity.Code.Commits {
			items = append(items, content.Item{
				CID:    "github-commit-" + commit.SHA,
				Type:   "githubCommitContributor",
				Source: g.name,
				Text:   commit.Message,
				Link:   g.repoURL + "commit/" + commit.SHA,
				Date:   ts,
				Metadata: content.Metadata{
					"additions":     commit.Additions,
					"deletions":     commit.Deletions,
					"changed_files": commit.ChangedFiles,
					"photos":        photos,
				},
			})
		}
		for _, pr := range c.Activity.Code.PullRequests {
			items = append(items, content.Item{
				CID:    fmt.Sprintf("github-pull-%d", pr.Number),
				Type:   "githubPullRequestContributor",
				Source: g.name,
				Title:  pr.Title,
				Text:   fmt.Sprintf("Title: %s\nBody: %s", pr.Title, pr.Body),
				Link:   fmt.Sprintf("%spull/%d", g.repoURL, pr.Number),
				Date:   ts,
				Metadata: content.Metadata{
					"number": pr.Number,
					"state":  pr.State,
					"merged": pr.Merged,
					"photos": photos,
				},
			})
		}
		for _, issue := range c.Activity.Issues.Opened {
			items = append(items, content.Item{
				CID:    fmt.Sprintf("github-issue-%d", issue.Number),
				Type:   "githubIssueContributor",
				Source: g.name,
				Title:  issue.Title,
				Text:   fmt.Sprintf("Title: %s\nBody: %s", issue.Title, issue.Body),
				Link:   fmt.Sprintf("%sissues/%d", g.repoURL, issue.Number),
				Date:   ts,
				Metadata: content.Metadata{
					"number": issue.Number,
					"state":  issue.State,
					"photos": photos,
				},
			})
		}
	}

	if summary.Title != "" {
		items = append(items, content.Item{
			CID:    "github-contrib-" + summary.Title,
			Type:   "githubSummary",
			Source: g.name,
			Title:  summary.Title,
			Text:   summary.Overview,
			Date:   ts,
			Metadata: content.Metadata{
				"metrics":          summary.Metrics,
				"changes":          summary.Changes,
				"areas":            summary.Areas,
				"issues_summary":   summary.IssuesSummary,
				"top_contributors": summary.TopContributors,
				"questions":        summary.Questions,
			},
		})
	}
	return items
}

func expandDate(tmpl string, date time.Time) string {
	if tmpl == "" {
		return ""
	}
	r := strings.NewReplacer(
		"<year>", date.Format("2006"),
		"<month>", date.Format("01"),
		"<day>", date.Format("02"),
	)
	return r.Replace(tmpl)
}
