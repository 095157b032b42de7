package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/cache"
	"github.com/TobiSchelling/AIDigest/internal/content"
)

const (
	socialDataBaseURL = "https://api.socialdata.tools"
	// socialDataMaxPages bounds one backward walk.
	socialDataMaxPages = 20
)

// SocialDataConfig configures the accounts to follow.
type SocialDataConfig struct {
	APIKey     string        `yaml:"api_key"`
	Accounts   []string      `yaml:"accounts"`
	MaxResults int           `yaml:"max_results"`
	BucketTTL  time.Duration `yaml:"bucket_ttl"`
	BaseURL    string        `yaml:"base_url"`
}

// SocialData reads account timelines from the SocialData API. Historical
// days are served from a per-(account, day) cache filled by a backward walk
// that can resume from its last cursor.
type SocialData struct {
	name     string
	cfg      SocialDataConfig
	client   *http.Client
	backfill *cache.Backfill[content.Item]
	log      *slog.Logger
}

func NewSocialData(name string, cfg SocialDataConfig, log *slog.Logger, opts ...cache.Option) (*SocialData, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("socialdata source %s: api_key is required", name)
	}
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("socialdata source %s: accounts is required", name)
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.BucketTTL <= 0 {
		cfg.BucketTTL = time.Hour
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = socialDataBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &SocialData{
		name:     name,
		cfg:      cfg,
		client:   newHTTPClient(0),
		backfill: cache.NewBackfill[content.Item]("socialdata:"+name, opts...),
		log:      log,
	}, nil
}

func (s *SocialData) Name() string { return s.name }

type tweetMedia struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	VideoInfo     *struct {
		Variants []struct {
			ContentType string `json:"content_type"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
}

type tweet struct {
	IDStr         string    `json:"id_str"`
	FullText      string    `json:"full_text"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"tweet_created_at"`
	FavoriteCount int       `json:"favorite_count"`
	RetweetCount  int       `json:"retweet_count"`
	ReplyCount    int       `json:"reply_count"`
	QuoteCount    int       `json:"quote_count"`
	User          struct {
		IDStr      string `json:"id_str"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	ExtendedEntities struct {
		Media []tweetMedia `json:"media"`
	} `json:"extended_entities"`
}

type tweetPage struct {
	NextCursor string  `json:"next_cursor"`
	Tweets     []tweet `json:"tweets"`
}

func (s *SocialData) page(ctx context.Context, account, cursor string) (*tweetPage, error) {
	u := fmt.Sprintf("%s/twitter/user/%s/tweets", s.cfg.BaseURL, url.PathEscape(account))
	if cursor != "" {
		u += "?" + url.Values{"cursor": {cursor}}.Encode()
	}
	var p tweetPage
	header := http.Header{"Authorization": {"Bearer " + s.cfg.APIKey}}
	if err := getJSON(ctx, s.client, u, header, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchItems returns the most recent posts of every account.
func (s *SocialData) FetchItems(ctx context.Context) ([]content.Item, error) {
	var (
		items []content.Item
		errs  []error
	)
	for _, account := range s.cfg.Accounts {
		unlock := s.backfill.Lock(account)
		p, err := s.page(ctx, account, "")
		unlock()
		if err != nil {
			s.log.Warn("fetching posts failed", "source", s.name, "account", account, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", account, err))
			continue
		}
		for i, tw := range p.Tweets {
			if i >= s.cfg.MaxResults {
				break
			}
			items = append(items, s.toItem(tw))
		}
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

// FetchHistorical returns every account's posts from day.
func (s *SocialData) FetchHistorical(ctx context.Context, day string) ([]content.Item, error) {
	if _, err := time.ParseInLocation("2006-01-02", day, time.UTC); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	var items []content.Item
	for _, account := range s.cfg.Accounts {
		dayItems, err := s.backfillDay(ctx, account, day)
		if err != nil {
			s.log.Warn("backfill failed", "source", s.name, "account", account, "day", day, "error", err)
			continue
		}
		items = append(items, dayItems...)
	}
	return items, nil
}

// backfillDay serves day from the bucket cache or walks the timeline back
// until it passes day. Every day the walk fully covers is bucketed, so later
// requests for older days resume from the saved cursor.
func (s *SocialData) backfillDay(ctx context.Context, account, day string) ([]content.Item, error) {
	unlock := s.backfill.Lock(account)
	defer unlock()

	if items, ok := s.backfill.GetBucket(account, day); ok {
		s.log.Debug("backfill cache hit", "source", s.name, "account", account, "day", day)
		return items, nil
	}

	start, _ := time.ParseInLocation("2006-01-02", day, time.UTC)
	end := start.AddDate(0, 0, 1)

	// Resuming is only safe when everything above the cursor is newer than day.
	cursor, boundary, resumed := s.cursor(account)
	partialDay := ""
	if resumed {
		if boundary.Before(end) {
			s.log.Debug("cursor is inside requested day, restarting walk", "source", s.name, "account", account, "day", day)
			cursor = ""
		} else {
			partialDay = boundary.UTC().Format("2006-01-02")
		}
	}

	buckets := make(map[string][]content.Item)
	reachedStart := false
	var walked time.Time
	for page := 0; page < socialDataMaxPages; page++ {
		p, err := s.page(ctx, account, cursor)
		if err != nil {
			return nil, err
		}
		for _, tw := range p.Tweets {
			key := tw.CreatedAt.UTC().Format("2006-01-02")
			buckets[key] = append(buckets[key], s.toItem(tw))
		}

		cursor = p.NextCursor
		if len(p.Tweets) == 0 || cursor == "" {
			reachedStart = true
			cursor = ""
			break
		}
		walked = oldest(p.Tweets)
		if walked.Before(start) {
			reachedStart = true
			break
		}
	}

	if cursor != "" {
		s.backfill.SetCursor(account, fmt.Sprintf("%d:%s", walked.Unix(), cursor))
	} else {
		s.backfill.ClearCursor(account)
	}
	if !reachedStart {
		return nil, fmt.Errorf("day %s not reached within %d pages", day, socialDataMaxPages)
	}

	// The oldest day seen may continue below the cursor, and the day holding
	// the resume boundary started above it; neither is complete.
	oldestSeen := day
	for key := range buckets {
		if key < oldestSeen {
			oldestSeen = key
		}
	}
	for key, items := range buckets {
		if key == partialDay || (key == oldestSeen && key != day && cursor != "") {
			continue
		}
		sortItems(items)
		s.backfill.SetBucket(account, key, items, s.cfg.BucketTTL)
	}
	items := buckets[day]
	if _, ok := buckets[day]; !ok {
		s.backfill.SetBucket(account, day, nil, s.cfg.BucketTTL)
	}
	return items, nil
}

// cursor returns the saved pagination cursor and the time of the oldest post
// already walked above it.
func (s *SocialData) cursor(account string) (string, time.Time, bool) {
	saved, ok := s.backfill.GetCursor(account)
	if !ok {
		return "", time.Time{}, false
	}
	ts, cursor, ok := strings.Cut(saved, ":")
	if !ok {
		return "", time.Time{}, false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return cursor, time.Unix(sec, 0), true
}

func (s *SocialData) toItem(tw tweet) content.Item {
	text := tw.FullText
	if text == "" {
		text = tw.Text
	}
	meta := content.Metadata{
		"tweetId":  tw.IDStr,
		"userId":   tw.User.IDStr,
		"likes":    tw.FavoriteCount,
		"retweets": tw.RetweetCount,
		"replies":  tw.ReplyCount,
		"quotes":   tw.QuoteCount,
	}
	var photos, videos []string
	for _, m := range tw.ExtendedEntities.Media {
		switch m.Type {
		case "photo":
			photos = append(photos, m.MediaURLHTTPS)
		case "video", "animated_gif":
			if v := videoURL(m); v != "" {
				videos = append(videos, v)
			}
		}
	}
	if len(photos) > 0 {
		meta["photos"] = photos
	}
	if len(videos) > 0 {
		meta["videos"] = videos
	}
	return content.Item{
		CID:      "twitter-" + tw.IDStr,
		Type:     "tweet",
		Source:   s.name,
		Text:     text,
		Link:     fmt.Sprintf("https://x.com/%s/status/%s", tw.User.ScreenName, tw.IDStr),
		Date:     tw.CreatedAt.Unix(),
		Metadata: meta,
	}
}

func videoURL(m tweetMedia) string {
	if m.VideoInfo == nil {
		return ""
	}
	for _, v := range m.VideoInfo.Variants {
		if v.ContentType == "video/mp4" {
			return v.URL
		}
	}
	return ""
}

func oldest(tweets []tweet) time.Time {
	t := tweets[0].CreatedAt
	for _, tw := range tweets[1:] {
		if tw.CreatedAt.Before(t) {
			t = tw.CreatedAt
		}
	}
	return t
}

func sortItems(items []content.Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Date < items[j].Date })
}
