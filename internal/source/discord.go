package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

const (
	discordBaseURL  = "https://discord.com/api/v10"
	discordPageSize = 100
	discordText     = 0
	// discordMaxPages bounds a backward walk through one channel.
	discordMaxPages = 50
)

// DiscordConfig configures the channels to poll.
type DiscordConfig struct {
	BotToken   string   `yaml:"bot_token"`
	ChannelIDs []string `yaml:"channel_ids"`
	BaseURL    string   `yaml:"base_url"`
}

// StateStore keeps small per-source values between runs.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Summarizer condenses a transcript into prose.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Discord polls text channels. With a summarizer it emits one summary per
// channel and poll; without one it emits the raw messages.
type Discord struct {
	name     string
	cfg      DiscordConfig
	client   *http.Client
	state    StateStore
	provider Summarizer
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]string // state key -> newest message id
}

func NewDiscord(name string, cfg DiscordConfig, state StateStore, provider Summarizer, log *slog.Logger) (*Discord, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord source %s: bot_token is required", name)
	}
	if len(cfg.ChannelIDs) == 0 {
		return nil, fmt.Errorf("discord source %s: channel_ids is required", name)
	}
	if state == nil {
		return nil, fmt.Errorf("discord source %s: state store is required", name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = discordBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Discord{
		name:     name,
		cfg:      cfg,
		client:   newHTTPClient(0),
		state:    state,
		provider: provider,
		now:      time.Now,
		log:      log,
	}, nil
}

func (d *Discord) Name() string { return d.name }

type discordChannel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Type    int    `json:"type"`
	Name    string `json:"name"`
}

type discordMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
	Attachments []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"attachments"`
}

func (d *Discord) header() http.Header {
	return http.Header{"Authorization": {"Bot " + d.cfg.BotToken}}
}

func (d *Discord) channel(ctx context.Context, id string) (*discordChannel, error) {
	var ch discordChannel
	if err := getJSON(ctx, d.client, d.cfg.BaseURL+"/channels/"+id, d.header(), &ch); err != nil {
		return nil, err
	}
	if ch.Type != discordText {
		return nil, fmt.Errorf("channel %s is not a text channel", id)
	}
	return &ch, nil
}

func (d *Discord) messages(ctx context.Context, channelID string, params url.Values) ([]discordMessage, error) {
	params.Set("limit", fmt.Sprint(discordPageSize))
	u := fmt.Sprintf("%s/channels/%s/messages?%s", d.cfg.BaseURL, channelID, params.Encode())
	var msgs []discordMessage
	if err := getJSON(ctx, d.client, u, d.header(), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FetchItems reads messages newer than the last processed one per channel.
// Markers are staged per channel and only persisted by Commit, after the
// batch has been stored.
func (d *Discord) FetchItems(ctx context.Context) ([]content.Item, error) {
	var items []content.Item
	staged := make(map[string]string)
	for _, id := range d.cfg.ChannelIDs {
		ch, err := d.channel(ctx, id)
		if err != nil {
			d.log.Warn("skipping channel", "source", d.name, "channel", id, "error", err)
			continue
		}

		stateKey := "last_message:" + id
		last, err := d.state.Get(ctx, stateKey)
		if err != nil {
			return items, err
		}
		params := url.Values{}
		if last != "" {
			params.Set("after", last)
		}
		msgs, err := d.messages(ctx, id, params)
		if err != nil {
			d.log.Warn("fetching messages failed", "source", d.name, "channel", id, "error", err)
			continue
		}
		if len(msgs) == 0 {
			d.log.Debug("no new messages", "source", d.name, "channel", id)
			continue
		}
		sortMessages(msgs)
		newest := msgs[len(msgs)-1].ID

		chItems, err := d.build(ctx, ch, msgs, "discordChannelSummary", fmt.Sprintf("%s-%s", id, newest), d.now())
		if err != nil {
			d.log.Warn("summarizing channel failed", "source", d.name, "channel", id, "error", err)
			continue
		}
		items = append(items, chItems...)
		staged[stateKey] = newest
	}

	d.mu.Lock()
	d.pending = staged
	d.mu.Unlock()
	return items, nil
}

// Commit persists the markers staged by the last FetchItems. A batch that is
// never committed is fetched again on the next poll.
func (d *Discord) Commit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for key, id := range d.pending {
		if err := d.state.Set(ctx, key, id); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(d.pending, key)
	}
	return errors.Join(errs...)
}

// FetchHistorical walks each channel backwards and keeps the messages posted
// on day.
func (d *Discord) FetchHistorical(ctx context.Context, day string) ([]content.Item, error) {
	start, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	end := start.AddDate(0, 0, 1)

	var items []content.Item
	for _, id := range d.cfg.ChannelIDs {
		ch, err := d.channel(ctx, id)
		if err != nil {
			d.log.Warn("skipping channel", "source", d.name, "channel", id, "error", err)
			continue
		}
		msgs, err := d.walkBack(ctx, id, start, end)
		if err != nil {
			d.log.Warn("fetching history failed", "source", d.name, "channel", id, "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		chItems, err := d.build(ctx, ch, msgs, "discordChannelHistoricalSummary", fmt.Sprintf("%s-historical-%s", id, day), start)
		if err != nil {
			d.log.Warn("summarizing channel failed", "source", d.name, "channel", id, "error", err)
			continue
		}
		items = append(items, chItems...)
	}
	return items, nil
}

func (d *Discord) walkBack(ctx context.Context, channelID string, start, end time.Time) ([]discordMessage, error) {
	var (
		kept   []discordMessage
		before string
	)
	for page := 0; page < discordMaxPages; page++ {
		params := url.Values{}
		if before != "" {
			params.Set("before", before)
		}
		msgs, err := d.messages(ctx, channelID, params)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}
		sortMessages(msgs)
		for _, m := range msgs {
			if !m.Timestamp.Before(start) && m.Timestamp.Before(end) {
				kept = append(kept, m)
			}
		}
		oldest := msgs[0]
		if oldest.Timestamp.Before(start) {
			break
		}
		before = oldest.ID
	}
	sortMessages(kept)
	return kept, nil
}

func (d *Discord) build(ctx context.Context, ch *discordChannel, msgs []discordMessage, itemType, cid string, date time.Time) ([]content.Item, error) {
	link := fmt.Sprintf("https://discord.com/channels/%s/%s", ch.GuildID, ch.ID)

	if d.provider == nil {
		items := make([]content.Item, 0, len(msgs))
		for _, m := range msgs {
			photos, videos := attachments(m)
			meta := content.Metadata{"channelId": ch.ID, "guildId": ch.GuildID, "author": m.Author.Username}
			if len(photos) > 0 {
				meta["photos"] = photos
			}
			if len(videos) > 0 {
				meta["videos"] = videos
			}
			items = append(items, content.Item{
				CID:      "discord-" + m.ID,
				Type:     "discordMessage",
				Source:   d.name,
				Text:     m.Content,
				Link:     link + "/" + m.ID,
				Date:     m.Timestamp.Unix(),
				Metadata: meta,
			})
		}
		return items, nil
	}

	var transcript strings.Builder
	var photos, videos []string
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "[%s]: %s\n", m.Author.Username, m.Content)
		p, v := attachments(m)
		photos = append(photos, p...)
		videos = append(videos, v...)
	}
	summary, err := d.provider.Summarize(ctx, fmt.Sprintf(discordPrompt, transcript.String()))
	if err != nil {
		return nil, err
	}

	meta := content.Metadata{
		"channelId":    ch.ID,
		"guildId":      ch.GuildID,
		"channelName":  ch.Name,
		"messageCount": len(msgs),
		"summaryDate":  date.Unix(),
	}
	if len(photos) > 0 {
		meta["photos"] = photos
	}
	if len(videos) > 0 {
		meta["videos"] = videos
	}
	return []content.Item{{
		CID:      cid,
		Type:     itemType,
		Source:   d.name,
		Title:    "#" + ch.Name,
		Text:     summary,
		Link:     link,
		Date:     date.Unix(),
		Metadata: meta,
	}}, nil
}

func attachments(m discordMessage) (photos, videos []string) {
	for _, a := range m.Attachments {
		switch {
		case strings.HasPrefix(a.ContentType, "image/"):
			photos = append(photos, a.URL)
		case strings.HasPrefix(a.ContentType, "video/"):
			videos = append(videos, a.URL)
		}
	}
	return photos, videos
}

func sortMessages(msgs []discordMessage) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
}

const discordPrompt = `Analyze this Discord chat segment and provide a succinct analysis:

1. Summary (max 500 words):
- Focus ONLY on the most important technical discussions, decisions, and problem-solving
- Highlight concrete solutions and implementations
- Be specific and VERY concise

2. FAQ (max 20 questions):
- Only include the most significant questions that got meaningful responses
- Include who asked the question and who answered, using the exact Discord username

3. Help Interactions (max 10):
- List the significant instances where community members helped each other
- Mention if the help was successful

4. Action Items (max 20 total):
- Technical tasks, documentation needs and feature requests, each with who mentioned it

Chat transcript:
%s

Return the analysis in the specified structured format. Be specific about technical content and avoid duplicating information.`
