package registry

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/config"
	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/enrich"
	"github.com/TobiSchelling/AIDigest/internal/llm"
	"github.com/TobiSchelling/AIDigest/internal/source"
	"github.com/TobiSchelling/AIDigest/internal/summary"
)

// Default returns a registry with every built-in plugin type.
func Default() *Registry {
	r := New()

	r.RegisterAI("openai", newOpenAI)
	r.RegisterAI("ollama", newOllama)

	r.RegisterStorage("sqlite", newSQLite)

	r.RegisterSource("rss", newRSS)
	r.RegisterSource("newsapi", newNewsAPI)
	r.RegisterSource("github", newGitHub)
	r.RegisterSource("coingecko", newCoinGecko)
	r.RegisterSource("dexscreener", newDexScreener)
	r.RegisterSource("discord", newDiscord)
	r.RegisterSource("socialdata", newSocialData)

	r.RegisterEnricher("topics", newKeywordTopics)
	r.RegisterEnricher("ai_topics", newAITopics)
	r.RegisterEnricher("crawl", newCrawl)

	r.RegisterGenerator("daily_summary", newDailySummary)
	return r
}

func newOpenAI(p config.Plugin, env *Env) (llm.Provider, error) {
	var params struct {
		APIKey        string  `yaml:"api_key"`
		Model         string  `yaml:"model"`
		Temperature   float32 `yaml:"temperature"`
		MaxTokens     int     `yaml:"max_tokens"`
		BaseURL       string  `yaml:"base_url"`
		UseOpenRouter bool    `yaml:"use_openrouter"`
		SiteURL       string  `yaml:"site_url"`
		SiteName      string  `yaml:"site_name"`
	}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:        params.APIKey,
		Model:         params.Model,
		Temperature:   params.Temperature,
		MaxTokens:     params.MaxTokens,
		BaseURL:       params.BaseURL,
		UseOpenRouter: params.UseOpenRouter,
		SiteURL:       params.SiteURL,
		SiteName:      params.SiteName,
	})
	if !provider.IsConfigured() {
		env.Log.Warn("ai provider has no api key; calls will fail", "name", p.Name)
	}
	return provider, nil
}

func newOllama(p config.Plugin, env *Env) (llm.Provider, error) {
	params := struct {
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	}{Model: "qwen2.5:7b", BaseURL: "http://localhost:11434"}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	return llm.NewOllamaProvider(params.Model, params.BaseURL), nil
}

func newSQLite(p config.Plugin, env *Env) (content.Storage, error) {
	var params struct {
		Path string `yaml:"path"`
	}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.Path == "" {
		params.Path = filepath.Join(env.DataDir, "aidigest.db")
	}
	return database.New(params.Path), nil
}

func newRSS(p config.Plugin, env *Env) (content.Source, error) {
	var cfg source.RSSConfig
	if err := p.Decode(&cfg); err != nil {
		return nil, err
	}
	s, err := source.NewRSS(p.Name, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newNewsAPI(p config.Plugin, env *Env) (content.Source, error) {
	var cfg source.NewsAPIConfig
	if err := p.Decode(&cfg); err != nil {
		return nil, err
	}
	s, err := source.NewNewsAPI(p.Name, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newGitHub(p config.Plugin, env *Env) (content.Source, error) {
	var cfg source.GitHubConfig
	if err := p.Decode(&cfg); err != nil {
		return nil, err
	}
	s, err := source.NewGitHub(p.Name, cfg, env.Log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newCoinGecko(p config.Plugin, env *Env) (content.Source, error) {
	var cfg source.CoinGeckoConfig
	if err := p.Decode(&cfg); err != nil {
		return nil, err
	}
	s, err := source.NewCoinGecko(p.Name, cfg, env.Log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newDexScreener(p config.Plugin, env *Env) (content.Source, error) {
	var cfg source.DexScreenerConfig
	if err := p.Decode(&cfg); err != nil {
		return nil, err
	}
	s, err := source.NewDexScreener(p.Name, cfg, env.Log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// stateStorage is a storage that can keep per-source state.
type stateStorage interface {
	State(source string) *database.State
}

func newDiscord(p config.Plugin, env *Env) (content.Source, error) {
	var params struct {
		source.DiscordConfig `yaml:",inline"`
		Provider             string `yaml:"provider"`
		Storage              string `yaml:"storage"`
	}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}

	var summarizer source.Summarizer
	if params.Provider != "" {
		provider, err := env.Provider(params.Provider)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", p.Name, err)
		}
		summarizer = provider
	}
	storage, err := env.Storage(params.Storage)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", p.Name, err)
	}
	ss, ok := storage.(stateStorage)
	if !ok {
		return nil, fmt.Errorf("source %q: storage %q cannot hold source state", p.Name, params.Storage)
	}
	s, err := source.NewDiscord(p.Name, params.DiscordConfig, ss.State(p.Name), summarizer, env.Log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSocialData(p config.Plugin, env *Env) (content.Source, error) {
	var cfg source.SocialDataConfig
	if err := p.Decode(&cfg); err != nil {
		return nil, err
	}
	s, err := source.NewSocialData(p.Name, cfg, env.Log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newKeywordTopics(p config.Plugin, env *Env) (content.Enricher, error) {
	var params struct {
		Rules []enrich.TopicRule `yaml:"rules"`
	}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	return enrich.NewKeywordTopics(params.Rules), nil
}

func newAITopics(p config.Plugin, env *Env) (content.Enricher, error) {
	var params struct {
		Provider  string `yaml:"provider"`
		Threshold int    `yaml:"threshold"`
	}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	provider, err := env.Provider(params.Provider)
	if err != nil {
		return nil, fmt.Errorf("enricher %q: %w", p.Name, err)
	}
	return enrich.NewAITopics(provider, params.Threshold, env.Log), nil
}

func newCrawl(p config.Plugin, env *Env) (content.Enricher, error) {
	var params struct {
		Timeout time.Duration `yaml:"timeout"`
	}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	return enrich.NewCrawl(params.Timeout, env.Log), nil
}

func newDailySummary(p config.Plugin, env *Env) (*summary.Generator, error) {
	var params struct {
		Provider    string `yaml:"provider"`
		Storage     string `yaml:"storage"`
		SummaryType string `yaml:"summary_type"`
		OutputDir   string `yaml:"output_dir"`
		MaxGroups   int    `yaml:"max_groups"`
	}
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	provider, err := env.Provider(params.Provider)
	if err != nil {
		return nil, fmt.Errorf("generator %q: %w", p.Name, err)
	}
	storage, err := env.Storage(params.Storage)
	if err != nil {
		return nil, fmt.Errorf("generator %q: %w", p.Name, err)
	}
	if params.OutputDir == "" {
		params.OutputDir = env.SnapshotDir
	}
	return summary.New(provider, storage, params.SummaryType, params.OutputDir,
		summary.WithLogger(env.Log),
		summary.WithMetrics(env.Metrics),
		summary.WithMaxGroups(params.MaxGroups),
	), nil
}
