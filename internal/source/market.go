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

const (
	coinGeckoBaseURL   = "https://api.coingecko.com/api/v3"
	dexScreenerBaseURL = "https://api.dexscreener.com"
	wrappedSOL         = "So11111111111111111111111111111111111111112"
)

// CoinGeckoConfig lists the coin ids to snapshot.
type CoinGeckoConfig struct {
	TokenSymbols []string      `yaml:"token_symbols"`
	Interval     time.Duration `yaml:"request_interval"`
	BaseURL      string        `yaml:"base_url"`
}

// CoinGecko produces one market snapshot per coin per day.
type CoinGecko struct {
	name    string
	cfg     CoinGeckoConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	log     *slog.Logger
}

func NewCoinGecko(name string, cfg CoinGeckoConfig, log *slog.Logger) (*CoinGecko, error) {
	if len(cfg.TokenSymbols) == 0 {
		return nil, fmt.Errorf("coingecko source %s: token_symbols is required", name)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = coinGeckoBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &CoinGecko{
		name:    name,
		cfg:     cfg,
		client:  newHTTPClient(0),
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		now:     time.Now,
		log:     log,
	}, nil
}

func (c *CoinGecko) Name() string { return c.name }

type usdValue struct {
	USD float64 `json:"usd"`
}

type coinGeckoCoin struct {
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	MarketData *struct {
		CurrentPrice             usdValue `json:"current_price"`
		TotalVolume              usdValue `json:"total_volume"`
		MarketCap                usdValue `json:"market_cap"`
		High24h                  usdValue `json:"high_24h"`
		Low24h                   usdValue `json:"low_24h"`
		PriceChange24h           float64  `json:"price_change_24h"`
		PriceChangePercentage24h float64  `json:"price_change_percentage_24h"`
	} `json:"market_data"`
}

// FetchItems snapshots every configured coin. A failing coin is skipped; the
// call fails only when every coin fails.
func (c *CoinGecko) FetchItems(ctx context.Context) ([]content.Item, error) {
	now := c.now()
	var (
		items []content.Item
		errs  []error
	)
	for _, symbol := range c.cfg.TokenSymbols {
		if err := c.limiter.Wait(ctx); err != nil {
			return items, err
		}
		it, err := c.fetchCoin(ctx, symbol, now)
		if err != nil {
			c.log.Warn("market data unavailable", "source", c.name, "symbol", symbol, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

func (c *CoinGecko) fetchCoin(ctx context.Context, symbol string, now time.Time) (content.Item, error) {
	var coin coinGeckoCoin
	if err := getJSON(ctx, c.client, c.cfg.BaseURL+"/coins/"+symbol, nil, &coin); err != nil {
		return content.Item{}, err
	}
	md := coin.MarketData
	if md == nil {
		return content.Item{}, errors.New("response has no market data")
	}

	return content.Item{
		CID:    fmt.Sprintf("analytics-%s-%s", symbol, now.UTC().Format("2006-01-02")),
		Type:   "coinGeckoMarketAnalytics",
		Source: c.name,
		Title:  fmt.Sprintf("Market Analytics for %s (%s)", coin.Name, strings.ToUpper(coin.Symbol)),
		Text: fmt.Sprintf("Symbol: %s Current Price: $%v\nVolume (24h): $%v\nMarket Cap: $%v\nDaily Change: %v.",
			symbol, md.CurrentPrice.USD, md.TotalVolume.USD, md.MarketCap.USD, md.PriceChange24h),
		Link: "https://www.coingecko.com/en/coins/" + symbol,
		Date: now.Unix(),
		Metadata: content.Metadata{
			"price":                       md.CurrentPrice.USD,
			"volume_24h":                  md.TotalVolume.USD,
			"market_cap":                  md.MarketCap.USD,
			"price_change_24h":            md.PriceChange24h,
			"price_change_percentage_24h": md.PriceChangePercentage24h,
			"high_24h":                    md.High24h.USD,
			"low_24h":                     md.Low24h.USD,
		},
	}, nil
}

// DexScreenerConfig lists the Solana token mints to snapshot.
type DexScreenerConfig struct {
	APIKey         string   `yaml:"api_key"`
	TokenAddresses []string `yaml:"token_addresses"`
	BaseURL        string   `yaml:"base_url"`
}

// DexScreener produces one SOL pair snapshot per token per day.
type DexScreener struct {
	name   string
	cfg    DexScreenerConfig
	client *http.Client
	now    func() time.Time
	log    *slog.Logger
}

func NewDexScreener(name string, cfg DexScreenerConfig, log *slog.Logger) (*DexScreener, error) {
	if len(cfg.TokenAddresses) == 0 {
		return nil, fmt.Errorf("dexscreener source %s: token_addresses is required", name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = dexScreenerBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &DexScreener{name: name, cfg: cfg, client: newHTTPClient(0), now: time.Now, log: log}, nil
}

func (d *DexScreener) Name() string { return d.name }

type dexToken struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type dexPair struct {
	BaseToken  dexToken `json:"baseToken"`
	QuoteToken dexToken `json:"quoteToken"`
	PriceUSD   string   `json:"priceUsd"`
	MarketCap  float64  `json:"marketCap"`
	URL        string   `json:"url"`
	Volume     struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Txns struct {
		H24 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
}

func (d *DexScreener) FetchItems(ctx context.Context) ([]content.Item, error) {
	now := d.now()
	var header http.Header
	if d.cfg.APIKey != "" {
		header = http.Header{"Authorization": {"Bearer " + d.cfg.APIKey}}
	}

	var (
		items []content.Item
		errs  []error
	)
	for _, addr := range d.cfg.TokenAddresses {
		var pairs []dexPair
		if err := getJSON(ctx, d.client, d.cfg.BaseURL+"/token-pairs/v1/solana/"+addr, header, &pairs); err != nil {
			d.log.Warn("token analytics unavailable", "source", d.name, "token", addr, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		pair, ok := solPair(pairs)
		if !ok {
			d.log.Warn("no SOL pair for token", "source", d.name, "token", addr)
			continue
		}
		items = append(items, content.Item{
			CID:    fmt.Sprintf("analytics-%s-%s", addr, now.UTC().Format("2006-01-02")),
			Type:   "solanaTokenAnalytics",
			Source: d.name,
			Title:  fmt.Sprintf("Daily Analytics for %s/%s", pair.BaseToken.Symbol, pair.QuoteToken.Symbol),
			Text: fmt.Sprintf("Symbol: %s Current Price: $%s\nVolume (24h): $%v\nMarket Cap: $%v\nDaily Change: %v",
				pair.BaseToken.Symbol, pair.PriceUSD, pair.Volume.H24, pair.MarketCap, pair.PriceChange.H24),
			Link: pair.URL,
			Date: now.Unix(),
			Metadata: content.Metadata{
				"price":                       pair.PriceUSD,
				"volume_24h":                  pair.Volume.H24,
				"market_cap":                  pair.MarketCap,
				"price_change_percentage_24h": pair.PriceChange.H24,
				"buy_txns_24h":                pair.Txns.H24.Buys,
				"sell_txns_24h":               pair.Txns.H24.Sells,
			},
		})
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

func solPair(pairs []dexPair) (dexPair, bool) {
	for _, p := range pairs {
		if p.QuoteToken.Address == wrappedSOL {
			return p, true
		}
	}
	return dexPair{}, false
}
