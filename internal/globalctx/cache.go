package globalctx

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"regimeforge-bot/internal/coingecko"
	"regimeforge-bot/internal/logging"
)

// Source is the external market-context provider
type Source interface {
	FetchGlobal(ctx context.Context) (*coingecko.GlobalData, error)
	FetchCoinMarkets(ctx context.Context, coins []string) (map[string]coingecko.CoinMarket, error)
	FetchTrending(ctx context.Context) ([]coingecko.TrendingCoin, error)
}

// Sentiment is the broad market mood
type Sentiment string

const (
	Bullish Sentiment = "BULLISH"
	Neutral Sentiment = "NEUTRAL"
	Bearish Sentiment = "BEARISH"
)

// DominanceTrend is the direction of BTC dominance between refreshes
type DominanceTrend string

const (
	DominanceRising  DominanceTrend = "RISING"
	DominanceFalling DominanceTrend = "FALLING"
	DominanceStable  DominanceTrend = "STABLE"
)

// GlobalSnapshot is the cached value of the global sub-feed
type GlobalSnapshot struct {
	Data             coingecko.GlobalData `json:"data"`
	PrevBTCDominance float64              `json:"prev_btc_dominance"`
	HasPrev          bool                 `json:"has_prev"`
}

// Context is the composed market context consumed by the scorer
type Context struct {
	Coin               string         `json:"coin"`
	BTCDominance       float64        `json:"btc_dominance"` // 0 when unknown
	DominanceTrend     DominanceTrend `json:"dominance_trend"`
	MarketSentiment    Sentiment      `json:"market_sentiment"`
	MarketCapChange24h float64        `json:"market_cap_change_24h"`
	PriceChange7d      float64        `json:"price_change_7d"`
	ATHDistancePct     float64        `json:"ath_distance_pct"`
	MarketCapRank      int            `json:"market_cap_rank"`
	IsTrending         bool           `json:"is_trending"`
	TrendingCoins      []string       `json:"trending_coins"`
	Degraded           bool           `json:"degraded"`
	StaleFeeds         []string       `json:"stale_feeds,omitempty"`
}

// NeutralContext carries no market opinion
func NeutralContext(coin string) Context {
	return Context{
		Coin:            coin,
		DominanceTrend:  DominanceStable,
		MarketSentiment: Neutral,
	}
}

// Config holds cache timing and interpretation thresholds
type Config struct {
	GlobalTTL             time.Duration
	CoinsTTL              time.Duration
	TrendingTTL           time.Duration
	MinFetchInterval      time.Duration
	SentimentThresholdPct float64 // |market cap change 24h| beyond this is bullish/bearish
	DominanceBandPct      float64 // dominance moves within this band are STABLE
	Coins                 []string
}

// DefaultConfig returns the stock TTLs
func DefaultConfig() Config {
	return Config{
		GlobalTTL:             300 * time.Second,
		CoinsTTL:              180 * time.Second,
		TrendingTTL:           600 * time.Second,
		MinFetchInterval:      3 * time.Second,
		SentimentThresholdPct: 3.0,
		DominanceBandPct:      0.1,
		Coins:                 []string{"BTC", "ETH", "SOL", "XRP", "BNB", "ADA", "DOGE", "LTC"},
	}
}

// Cache holds the three market-context sub-feeds
type Cache struct {
	cfg    Config
	src    Source
	logger *logging.Logger
	now    func() time.Time

	global   *feed[GlobalSnapshot]
	coins    *feed[map[string]coingecko.CoinMarket]
	trending *feed[[]coingecko.TrendingCoin]
}

// NewCache creates a cache over src
func NewCache(src Source, cfg Config, logger *logging.Logger) *Cache {
	return newCacheWithClock(src, cfg, logger, time.Now)
}

func newCacheWithClock(src Source, cfg Config, logger *logging.Logger, now func() time.Time) *Cache {
	c := &Cache{
		cfg:    cfg,
		src:    src,
		logger: logger.WithComponent("global-context"),
		now:    now,
	}

	c.global = newFeed("global", cfg.GlobalTTL, cfg.MinFetchInterval,
		func(ctx context.Context, prev Entry[GlobalSnapshot]) (GlobalSnapshot, error) {
			data, err := src.FetchGlobal(ctx)
			if err != nil {
				return GlobalSnapshot{}, err
			}
			snap := GlobalSnapshot{Data: *data}
			if prev.Valid {
				snap.PrevBTCDominance = prev.Value.Data.BTCDominance
				snap.HasPrev = true
			}
			return snap, nil
		}, c.clock)

	c.coins = newFeed("coins", cfg.CoinsTTL, cfg.MinFetchInterval,
		func(ctx context.Context, _ Entry[map[string]coingecko.CoinMarket]) (map[string]coingecko.CoinMarket, error) {
			return src.FetchCoinMarkets(ctx, cfg.Coins)
		}, c.clock)

	c.trending = newFeed("trending", cfg.TrendingTTL, cfg.MinFetchInterval,
		func(ctx context.Context, _ Entry[[]coingecko.TrendingCoin]) ([]coingecko.TrendingCoin, error) {
			return src.FetchTrending(ctx)
		}, c.clock)

	return c
}

func (c *Cache) clock() time.Time {
	return c.now()
}

// GlobalEntry reads the global sub-feed, refreshing if allowed
func (c *Cache) GlobalEntry(ctx context.Context) Entry[GlobalSnapshot] {
	e, err := c.global.get(ctx)
	c.logRefreshError("global", err)
	return e
}

// CoinsEntry reads the coin-markets sub-feed, refreshing if allowed
func (c *Cache) CoinsEntry(ctx context.Context) Entry[map[string]coingecko.CoinMarket] {
	e, err := c.coins.get(ctx)
	c.logRefreshError("coins", err)
	return e
}

// TrendingEntry reads the trending sub-feed, refreshing if allowed
func (c *Cache) TrendingEntry(ctx context.Context) Entry[[]coingecko.TrendingCoin] {
	e, err := c.trending.get(ctx)
	c.logRefreshError("trending", err)
	return e
}

func (c *Cache) logRefreshError(feed string, err error) {
	if err != nil {
		c.logger.Warn("Context refresh failed, serving stale value", "feed", feed, "error", err)
	}
}

// GetMarketSummary reads all three sub-feeds concurrently, refreshing
// expired ones, and composes the result. Refresh failures degrade the
// context instead of failing the call.
func (c *Cache) GetMarketSummary(ctx context.Context, coin string) Context {
	var (
		g  Entry[GlobalSnapshot]
		cm Entry[map[string]coingecko.CoinMarket]
		tr Entry[[]coingecko.TrendingCoin]
	)

	var eg errgroup.Group
	eg.Go(func() error { g = c.GlobalEntry(ctx); return nil })
	eg.Go(func() error { cm = c.CoinsEntry(ctx); return nil })
	eg.Go(func() error { tr = c.TrendingEntry(ctx); return nil })
	_ = eg.Wait()

	return c.compose(coin, g, cm, tr)
}

// Peek composes from the latest published entries without any I/O. Entries
// past their TTL are reported as stale.
func (c *Cache) Peek(coin string) Context {
	return c.compose(coin, c.global.peek(), c.coins.peek(), c.trending.peek())
}

func (c *Cache) compose(coin string, g Entry[GlobalSnapshot], cm Entry[map[string]coingecko.CoinMarket], tr Entry[[]coingecko.TrendingCoin]) Context {
	coin = strings.ToUpper(coin)
	out := NeutralContext(coin)

	if g.Valid {
		d := g.Value.Data
		out.BTCDominance = d.BTCDominance
		out.MarketCapChange24h = d.MarketCapChange24hPct
		out.MarketSentiment = c.sentiment(d.MarketCapChange24hPct)
		if g.Value.HasPrev {
			out.DominanceTrend = c.dominanceTrend(g.Value.PrevBTCDominance, d.BTCDominance)
		}
	}

	if cm.Valid {
		if row, ok := cm.Value[coin]; ok {
			out.PriceChange7d = row.PriceChange7dPct
			out.ATHDistancePct = row.ATHChangePct
			out.MarketCapRank = row.MarketCapRank
		}
	}

	if tr.Valid {
		out.TrendingCoins = make([]string, 0, len(tr.Value))
		for _, t := range tr.Value {
			out.TrendingCoins = append(out.TrendingCoins, t.Symbol)
			if t.Symbol == coin {
				out.IsTrending = true
			}
		}
	}

	for name, stale := range map[string]bool{
		"global":   g.Stale || !g.Valid,
		"coins":    cm.Stale || !cm.Valid,
		"trending": tr.Stale || !tr.Valid,
	} {
		if stale {
			out.StaleFeeds = append(out.StaleFeeds, name)
		}
	}
	sort.Strings(out.StaleFeeds)
	out.Degraded = len(out.StaleFeeds) > 0

	return out
}

func (c *Cache) sentiment(change24h float64) Sentiment {
	switch {
	case change24h > c.cfg.SentimentThresholdPct:
		return Bullish
	case change24h < -c.cfg.SentimentThresholdPct:
		return Bearish
	default:
		return Neutral
	}
}

func (c *Cache) dominanceTrend(prev, cur float64) DominanceTrend {
	switch {
	case cur-prev > c.cfg.DominanceBandPct:
		return DominanceRising
	case prev-cur > c.cfg.DominanceBandPct:
		return DominanceFalling
	default:
		return DominanceStable
	}
}

// Stats reports per-feed cache counters
func (c *Cache) Stats() map[string]FeedStats {
	return map[string]FeedStats{
		"global":   c.global.stats(),
		"coins":    c.coins.stats(),
		"trending": c.trending.stats(),
	}
}
