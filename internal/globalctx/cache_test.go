package globalctx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"regimeforge-bot/internal/coingecko"
	"regimeforge-bot/internal/logging"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	globalCalls, coinCalls, trendingCalls atomic.Int32

	mu        sync.Mutex
	globalErr error
	dominance float64
	mcChange  float64
	coins     map[string]coingecko.CoinMarket
	trending  []coingecko.TrendingCoin
	delay     time.Duration
}

func (s *fakeSource) FetchGlobal(ctx context.Context) (*coingecko.GlobalData, error) {
	s.globalCalls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.globalErr != nil {
		return nil, s.globalErr
	}
	return &coingecko.GlobalData{BTCDominance: s.dominance, MarketCapChange24hPct: s.mcChange}, nil
}

func (s *fakeSource) FetchCoinMarkets(ctx context.Context, coins []string) (map[string]coingecko.CoinMarket, error) {
	s.coinCalls.Add(1)
	return s.coins, nil
}

func (s *fakeSource) FetchTrending(ctx context.Context) ([]coingecko.TrendingCoin, error) {
	s.trendingCalls.Add(1)
	return s.trending, nil
}

func (s *fakeSource) setGlobal(dominance, change float64, err error) {
	s.mu.Lock()
	s.dominance, s.mcChange, s.globalErr = dominance, change, err
	s.mu.Unlock()
}

func newTestCache(src Source) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return newCacheWithClock(src, DefaultConfig(), logging.Nop(), clock.Now), clock
}

func TestCacheHitWithinTTL(t *testing.T) {
	src := &fakeSource{dominance: 52}
	c, clock := newTestCache(src)
	ctx := context.Background()

	first := c.GlobalEntry(ctx)
	clock.Advance(299 * time.Second)
	second := c.GlobalEntry(ctx)

	if src.globalCalls.Load() != 1 {
		t.Fatalf("expected a single fetch inside the TTL, got %d", src.globalCalls.Load())
	}
	if first != second {
		t.Errorf("expected identical entries, got %+v and %+v", first, second)
	}
	if second.Stale {
		t.Error("hit must not be stale")
	}
}

func TestExpiredEntryRefreshes(t *testing.T) {
	src := &fakeSource{dominance: 52}
	c, clock := newTestCache(src)
	ctx := context.Background()

	c.GlobalEntry(ctx)
	clock.Advance(301 * time.Second)
	src.setGlobal(53, 0, nil)
	e := c.GlobalEntry(ctx)

	if src.globalCalls.Load() != 2 {
		t.Fatalf("expected refresh after TTL, calls = %d", src.globalCalls.Load())
	}
	if e.Value.Data.BTCDominance != 53 || e.Stale {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestFailureKeepsValueAndBacksOff(t *testing.T) {
	src := &fakeSource{dominance: 52}
	c, clock := newTestCache(src)
	ctx := context.Background()

	c.GlobalEntry(ctx)
	clock.Advance(301 * time.Second)
	src.setGlobal(0, 0, coingecko.ErrRateLimited)

	e := c.GlobalEntry(ctx)
	if !e.Stale || e.Value.Data.BTCDominance != 52 {
		t.Fatalf("failed refresh should keep the old value marked stale, got %+v", e)
	}

	// Rapid repeated reads inside the min interval must not fetch again
	for i := 0; i < 20; i++ {
		clock.Advance(100 * time.Millisecond)
		if e := c.GlobalEntry(ctx); !e.Stale {
			t.Fatal("entry should stay stale during backoff")
		}
	}
	if got := src.globalCalls.Load(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}

	// After the interval, one more attempt is allowed
	clock.Advance(3 * time.Second)
	src.setGlobal(54, 0, nil)
	e = c.GlobalEntry(ctx)
	if src.globalCalls.Load() != 3 || e.Stale || e.Value.Data.BTCDominance != 54 {
		t.Errorf("expected recovery on next window, calls=%d entry=%+v", src.globalCalls.Load(), e)
	}
}

func TestFailureWithoutPriorValue(t *testing.T) {
	src := &fakeSource{globalErr: errors.New("connection refused")}
	c, _ := newTestCache(src)

	e := c.GlobalEntry(context.Background())
	if e.Valid || !e.Stale {
		t.Errorf("expected invalid stale placeholder, got %+v", e)
	}

	summary := c.GetMarketSummary(context.Background(), "ETH")
	if summary.MarketSentiment != Neutral || summary.BTCDominance != 0 {
		t.Errorf("expected neutral defaults, got %+v", summary)
	}
	if !summary.Degraded {
		t.Error("summary must be degraded when a feed is unavailable")
	}
}

func TestConcurrentReadsShareOneRefresh(t *testing.T) {
	src := &fakeSource{dominance: 50, delay: 20 * time.Millisecond}
	c, _ := newTestCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GlobalEntry(context.Background())
		}()
	}
	wg.Wait()

	if got := src.globalCalls.Load(); got != 1 {
		t.Errorf("expected one shared fetch, got %d", got)
	}
}

func TestGetMarketSummaryComposes(t *testing.T) {
	src := &fakeSource{
		dominance: 57,
		mcChange:  4.2,
		coins: map[string]coingecko.CoinMarket{
			"SOL": {Symbol: "SOL", PriceChange7dPct: 11.5, ATHChangePct: -40, MarketCapRank: 5},
		},
		trending: []coingecko.TrendingCoin{{Symbol: "PEPE"}, {Symbol: "SOL"}},
	}
	c, clock := newTestCache(src)
	ctx := context.Background()

	got := c.GetMarketSummary(ctx, "sol")
	if got.Degraded {
		t.Errorf("fresh summary should not be degraded: %+v", got)
	}
	if got.MarketSentiment != Bullish || got.BTCDominance != 57 {
		t.Errorf("global fields wrong: %+v", got)
	}
	if got.PriceChange7d != 11.5 || got.ATHDistancePct != -40 {
		t.Errorf("coin fields wrong: %+v", got)
	}
	if !got.IsTrending {
		t.Error("SOL should be trending")
	}
	if got.DominanceTrend != DominanceStable {
		t.Errorf("first fetch has no previous value, trend = %s", got.DominanceTrend)
	}

	clock.Advance(301 * time.Second)
	src.setGlobal(55, -3.5, nil)
	got = c.GetMarketSummary(ctx, "SOL")
	if got.DominanceTrend != DominanceFalling || got.MarketSentiment != Bearish {
		t.Errorf("second refresh: %+v", got)
	}
}

func TestPeekDoesNotFetch(t *testing.T) {
	src := &fakeSource{dominance: 50}
	c, clock := newTestCache(src)

	if p := c.Peek("BTC"); !p.Degraded {
		t.Error("peek before any refresh must be degraded")
	}
	if src.globalCalls.Load() != 0 || src.coinCalls.Load() != 0 || src.trendingCalls.Load() != 0 {
		t.Fatal("peek must not fetch")
	}

	c.GetMarketSummary(context.Background(), "BTC")
	if p := c.Peek("BTC"); p.Degraded {
		t.Errorf("peek after refresh should be clean: %+v", p)
	}

	clock.Advance(200 * time.Second)
	p := c.Peek("BTC")
	if !p.Degraded || len(p.StaleFeeds) != 1 || p.StaleFeeds[0] != "coins" {
		t.Errorf("coins (180s TTL) should be stale, got %+v", p)
	}
}

func TestStatsCountOutcomes(t *testing.T) {
	src := &fakeSource{}
	c, _ := newTestCache(src)

	c.TrendingEntry(context.Background())
	c.TrendingEntry(context.Background())

	st := c.Stats()["trending"]
	if st.Refreshes != 1 || st.Hits != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}
