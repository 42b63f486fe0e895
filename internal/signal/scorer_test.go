package signal

import (
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"regimeforge-bot/internal/globalctx"
	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/regime"
)

func snap(rsi, trend, vol, change float64) market.IndicatorSnapshot {
	return market.IndicatorSnapshot{
		RSI:            rsi,
		TrendStrength:  trend,
		VolatilityPct:  vol,
		PriceChange24h: change,
		LastPrice:      100,
		DataSufficient: true,
	}
}

func withSentiment(coin string, s globalctx.Sentiment) globalctx.Context {
	gc := globalctx.NeutralContext(coin)
	gc.MarketSentiment = s
	return gc
}

func TestScoreDirectionAndConfidence(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	trendingBear := withSentiment("SOL", globalctx.Bearish)
	trendingBear.IsTrending = true

	tests := []struct {
		name       string
		coin       string
		reg        regime.Regime
		ind        market.IndicatorSnapshot
		gc         globalctx.Context
		want       Direction
		confidence float64
	}{
		{
			name:       "oversold with bullish market",
			coin:       "BTC",
			reg:        regime.RangeBound,
			ind:        snap(18, 0.1, 2, -4),
			gc:         withSentiment("BTC", globalctx.Bullish),
			want:       Long,
			confidence: 0.8,
		},
		{
			name:       "overbought bear trend capped at one",
			coin:       "SOL",
			reg:        regime.BearTrending,
			ind:        snap(85, -0.8, 3, 4),
			gc:         trendingBear,
			want:       Short,
			confidence: 1,
		},
		{
			name:       "no edge",
			coin:       "ETH",
			reg:        regime.RangeBound,
			ind:        snap(50, 0, 2, 0),
			gc:         globalctx.NeutralContext("ETH"),
			want:       Neutral,
			confidence: 0,
		},
		{
			name:       "difference equal to margin stays neutral",
			coin:       "BTC",
			reg:        regime.RangeBound,
			ind:        snap(30, 0, 2, 0),
			gc:         globalctx.NeutralContext("BTC"),
			want:       Neutral,
			confidence: 0.2,
		},
		{
			name:       "high volatility damps confidence",
			coin:       "BTC",
			reg:        regime.HighVolatility,
			ind:        snap(18, 0, 6, -4),
			gc:         globalctx.NeutralContext("BTC"),
			want:       Long,
			confidence: 0.6 * 0.85,
		},
		{
			name:       "low volatility damps confidence",
			coin:       "BTC",
			reg:        regime.LowVolatility,
			ind:        snap(18, 0, 0.5, -4),
			gc:         globalctx.NeutralContext("BTC"),
			want:       Long,
			confidence: 0.6 * 0.9,
		},
		{
			name:       "insufficient data halves confidence",
			coin:       "BTC",
			reg:        regime.RangeBound,
			ind:        market.NeutralSnapshot(),
			gc:         withSentiment("BTC", globalctx.Bullish),
			want:       Neutral,
			confidence: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := scorer.Score(tt.coin, tt.reg, tt.ind, tt.gc)
			if sig.Direction != tt.want {
				t.Errorf("direction = %s, want %s (long %.0f short %.0f)", sig.Direction, tt.want, sig.LongScore, sig.ShortScore)
			}
			if math.Abs(sig.Confidence-tt.confidence) > 1e-9 {
				t.Errorf("confidence = %.4f, want %.4f", sig.Confidence, tt.confidence)
			}
			if sig.Regime != tt.reg {
				t.Errorf("regime = %s, want %s", sig.Regime, tt.reg)
			}
		})
	}
}

func TestDominanceOnlyAdjustsAltcoins(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	ind := snap(50, 0, 2, 0)

	eth := globalctx.NeutralContext("ETH")
	eth.BTCDominance = 60
	btc := globalctx.NeutralContext("BTC")
	btc.BTCDominance = 60

	ethSig := scorer.Score("ETH", regime.RangeBound, ind, eth)
	if ethSig.LongScore != -5 || !containsPrefix(ethSig.Reasoning, "BTC dominance") {
		t.Errorf("ETH should lose 5 long points, got %.0f %v", ethSig.LongScore, ethSig.Reasoning)
	}

	btcSig := scorer.Score("BTC", regime.RangeBound, ind, btc)
	if btcSig.LongScore != 0 || containsPrefix(btcSig.Reasoning, "BTC dominance") {
		t.Errorf("BTC must ignore dominance, got %.0f %v", btcSig.LongScore, btcSig.Reasoning)
	}

	unknown := globalctx.NeutralContext("ETH")
	if s := scorer.Score("ETH", regime.RangeBound, ind, unknown); s.LongScore != 0 {
		t.Errorf("unknown dominance (0) must not adjust, got %.0f", s.LongScore)
	}
}

func TestScorerUsesConfiguredWeights(t *testing.T) {
	gc := globalctx.NeutralContext("BTC")
	ind := snap(32, 0.8, 2, 2)

	stock := NewScorer(DefaultWeights()).Score("BTC", regime.BullTrending, ind, gc)
	if stock.LongScore != 25 || stock.ShortScore != 5 || stock.Direction != Long {
		t.Fatalf("stock weights: long %.0f short %.0f %s", stock.LongScore, stock.ShortScore, stock.Direction)
	}

	tests := []struct {
		name      string
		mutate    func(w *Weights)
		long      float64
		short     float64
		direction Direction
	}{
		{"tighter oversold zone", func(w *Weights) { w.RSIOversold = 30 }, 15, 5, Neutral},
		{"heavier trend bias", func(w *Weights) { w.TrendBiasPoints = 30 }, 40, 5, Long},
		{"wider mild move band", func(w *Weights) { w.MildMovePct = 2.5 }, 25, 0, Long},
		{"larger neutral margin", func(w *Weights) { w.NeutralMargin = 25 }, 25, 5, Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := DefaultWeights()
			tt.mutate(&w)
			sig := NewScorer(w).Score("BTC", regime.BullTrending, ind, gc)
			if sig.LongScore != tt.long || sig.ShortScore != tt.short || sig.Direction != tt.direction {
				t.Errorf("got long %.0f short %.0f %s, want %.0f/%.0f %s",
					sig.LongScore, sig.ShortScore, sig.Direction, tt.long, tt.short, tt.direction)
			}
		})
	}
}

func TestVolatilityDampingIsConfigurable(t *testing.T) {
	w := DefaultWeights()
	w.HighVolatilityDamping = 0.5
	sig := NewScorer(w).Score("BTC", regime.HighVolatility, snap(18, 0, 6, 0), globalctx.NeutralContext("BTC"))
	if math.Abs(sig.Confidence-0.2) > 1e-9 {
		t.Errorf("confidence = %v, want 0.2", sig.Confidence)
	}
}

func TestTrendingTieAddsNothing(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	gc := globalctx.NeutralContext("DOGE")
	gc.IsTrending = true

	sig := scorer.Score("DOGE", regime.RangeBound, snap(50, 0, 2, 0), gc)
	if sig.LongScore != 0 || sig.ShortScore != 0 {
		t.Errorf("trending on a tie should add nothing, got %.0f/%.0f", sig.LongScore, sig.ShortScore)
	}
}

func TestSevenDayExtremes(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	ind := snap(50, 0, 2, 0)

	up := globalctx.NeutralContext("BTC")
	up.PriceChange7d = 14
	if s := scorer.Score("BTC", regime.RangeBound, ind, up); s.LongScore != -5 {
		t.Errorf("7d exhaustion long = %.0f, want -5", s.LongScore)
	}

	down := globalctx.NeutralContext("BTC")
	down.PriceChange7d = -14
	if s := scorer.Score("BTC", regime.RangeBound, ind, down); s.LongScore != 5 {
		t.Errorf("7d reversal long = %.0f, want 5", s.LongScore)
	}
}

func TestDegradedContextIsNoted(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	gc := globalctx.NeutralContext("BTC")
	gc.Degraded = true

	sig := scorer.Score("BTC", regime.RangeBound, snap(18, 0, 2, 0), gc)
	if !containsPrefix(sig.Reasoning, "Global context unavailable") {
		t.Errorf("missing degraded note in %v", sig.Reasoning)
	}
	if sig.Direction != Long {
		t.Errorf("degraded context must still score technicals, got %s", sig.Direction)
	}
}

func TestReasoningFollowsApplicationOrder(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	gc := withSentiment("ETH", globalctx.Bullish)
	gc.PriceChange7d = -12
	gc.BTCDominance = 40

	sig := scorer.Score("ETH", regime.BullTrending, snap(25, 0.9, 2, -2), gc)

	order := []string{"RSI", "Bull trend", "24h", "Market sentiment", "7d change", "BTC dominance", "Score long"}
	if len(sig.Reasoning) != len(order) {
		t.Fatalf("reasoning = %v", sig.Reasoning)
	}
	for i, prefix := range order {
		if !strings.HasPrefix(sig.Reasoning[i], prefix) {
			t.Errorf("reasoning[%d] = %q, want prefix %q", i, sig.Reasoning[i], prefix)
		}
	}
}

func TestScoreIsBoundedAndDeterministic(t *testing.T) {
	scorer := NewScorer(DefaultWeights())
	rng := rand.New(rand.NewSource(7))
	sentiments := []globalctx.Sentiment{globalctx.Bullish, globalctx.Neutral, globalctx.Bearish}
	coins := []string{"BTC", "ETH", "SOL"}

	for i := 0; i < 5000; i++ {
		ind := market.IndicatorSnapshot{
			RSI:            rng.Float64() * 100,
			TrendStrength:  rng.Float64()*2 - 1,
			VolatilityPct:  rng.Float64() * 10,
			PriceChange24h: rng.Float64()*20 - 10,
			DataSufficient: rng.Intn(5) > 0,
		}
		gc := globalctx.NeutralContext("")
		gc.MarketSentiment = sentiments[rng.Intn(3)]
		gc.IsTrending = rng.Intn(2) == 0
		gc.PriceChange7d = rng.Float64()*40 - 20
		gc.BTCDominance = rng.Float64() * 80
		gc.Degraded = rng.Intn(4) == 0
		reg := regime.All[rng.Intn(len(regime.All))]
		coin := coins[rng.Intn(len(coins))]

		a := scorer.Score(coin, reg, ind, gc)
		b := scorer.Score(coin, reg, ind, gc)

		if a.Confidence < 0 || a.Confidence > 1 || math.IsNaN(a.Confidence) {
			t.Fatalf("confidence %v out of range for %+v %+v", a.Confidence, ind, gc)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("non-deterministic output:\n%+v\n%+v", a, b)
		}
	}
}

func containsPrefix(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}
