package regime

import (
	"math/rand"
	"testing"

	"regimeforge-bot/internal/market"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(DefaultThresholds())

	tests := []struct {
		name string
		snap market.IndicatorSnapshot
		want Regime
	}{
		{
			name: "insufficient data wins over everything",
			snap: market.IndicatorSnapshot{VolatilityPct: 10, TrendStrength: 1, DataSufficient: false},
			want: RangeBound,
		},
		{
			name: "high volatility before trend",
			snap: market.IndicatorSnapshot{VolatilityPct: 4.5, TrendStrength: 0.9, PriceChange24h: 3, DataSufficient: true},
			want: HighVolatility,
		},
		{
			name: "low volatility",
			snap: market.IndicatorSnapshot{VolatilityPct: 0.5, TrendStrength: 0.9, DataSufficient: true},
			want: LowVolatility,
		},
		{
			name: "bull trend",
			snap: market.IndicatorSnapshot{VolatilityPct: 2, TrendStrength: 0.7, PriceChange24h: 1.2, DataSufficient: true},
			want: BullTrending,
		},
		{
			name: "bear trend uses magnitude of strength",
			snap: market.IndicatorSnapshot{VolatilityPct: 2, TrendStrength: -0.8, PriceChange24h: -2, DataSufficient: true},
			want: BearTrending,
		},
		{
			name: "flat 24h change counts as bull",
			snap: market.IndicatorSnapshot{VolatilityPct: 2, TrendStrength: 0.7, PriceChange24h: 0, DataSufficient: true},
			want: BullTrending,
		},
		{
			name: "weak trend is range",
			snap: market.IndicatorSnapshot{VolatilityPct: 2, TrendStrength: 0.6, PriceChange24h: 5, DataSufficient: true},
			want: RangeBound,
		},
		{
			name: "volatility on the high boundary is not high",
			snap: market.IndicatorSnapshot{VolatilityPct: 4, DataSufficient: true},
			want: RangeBound,
		},
		{
			name: "volatility on the low boundary is not low",
			snap: market.IndicatorSnapshot{VolatilityPct: 1, DataSufficient: true},
			want: RangeBound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.snap); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyTotalAndDeterministic(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	rng := rand.New(rand.NewSource(7))

	valid := make(map[Regime]bool, len(All))
	for _, r := range All {
		valid[r] = true
	}

	for i := 0; i < 5000; i++ {
		snap := market.IndicatorSnapshot{
			RSI:            rng.Float64() * 100,
			TrendStrength:  rng.Float64()*2 - 1,
			VolatilityPct:  rng.Float64() * 8,
			PriceChange24h: rng.Float64()*20 - 10,
			DataSufficient: rng.Intn(10) > 0,
		}
		first := c.Classify(snap)
		if !valid[first] {
			t.Fatalf("snapshot %+v produced unknown regime %q", snap, first)
		}
		if again := c.Classify(snap); again != first {
			t.Fatalf("snapshot %+v classified as %s then %s", snap, first, again)
		}
	}
}
