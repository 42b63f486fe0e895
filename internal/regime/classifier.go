package regime

import (
	"math"

	"regimeforge-bot/internal/market"
)

// Regime is the classified market condition
type Regime string

const (
	BullTrending   Regime = "BULL_TRENDING"
	BearTrending   Regime = "BEAR_TRENDING"
	RangeBound     Regime = "RANGE_BOUND"
	HighVolatility Regime = "HIGH_VOLATILITY"
	LowVolatility  Regime = "LOW_VOLATILITY"
)

// All lists every regime in declaration order
var All = []Regime{BullTrending, BearTrending, RangeBound, HighVolatility, LowVolatility}

// Thresholds configure the classifier boundaries
type Thresholds struct {
	HighVolatilityPct float64 `json:"high_volatility_pct"`
	LowVolatilityPct  float64 `json:"low_volatility_pct"`
	TrendThreshold    float64 `json:"trend_threshold"` // compared against |trend_strength|
}

// DefaultThresholds returns the stock boundaries
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighVolatilityPct: 4.0,
		LowVolatilityPct:  1.0,
		TrendThreshold:    0.6,
	}
}

// Classifier maps indicator snapshots to regimes
type Classifier struct {
	t Thresholds
}

// NewClassifier creates a classifier
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{t: t}
}

// Thresholds returns the configured boundaries
func (c *Classifier) Thresholds() Thresholds {
	return c.t
}

// Classify returns exactly one regime for snap. Rules are checked in
// priority order so overlapping conditions resolve the same way every time.
func (c *Classifier) Classify(snap market.IndicatorSnapshot) Regime {
	switch {
	case !snap.DataSufficient:
		return RangeBound
	case snap.VolatilityPct > c.t.HighVolatilityPct:
		return HighVolatility
	case snap.VolatilityPct < c.t.LowVolatilityPct:
		return LowVolatility
	case math.Abs(snap.TrendStrength) > c.t.TrendThreshold:
		if snap.PriceChange24h >= 0 {
			return BullTrending
		}
		return BearTrending
	default:
		return RangeBound
	}
}
