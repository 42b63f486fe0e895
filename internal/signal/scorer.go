package signal

import (
	"fmt"
	"math"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/globalctx"
	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/regime"
)

// Direction is the side a signal recommends
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
)

// Signal is the scorer output. It is rebuilt from scratch on every
// evaluation and carries no state between calls.
type Signal struct {
	Coin       string                   `json:"coin"`
	Direction  Direction                `json:"signal"`
	Confidence float64                  `json:"confidence"`
	Regime     regime.Regime            `json:"regime"`
	Indicators market.IndicatorSnapshot `json:"indicators"`
	Context    globalctx.Context        `json:"context"`
	Reasoning  []string                 `json:"reasoning"`
	LongScore  float64                  `json:"long_score"`
	ShortScore float64                  `json:"short_score"`
}

// Weights is the scoring table, loaded from the scoring config section
type Weights config.ScoringConfig

// DefaultWeights returns the stock scoring table
func DefaultWeights() Weights {
	return Weights(config.Default().ScoringConfig)
}

// Scorer turns regime, indicators and market context into a Signal
type Scorer struct {
	w Weights
}

// NewScorer creates a scorer
func NewScorer(w Weights) *Scorer {
	if w.ConfidenceScale <= 0 {
		w.ConfidenceScale = DefaultWeights().ConfidenceScale
	}
	return &Scorer{w: w}
}

// Score is deterministic: identical inputs always produce an identical
// Signal, reasoning order included.
func (s *Scorer) Score(coin string, reg regime.Regime, ind market.IndicatorSnapshot, gc globalctx.Context) Signal {
	w := s.w
	var long, short float64
	reasoning := make([]string, 0, 12)

	if !ind.DataSufficient {
		reasoning = append(reasoning, "Insufficient candle history - indicators neutral")
	} else {
		switch {
		case ind.RSI < w.RSIStrongOversold:
			long += w.StrongPoints
			reasoning = append(reasoning, fmt.Sprintf("RSI %.1f deeply oversold (+%.0f long)", ind.RSI, w.StrongPoints))
		case ind.RSI < w.RSIOversold:
			long += w.ModeratePoints
			reasoning = append(reasoning, fmt.Sprintf("RSI %.1f oversold (+%.0f long)", ind.RSI, w.ModeratePoints))
		case ind.RSI > w.RSIStrongOverbought:
			short += w.StrongPoints
			reasoning = append(reasoning, fmt.Sprintf("RSI %.1f deeply overbought (+%.0f short)", ind.RSI, w.StrongPoints))
		case ind.RSI > w.RSIOverbought:
			short += w.ModeratePoints
			reasoning = append(reasoning, fmt.Sprintf("RSI %.1f overbought (+%.0f short)", ind.RSI, w.ModeratePoints))
		default:
			reasoning = append(reasoning, fmt.Sprintf("RSI %.1f mid-range - no edge", ind.RSI))
		}

		switch reg {
		case regime.BullTrending:
			long += w.TrendBiasPoints
			reasoning = append(reasoning, fmt.Sprintf("Bull trend (strength %.2f) (+%.0f long)", ind.TrendStrength, w.TrendBiasPoints))
		case regime.BearTrending:
			short += w.TrendBiasPoints
			reasoning = append(reasoning, fmt.Sprintf("Bear trend (strength %.2f) (+%.0f short)", ind.TrendStrength, w.TrendBiasPoints))
		}

		chg := ind.PriceChange24h
		switch {
		case chg < -w.StrongMovePct:
			long += w.StrongMovePoints
			reasoning = append(reasoning, fmt.Sprintf("24h down %.1f%% - oversold, reversal potential (+%.0f long)", chg, w.StrongMovePoints))
		case chg < -w.MildMovePct:
			long += w.MildMovePoints
			reasoning = append(reasoning, fmt.Sprintf("24h slightly down %.1f%% (+%.0f long)", chg, w.MildMovePoints))
		case chg > w.StrongMovePct:
			short += w.StrongMovePoints
			reasoning = append(reasoning, fmt.Sprintf("24h up %.1f%% - overbought, pullback potential (+%.0f short)", chg, w.StrongMovePoints))
		case chg > w.MildMovePct:
			short += w.MildMovePoints
			reasoning = append(reasoning, fmt.Sprintf("24h slightly up %.1f%% (+%.0f short)", chg, w.MildMovePoints))
		}
	}

	// Global context, applied in a fixed order
	switch gc.MarketSentiment {
	case globalctx.Bullish:
		long += w.SentimentPoints
		reasoning = append(reasoning, fmt.Sprintf("Market sentiment bullish (+%.0f long)", w.SentimentPoints))
	case globalctx.Bearish:
		short += w.SentimentPoints
		reasoning = append(reasoning, fmt.Sprintf("Market sentiment bearish (+%.0f short)", w.SentimentPoints))
	}

	if gc.IsTrending {
		switch {
		case long > short:
			long += w.TrendingPoints
			reasoning = append(reasoning, fmt.Sprintf("%s is trending on CoinGecko (+%.0f long)", coin, w.TrendingPoints))
		case short > long:
			short += w.TrendingPoints
			reasoning = append(reasoning, fmt.Sprintf("%s is trending on CoinGecko (+%.0f short)", coin, w.TrendingPoints))
		}
	}

	switch {
	case gc.PriceChange7d > w.SevenDayExtremePct:
		long -= w.SevenDayPoints
		reasoning = append(reasoning, fmt.Sprintf("7d change +%.1f%% - exhaustion risk (-%.0f long)", gc.PriceChange7d, w.SevenDayPoints))
	case gc.PriceChange7d < -w.SevenDayExtremePct:
		long += w.SevenDayPoints
		reasoning = append(reasoning, fmt.Sprintf("7d change %.1f%% - reversal setup (+%.0f long)", gc.PriceChange7d, w.SevenDayPoints))
	}

	if coin != "BTC" && gc.BTCDominance > 0 {
		switch {
		case gc.BTCDominance > w.HighDominancePct:
			long -= w.DominancePoints
			reasoning = append(reasoning, fmt.Sprintf("BTC dominance %.1f%% high - altcoins lag (-%.0f long)", gc.BTCDominance, w.DominancePoints))
		case gc.BTCDominance < w.LowDominancePct:
			long += w.DominancePoints
			reasoning = append(reasoning, fmt.Sprintf("BTC dominance %.1f%% low - altcoin strength (+%.0f long)", gc.BTCDominance, w.DominancePoints))
		}
	}

	if gc.Degraded {
		reasoning = append(reasoning, "Global context unavailable or stale")
	}

	diff := long - short
	direction := Neutral
	switch {
	case diff > w.NeutralMargin:
		direction = Long
	case -diff > w.NeutralMargin:
		direction = Short
	}

	confidence := math.Abs(diff) / w.ConfidenceScale
	switch reg {
	case regime.HighVolatility:
		confidence *= w.HighVolatilityDamping
		reasoning = append(reasoning, fmt.Sprintf("High volatility (%.1f%%) - reduced confidence", ind.VolatilityPct))
	case regime.LowVolatility:
		confidence *= w.LowVolatilityDamping
		reasoning = append(reasoning, fmt.Sprintf("Low volatility (%.1f%%) - range-bound market", ind.VolatilityPct))
	}
	if !ind.DataSufficient {
		confidence *= w.InsufficientDataFactor
	}
	confidence = clampUnit(confidence)

	reasoning = append(reasoning, fmt.Sprintf("Score long %.0f vs short %.0f -> %s", long, short, direction))

	return Signal{
		Coin:       coin,
		Direction:  direction,
		Confidence: confidence,
		Regime:     reg,
		Indicators: ind,
		Context:    gc,
		Reasoning:  reasoning,
		LongScore:  long,
		ShortScore: short,
	}
}

// clampUnit forces v into [0, 1]; NaN maps to 0
func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
