package market

import "math"

// IndicatorSnapshot is the derived view of a candle window. When
// DataSufficient is false the other fields hold neutral values and must not
// be trusted.
type IndicatorSnapshot struct {
	RSI            float64 `json:"rsi"`
	TrendStrength  float64 `json:"trend_strength"` // [-1, 1], sign is direction
	VolatilityPct  float64 `json:"volatility_pct"`
	PriceChange24h float64 `json:"price_change_24h"`
	LastPrice      float64 `json:"last_price"`
	DataSufficient bool    `json:"data_sufficient"`
}

// NeutralSnapshot is returned for windows that are too short
func NeutralSnapshot() IndicatorSnapshot {
	return IndicatorSnapshot{RSI: 50}
}

// CalculatorConfig holds indicator parameters
type CalculatorConfig struct {
	RSIPeriod     int
	FastEMA       int
	SlowEMA       int
	TrendScalePct float64 // EMA spread in percent of price that maps to |trend| = 1
	CandlesPer24h int
}

// DefaultCalculatorConfig is tuned for hourly candles
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		RSIPeriod:     14,
		FastEMA:       9,
		SlowEMA:       21,
		TrendScalePct: 1.0,
		CandlesPer24h: 24,
	}
}

// Calculator derives indicators from candle windows. It holds no state
// beyond its configuration.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates a calculator
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// MinCandles is the shortest window that yields a sufficient snapshot
func (c *Calculator) MinCandles() int {
	n := c.cfg.RSIPeriod + 1
	if c.cfg.SlowEMA+1 > n {
		n = c.cfg.SlowEMA + 1
	}
	return n
}

// Compute returns the snapshot for candles, oldest first
func (c *Calculator) Compute(candles []Candle) IndicatorSnapshot {
	if len(candles) < c.MinCandles() {
		snap := NeutralSnapshot()
		if len(candles) > 0 {
			snap.LastPrice = candles[len(candles)-1].Close
		}
		return snap
	}

	closes := make([]float64, len(candles))
	for i, k := range candles {
		closes[i] = k.Close
	}
	last := closes[len(closes)-1]

	return IndicatorSnapshot{
		RSI:            CalculateRSI(closes, c.cfg.RSIPeriod),
		TrendStrength:  c.trendStrength(closes),
		VolatilityPct:  c.volatilityPct(closes),
		PriceChange24h: c.priceChange24h(closes),
		LastPrice:      last,
		DataSufficient: true,
	}
}

// trendStrength is the fast/slow EMA spread as a percent of price, scaled
// and clamped to [-1, 1]
func (c *Calculator) trendStrength(closes []float64) float64 {
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0
	}
	fast := CalculateEMA(closes, c.cfg.FastEMA)
	slow := CalculateEMA(closes, c.cfg.SlowEMA)
	spreadPct := (fast - slow) / last * 100
	return clamp(spreadPct/c.cfg.TrendScalePct, -1, 1)
}

// volatilityPct is the stddev of close-to-close returns over the window,
// scaled to a 24h horizon
func (c *Calculator) volatilityPct(closes []float64) float64 {
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	return StdDev(returns) * math.Sqrt(float64(c.cfg.CandlesPer24h)) * 100
}

// priceChange24h compares the latest close with the close one day back,
// or the oldest close when the window is shorter than a day
func (c *Calculator) priceChange24h(closes []float64) float64 {
	lookback := c.cfg.CandlesPer24h
	if lookback > len(closes)-1 {
		lookback = len(closes) - 1
	}
	base := closes[len(closes)-1-lookback]
	if base <= 0 {
		return 0
	}
	return (closes[len(closes)-1] - base) / base * 100
}

// CalculateSMA calculates the simple moving average of the last period values
func CalculateSMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// CalculateEMA calculates the exponential moving average seeded with an SMA
func CalculateEMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	multiplier := 2.0 / float64(period+1)
	ema := CalculateSMA(values[:period], period)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// CalculateRSI calculates Wilder's RSI over the whole series
func CalculateRSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50.0
	}

	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// StdDev is the sample standard deviation
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
