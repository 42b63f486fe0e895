package config

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError describes one rejected configuration value
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field that failed validation so callers can
// report them together. Settings updates that fail validation are not applied.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Add records a field failure
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when no failures were recorded
func (e *ValidationError) Err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Validate checks ranges across all sections
func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		v.Add("server.port", "must be between 1 and 65535, got %d", c.ServerConfig.Port)
	}
	if c.AuthConfig.Enabled {
		if len(c.AuthConfig.JWTSecret) < 32 {
			v.Add("auth.jwt_secret", "must be at least 32 characters when auth is enabled")
		}
		if c.AuthConfig.AdminPasswordHash == "" {
			v.Add("auth.admin_password_hash", "required when auth is enabled")
		}
	}

	cg := c.CoinGeckoConfig
	if cg.GlobalTTL <= 0 || cg.CoinsTTL <= 0 || cg.TrendingTTL <= 0 {
		v.Add("coingecko.ttl", "all sub-feed TTLs must be positive")
	}
	if cg.MinFetchInterval < 0 {
		v.Add("coingecko.min_fetch_interval", "must not be negative")
	}
	if cg.RequestsPerMinute <= 0 {
		v.Add("coingecko.requests_per_minute", "must be positive")
	}

	ind := c.IndicatorConfig
	if ind.RSIPeriod < 2 {
		v.Add("indicators.rsi_period", "must be at least 2, got %d", ind.RSIPeriod)
	}
	if ind.FastEMA < 1 || ind.SlowEMA <= ind.FastEMA {
		v.Add("indicators.ema", "need 0 < fast_ema < slow_ema, got %d/%d", ind.FastEMA, ind.SlowEMA)
	}
	if ind.TrendScalePct <= 0 {
		v.Add("indicators.trend_scale_pct", "must be positive")
	}
	if ind.CandlesPer24h < 1 {
		v.Add("indicators.candles_per_24h", "must be at least 1")
	}
	if ind.WindowCapacity < ind.SlowEMA+1 {
		v.Add("indicators.window_capacity", "must hold at least slow_ema+1 candles")
	}

	rg := c.RegimeConfig
	if rg.LowVolatilityPct < 0 || rg.HighVolatilityPct <= rg.LowVolatilityPct {
		v.Add("regime.volatility", "need 0 <= low < high, got %.2f/%.2f", rg.LowVolatilityPct, rg.HighVolatilityPct)
	}
	if rg.TrendThreshold <= 0 || rg.TrendThreshold > 1 {
		v.Add("regime.trend_threshold", "must be in (0, 1], got %.2f", rg.TrendThreshold)
	}

	validateScoring(c.ScoringConfig, v)

	tp := c.TakeProfitConfig
	if tp.FixedTargetPct <= 0 {
		v.Add("take_profit.fixed_target_pct", "must be positive")
	}
	if tp.TrailingDropPct <= 0 {
		v.Add("take_profit.trailing_drop_pct", "must be positive")
	}
	if tp.ActivationPct < 0 {
		v.Add("take_profit.activation_pct", "must not be negative")
	}

	ValidateAutomation(c.AutomationConfig, v)

	sc := c.SchedulerConfig
	if sc.MarketRefreshInterval <= 0 || sc.TakeProfitInterval <= 0 || sc.AutomationInterval <= 0 {
		v.Add("scheduler", "all intervals must be positive")
	}

	return v.Err()
}

func validateScoring(sc ScoringConfig, v *ValidationError) {
	if !(0 <= sc.RSIStrongOversold && sc.RSIStrongOversold <= sc.RSIOversold &&
		sc.RSIOversold < sc.RSIOverbought && sc.RSIOverbought <= sc.RSIStrongOverbought &&
		sc.RSIStrongOverbought <= 100) {
		v.Add("scoring.rsi_zones", "need 0 <= strong_oversold <= oversold < overbought <= strong_overbought <= 100, got %.0f/%.0f/%.0f/%.0f",
			sc.RSIStrongOversold, sc.RSIOversold, sc.RSIOverbought, sc.RSIStrongOverbought)
	}
	if sc.MildMovePct < 0 || sc.StrongMovePct < sc.MildMovePct {
		v.Add("scoring.move_pct", "need 0 <= mild_move_pct <= strong_move_pct, got %.2f/%.2f", sc.MildMovePct, sc.StrongMovePct)
	}
	if sc.SevenDayExtremePct < 0 {
		v.Add("scoring.seven_day_extreme_pct", "must not be negative")
	}
	if sc.LowDominancePct < 0 || sc.HighDominancePct < sc.LowDominancePct || sc.HighDominancePct > 100 {
		v.Add("scoring.dominance_pct", "need 0 <= low <= high <= 100, got %.1f/%.1f", sc.LowDominancePct, sc.HighDominancePct)
	}

	points := map[string]float64{
		"scoring.strong_points":      sc.StrongPoints,
		"scoring.moderate_points":    sc.ModeratePoints,
		"scoring.trend_bias_points":  sc.TrendBiasPoints,
		"scoring.strong_move_points": sc.StrongMovePoints,
		"scoring.mild_move_points":   sc.MildMovePoints,
		"scoring.sentiment_points":   sc.SentimentPoints,
		"scoring.trending_points":    sc.TrendingPoints,
		"scoring.seven_day_points":   sc.SevenDayPoints,
		"scoring.dominance_points":   sc.DominancePoints,
		"scoring.neutral_margin":     sc.NeutralMargin,
	}
	for _, field := range sortedKeys(points) {
		if points[field] < 0 {
			v.Add(field, "must not be negative, got %.2f", points[field])
		}
	}

	if sc.ConfidenceScale <= 0 {
		v.Add("scoring.confidence_scale", "must be positive")
	}
	factors := map[string]float64{
		"scoring.high_volatility_damping":  sc.HighVolatilityDamping,
		"scoring.low_volatility_damping":   sc.LowVolatilityDamping,
		"scoring.insufficient_data_factor": sc.InsufficientDataFactor,
	}
	for _, field := range sortedKeys(factors) {
		if f := factors[field]; f < 0 || f > 1 {
			v.Add(field, "must be within [0, 1], got %.2f", f)
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateAutomation appends automation range failures to v. It is shared by
// config loading and runtime settings updates.
func ValidateAutomation(a AutomationConfig, v *ValidationError) {
	if a.MarginUSDT <= 0 {
		v.Add("margin_usdt", "must be positive, got %.2f", a.MarginUSDT)
	}
	if a.Leverage <= 0 || a.Leverage > 125 {
		v.Add("leverage", "must be between 1 and 125, got %d", a.Leverage)
	}
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		v.Add("min_confidence", "must be within [0, 1], got %.2f", a.MinConfidence)
	}
	if a.StopLossPct <= 0 || a.StopLossPct >= 100 {
		v.Add("stop_loss_pct", "must be within (0, 100), got %.2f", a.StopLossPct)
	}
	if a.CooldownMinutes < 0 {
		v.Add("cooldown_minutes", "must not be negative, got %d", a.CooldownMinutes)
	}
	if a.MaxTradesPerHour < 0 {
		v.Add("max_trades_per_hour", "must not be negative, got %d", a.MaxTradesPerHour)
	}
	if a.DailyLossLimitUSDT < 0 {
		v.Add("daily_loss_limit_usdt", "must not be negative, got %.2f", a.DailyLossLimitUSDT)
	}
}
