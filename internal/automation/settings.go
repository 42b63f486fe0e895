package automation

import (
	"context"
	"strings"
	"sync"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/exchange"
)

// Settings are the operator-controlled automation parameters. The field set
// matches config.AutomationConfig so both share one validator.
type Settings struct {
	Enabled            bool    `json:"enabled"`
	AutoEntry          bool    `json:"auto_entry"`
	AutoTakeProfit     bool    `json:"auto_take_profit"`
	AutoStopLoss       bool    `json:"auto_stop_loss"`
	MarginUSDT         float64 `json:"margin_usdt"`
	Leverage           int     `json:"leverage"`
	MinConfidence      float64 `json:"min_confidence"`
	StopLossPct        float64 `json:"stop_loss_pct"`
	CooldownMinutes    int     `json:"cooldown_minutes"`
	MaxTradesPerHour   int     `json:"max_trades_per_hour"`
	DailyLossLimitUSDT float64 `json:"daily_loss_limit_usdt"`
}

// SettingsFromConfig converts the config section
func SettingsFromConfig(c config.AutomationConfig) Settings {
	return Settings(c)
}

// Validate rejects out-of-range values with a *config.ValidationError
func (s Settings) Validate() error {
	v := &config.ValidationError{}
	config.ValidateAutomation(config.AutomationConfig(s), v)
	return v.Err()
}

// SettingsPatch is a partial update; nil fields are left unchanged
type SettingsPatch struct {
	Enabled            *bool    `json:"enabled,omitempty"`
	AutoEntry          *bool    `json:"auto_entry,omitempty"`
	AutoTakeProfit     *bool    `json:"auto_take_profit,omitempty"`
	AutoStopLoss       *bool    `json:"auto_stop_loss,omitempty"`
	MarginUSDT         *float64 `json:"margin_usdt,omitempty"`
	Leverage           *int     `json:"leverage,omitempty"`
	MinConfidence      *float64 `json:"min_confidence,omitempty"`
	StopLossPct        *float64 `json:"stop_loss_pct,omitempty"`
	CooldownMinutes    *int     `json:"cooldown_minutes,omitempty"`
	MaxTradesPerHour   *int     `json:"max_trades_per_hour,omitempty"`
	DailyLossLimitUSDT *float64 `json:"daily_loss_limit_usdt,omitempty"`
}

// Apply returns s with the patch's non-nil fields applied
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.AutoEntry != nil {
		s.AutoEntry = *p.AutoEntry
	}
	if p.AutoTakeProfit != nil {
		s.AutoTakeProfit = *p.AutoTakeProfit
	}
	if p.AutoStopLoss != nil {
		s.AutoStopLoss = *p.AutoStopLoss
	}
	if p.MarginUSDT != nil {
		s.MarginUSDT = *p.MarginUSDT
	}
	if p.Leverage != nil {
		s.Leverage = *p.Leverage
	}
	if p.MinConfidence != nil {
		s.MinConfidence = *p.MinConfidence
	}
	if p.StopLossPct != nil {
		s.StopLossPct = *p.StopLossPct
	}
	if p.CooldownMinutes != nil {
		s.CooldownMinutes = *p.CooldownMinutes
	}
	if p.MaxTradesPerHour != nil {
		s.MaxTradesPerHour = *p.MaxTradesPerHour
	}
	if p.DailyLossLimitUSDT != nil {
		s.DailyLossLimitUSDT = *p.DailyLossLimitUSDT
	}
	return s
}

// SettingsStore persists settings between restarts
type SettingsStore interface {
	Load(ctx context.Context, key string, dst interface{}) (bool, error)
	Save(ctx context.Context, key string, v interface{}) error
}

const settingsKey = "automation:settings"

// CoinSelector holds the coin the controller trades
type CoinSelector struct {
	mu   sync.RWMutex
	coin string
	bus  *events.EventBus
}

// NewCoinSelector starts on coin, falling back to BTC when unsupported
func NewCoinSelector(coin string, bus *events.EventBus) *CoinSelector {
	c, err := exchange.LookupCoin(coin)
	if err != nil {
		c, _ = exchange.LookupCoin("BTC")
	}
	return &CoinSelector{coin: c.Name, bus: bus}
}

// Get returns the selected coin
func (s *CoinSelector) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coin
}

// Set switches the selected coin
func (s *CoinSelector) Set(coin string) (string, error) {
	c, err := exchange.LookupCoin(coin)
	if err != nil {
		return s.Get(), err
	}
	s.mu.Lock()
	prev := s.coin
	s.coin = c.Name
	s.mu.Unlock()

	if prev != c.Name {
		s.bus.Publish(events.Event{
			Type: events.EventCoinChanged,
			Data: map[string]interface{}{"previous": prev, "coin": c.Name},
		})
	}
	return c.Name, nil
}

func normalizeCoin(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin))
}
