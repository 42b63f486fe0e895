package takeprofit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/logging"
)

// Mode selects how profit is taken
type Mode string

const (
	Fixed    Mode = "FIXED"
	Trailing Mode = "TRAILING"
)

// State is the take-profit state for one coin's open position
type State string

const (
	Disabled  State = "DISABLED"
	Armed     State = "ARMED"
	Triggered State = "TRIGGERED"
)

// Settings configure take-profit for one coin
type Settings struct {
	Enabled         bool    `json:"enabled"`
	Mode            Mode    `json:"mode"`
	FixedTargetPct  float64 `json:"fixed_target_pct"`
	TrailingDropPct float64 `json:"trailing_drop_pct"`
	ActivationPct   float64 `json:"activation_pct"`
}

// DefaultSettings builds coin defaults from config. Take-profit starts
// disabled in FIXED mode.
func DefaultSettings(cfg config.TakeProfitConfig) Settings {
	return Settings{
		Mode:            Fixed,
		FixedTargetPct:  cfg.FixedTargetPct,
		TrailingDropPct: cfg.TrailingDropPct,
		ActivationPct:   cfg.ActivationPct,
	}
}

// Validate rejects settings the engine cannot act on
func (s Settings) Validate() error {
	v := &config.ValidationError{}
	if s.Mode != Fixed && s.Mode != Trailing {
		v.Add("mode", "must be FIXED or TRAILING, got %q", s.Mode)
	}
	if s.FixedTargetPct <= 0 {
		v.Add("fixed_target_pct", "must be positive")
	}
	if s.TrailingDropPct <= 0 {
		v.Add("trailing_drop_pct", "must be positive")
	}
	if s.ActivationPct < 0 {
		v.Add("activation_pct", "cannot be negative")
	}
	return v.Err()
}

// Patch is a partial settings update; nil fields keep their current value
type Patch struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	Mode            *Mode    `json:"mode,omitempty"`
	FixedTargetPct  *float64 `json:"fixed_target_pct,omitempty"`
	TrailingDropPct *float64 `json:"trailing_drop_pct,omitempty"`
	ActivationPct   *float64 `json:"activation_pct,omitempty"`
}

func (p Patch) apply(s Settings) Settings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.Mode != nil {
		s.Mode = Mode(strings.ToUpper(string(*p.Mode)))
	}
	if p.FixedTargetPct != nil {
		s.FixedTargetPct = *p.FixedTargetPct
	}
	if p.TrailingDropPct != nil {
		s.TrailingDropPct = *p.TrailingDropPct
	}
	if p.ActivationPct != nil {
		s.ActivationPct = *p.ActivationPct
	}
	return s
}

// RuntimeState is the per-position tracking data
type RuntimeState struct {
	PeakProfitPct float64 `json:"peak_profit_pct"`
	Triggered     bool    `json:"triggered"`
}

// CheckResult reports one take-profit evaluation
type CheckResult struct {
	Coin          string  `json:"coin"`
	State         State   `json:"state"`
	Mode          Mode    `json:"mode"`
	ShouldClose   bool    `json:"should_close"`
	Reason        string  `json:"reason"`
	ProfitPct     float64 `json:"profit_pct"`
	PeakProfitPct float64 `json:"peak_profit_pct"`
}

// SettingsStore persists per-coin settings
type SettingsStore interface {
	Load(ctx context.Context, key string, dst interface{}) (bool, error)
	Save(ctx context.Context, key string, v interface{}) error
}

type tracker struct {
	settings Settings
	state    RuntimeState
}

// Engine tracks take-profit for every coin
type Engine struct {
	mu       sync.Mutex
	defaults Settings
	coins    map[string]*tracker
	store    SettingsStore
	bus      *events.EventBus
	logger   *logging.Logger
}

// NewEngine creates an engine. store and bus may be nil.
func NewEngine(defaults Settings, store SettingsStore, bus *events.EventBus, logger *logging.Logger) *Engine {
	return &Engine{
		defaults: defaults,
		coins:    make(map[string]*tracker),
		store:    store,
		bus:      bus,
		logger:   logger.WithComponent("take-profit"),
	}
}

func settingsKey(coin string) string {
	return "takeprofit:" + coin
}

// trackerLocked returns the tracker for coin, creating it from the store or
// defaults on first use. Caller holds e.mu.
func (e *Engine) trackerLocked(ctx context.Context, coin string) *tracker {
	if t, ok := e.coins[coin]; ok {
		return t
	}
	t := &tracker{settings: e.defaults}
	if e.store != nil {
		var stored Settings
		ok, err := e.store.Load(ctx, settingsKey(coin), &stored)
		if err != nil {
			e.logger.Warn("Failed to load take-profit settings, using defaults", "coin", coin, "error", err)
		} else if ok && stored.Validate() == nil {
			t.settings = stored
		}
	}
	e.coins[coin] = t
	return t
}

// Settings returns the settings for coin
func (e *Engine) Settings(ctx context.Context, coin string) Settings {
	coin = strings.ToUpper(coin)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trackerLocked(ctx, coin).settings
}

// State returns the runtime state for coin
func (e *Engine) State(ctx context.Context, coin string) RuntimeState {
	coin = strings.ToUpper(coin)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trackerLocked(ctx, coin).state
}

// UpdateSettings applies a validated partial update. On failure the current
// settings are left unchanged.
func (e *Engine) UpdateSettings(ctx context.Context, coin string, p Patch) (Settings, error) {
	coin = strings.ToUpper(coin)
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.trackerLocked(ctx, coin)
	next := p.apply(t.settings)
	if err := next.Validate(); err != nil {
		return t.settings, err
	}
	if e.store != nil {
		if err := e.store.Save(ctx, settingsKey(coin), next); err != nil {
			return t.settings, fmt.Errorf("failed to persist take-profit settings: %w", err)
		}
	}

	modeChanged := next.Mode != t.settings.Mode
	t.settings = next
	if modeChanged || !next.Enabled {
		t.state = RuntimeState{}
	}

	e.logger.Info("Take-profit settings updated",
		"coin", coin, "enabled", next.Enabled, "mode", string(next.Mode))
	return next, nil
}

// ArmTrailing enables trailing take-profit for a freshly opened position
func (e *Engine) ArmTrailing(ctx context.Context, coin string) {
	coin = strings.ToUpper(coin)
	e.mu.Lock()
	t := e.trackerLocked(ctx, coin)
	t.settings.Enabled = true
	t.settings.Mode = Trailing
	t.state = RuntimeState{}
	s := t.settings
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Save(ctx, settingsKey(coin), s); err != nil {
			e.logger.Warn("Failed to persist armed take-profit", "coin", coin, "error", err)
		}
	}
	e.bus.PublishTakeProfit(events.EventTakeProfitArmed, coin, string(Trailing), 0, 0)
}

// Reset clears the runtime state. It must run whenever the position closes.
func (e *Engine) Reset(ctx context.Context, coin string) {
	coin = strings.ToUpper(coin)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trackerLocked(ctx, coin).state = RuntimeState{}
}

// Check evaluates take-profit for coin given the current unleveraged profit
// percent. positionOpen=false is treated as a close and resets state.
func (e *Engine) Check(ctx context.Context, coin string, profitPct float64, positionOpen bool) CheckResult {
	coin = strings.ToUpper(coin)
	e.mu.Lock()
	t := e.trackerLocked(ctx, coin)
	res := evaluate(t, profitPct, positionOpen)
	e.mu.Unlock()

	res.Coin = coin
	if res.ShouldClose && res.State == Triggered {
		e.logger.Info("Take-profit triggered",
			"coin", coin, "mode", string(res.Mode), "profit_pct", res.ProfitPct, "peak_pct", res.PeakProfitPct)
		e.bus.PublishTakeProfit(events.EventTakeProfitFired, coin, string(res.Mode), res.ProfitPct, res.PeakProfitPct)
	}
	return res
}

// evaluate advances t's state machine for one reading
func evaluate(t *tracker, profitPct float64, positionOpen bool) CheckResult {
	s := t.settings
	res := CheckResult{Mode: s.Mode, ProfitPct: profitPct}

	if !positionOpen {
		t.state = RuntimeState{}
		res.State = Disabled
		res.Reason = "No open position"
		return res
	}
	if !s.Enabled {
		res.State = Disabled
		res.Reason = "Take-profit disabled"
		return res
	}

	if profitPct > t.state.PeakProfitPct {
		t.state.PeakProfitPct = profitPct
	}
	res.PeakProfitPct = t.state.PeakProfitPct

	if t.state.Triggered {
		res.State = Triggered
		res.ShouldClose = true
		res.Reason = "Take-profit already triggered, awaiting close"
		return res
	}

	switch s.Mode {
	case Trailing:
		peak := t.state.PeakProfitPct
		drop := peak - profitPct
		switch {
		case peak <= s.ActivationPct:
			res.Reason = fmt.Sprintf("Waiting for profit (current %.2f%%, trailing activates above %.2f%%)", profitPct, s.ActivationPct)
		case drop >= s.TrailingDropPct:
			res.ShouldClose = true
			res.Reason = fmt.Sprintf("Trailing stop hit: peak %.2f%%, current %.2f%%, drop %.2f%% >= %.2f%%", peak, profitPct, drop, s.TrailingDropPct)
		default:
			res.Reason = fmt.Sprintf("Trailing: peak %.2f%%, current %.2f%%, drop %.2f%%", peak, profitPct, drop)
		}
	default:
		if profitPct >= s.FixedTargetPct {
			res.ShouldClose = true
			res.Reason = fmt.Sprintf("Fixed target reached: %.2f%% >= %.2f%%", profitPct, s.FixedTargetPct)
		} else {
			res.Reason = fmt.Sprintf("Waiting for %.2f%% (current %.2f%%)", s.FixedTargetPct, profitPct)
		}
	}

	if res.ShouldClose {
		t.state.Triggered = true
		res.State = Triggered
	} else {
		res.State = Armed
	}
	return res
}
