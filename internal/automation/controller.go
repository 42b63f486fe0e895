package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"regimeforge-bot/internal/advisor"
	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/exchange"
	"regimeforge-bot/internal/logging"
	"regimeforge-bot/internal/signal"
	"regimeforge-bot/internal/takeprofit"
)

// ErrTickInFlight is reported when a tick starts while another is running
var ErrTickInFlight = errors.New("automation tick already in flight")

const (
	ActionNone            = "none"
	ActionOpenLong        = "OPEN_LONG"
	ActionOpenShort       = "OPEN_SHORT"
	ActionCloseStopLoss   = "CLOSE_STOP_LOSS"
	ActionCloseTakeProfit = "CLOSE_TAKE_PROFIT"
)

const reasonPriceUnavailable = "Price unavailable"

// Evaluator produces the current signal for a coin
type Evaluator interface {
	Evaluate(ctx context.Context, coin string) signal.Evaluation
}

// Decision is one executed automated action
type Decision struct {
	ID        string              `json:"id"`
	Coin      string              `json:"coin"`
	Action    string              `json:"action"`
	Reason    string              `json:"reason"`
	OrderID   string              `json:"order_id"`
	Side      string              `json:"side"`
	Size      float64             `json:"size"`
	Price     float64             `json:"price"`
	PnL       float64             `json:"pnl"`
	Signal    signal.Signal       `json:"signal"`
	Log       advisor.DecisionLog `json:"log"`
	CreatedAt time.Time           `json:"created_at"`
}

// Journal stores executed decisions
type Journal interface {
	RecordDecision(ctx context.Context, d Decision) error
}

// AILogUploader forwards decision logs to the exchange
type AILogUploader interface {
	UploadAILog(ctx context.Context, record interface{}) error
}

// TickResult reports what a tick did
type TickResult struct {
	Coin          string   `json:"coin"`
	Action        string   `json:"action"`
	Reason        string   `json:"reason"`
	TradeExecuted bool     `json:"trade_executed"`
	OrderID       string   `json:"order_id,omitempty"`
	PnL           *float64 `json:"pnl,omitempty"`
	Skipped       bool     `json:"skipped,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func none(coin, reason string) TickResult {
	return TickResult{Coin: coin, Action: ActionNone, Reason: reason}
}

// Deps are the controller's collaborators. Journal, AILog, Store and Bus
// are optional.
type Deps struct {
	Signals    Evaluator
	Market     exchange.MarketData
	Execution  exchange.Execution
	TakeProfit *takeprofit.Engine
	Coins      *CoinSelector
	Journal    Journal
	AILog      AILogUploader
	Store      SettingsStore
	Bus        *events.EventBus
	Logger     *logging.Logger
}

// Controller runs the closed automation loop for the selected coin
type Controller struct {
	mu       sync.Mutex
	settings Settings
	state    RuntimeState
	inFlight atomic.Bool

	signals Evaluator
	market  exchange.MarketData
	exec    exchange.Execution
	tp      *takeprofit.Engine
	coins   *CoinSelector
	journal Journal
	aiLog   AILogUploader
	store   SettingsStore
	bus     *events.EventBus
	logger  *logging.Logger
	now     func() time.Time
}

// NewController creates a controller with the given initial settings
func NewController(settings Settings, d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = logging.Default()
	}
	coins := d.Coins
	if coins == nil {
		coins = NewCoinSelector("BTC", d.Bus)
	}
	return &Controller{
		settings: settings,
		signals:  d.Signals,
		market:   d.Market,
		exec:     d.Execution,
		tp:       d.TakeProfit,
		coins:    coins,
		journal:  d.Journal,
		aiLog:    d.AILog,
		store:    d.Store,
		bus:      d.Bus,
		logger:   logger.WithComponent("automation"),
		now:      time.Now,
	}
}

// Coins returns the coin selector
func (c *Controller) Coins() *CoinSelector {
	return c.coins
}

// LoadSettings replaces the settings with the persisted copy, if any
func (c *Controller) LoadSettings(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	var stored Settings
	ok, err := c.store.Load(ctx, settingsKey, &stored)
	if err != nil {
		return fmt.Errorf("failed to load automation settings: %w", err)
	}
	if !ok {
		return nil
	}
	if err := stored.Validate(); err != nil {
		c.logger.Warn("Ignoring invalid persisted automation settings", "error", err)
		return nil
	}
	c.mu.Lock()
	c.settings = stored
	c.mu.Unlock()
	return nil
}

// GetSettings returns the current settings
func (c *Controller) GetSettings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings validates, persists and applies p. On any failure the
// previous settings stay in effect.
func (c *Controller) UpdateSettings(ctx context.Context, p SettingsPatch) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := p.Apply(c.settings)
	if err := next.Validate(); err != nil {
		return c.settings, err
	}
	if c.store != nil {
		if err := c.store.Save(ctx, settingsKey, next); err != nil {
			return c.settings, fmt.Errorf("failed to persist automation settings: %w", err)
		}
	}
	c.settings = next

	c.logger.Info("Automation settings updated",
		"enabled", next.Enabled, "auto_entry", next.AutoEntry,
		"margin_usdt", next.MarginUSDT, "leverage", next.Leverage)
	c.bus.Publish(events.Event{Type: events.EventSettingsChanged, Data: map[string]interface{}{
		"section":  "automation",
		"settings": next,
	}})
	return next, nil
}

// State returns a copy of the runtime state
func (c *Controller) State() RuntimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state.clone()
	now := c.now()
	s.TradeTimestamps = s.tradesSince(now)
	s.DailyPnL = s.dailyPnL(now)
	return s
}

// Tick runs one control step. It never panics; overlapping calls return a
// skipped result.
func (c *Controller) Tick(ctx context.Context) (res TickResult) {
	coin := c.coins.Get()
	if !c.inFlight.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.state.SkippedTicks++
		c.mu.Unlock()
		return TickResult{Coin: coin, Action: ActionNone, Reason: "Previous tick still running", Skipped: true, Error: ErrTickInFlight.Error()}
	}
	defer c.inFlight.Store(false)

	ctx, log := logging.WithTraceContext(ctx, c.logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Automation tick panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			res = TickResult{Coin: coin, Action: ActionNone, Reason: "Tick aborted", Error: fmt.Sprint(r)}
		}
		c.finishTick(res)
	}()

	return c.tick(ctx, coin)
}

func (c *Controller) finishTick(res TickResult) {
	c.mu.Lock()
	c.state.LastAction = res.Action
	c.state.LastReason = res.Reason
	c.state.LastTickAt = c.now()
	c.mu.Unlock()
	c.bus.PublishTick(res.Coin, res.Action, res.Reason)
}

func (c *Controller) tick(ctx context.Context, coin string) TickResult {
	settings := c.GetSettings()
	if !settings.Enabled {
		return none(coin, "Automation disabled")
	}
	now := c.now()
	sig := c.signals.Evaluate(ctx, coin).Signal

	pos, err := c.exec.GetOpenPosition(ctx, coin)
	if err != nil {
		c.bus.PublishError("automation", "position lookup failed", err)
		res := none(coin, "Position lookup failed")
		res.Error = err.Error()
		return res
	}

	if pos == nil {
		if ok, reason := c.canEnter(settings, sig, now); !ok {
			return none(coin, reason)
		}
		return c.enter(ctx, coin, settings, sig, now)
	}

	if pos.CurrentPrice <= 0 {
		return none(coin, reasonPriceUnavailable)
	}
	pnlPct := pos.PnLPct()
	if settings.AutoStopLoss && pnlPct <= -settings.StopLossPct {
		reason := fmt.Sprintf("Loss exceeded %.2f%% (was %.2f%%)", settings.StopLossPct, pnlPct)
		return c.closePosition(ctx, pos, ActionCloseStopLoss, reason, sig)
	}
	if settings.AutoTakeProfit && c.tp != nil {
		chk := c.tp.Check(ctx, coin, pnlPct, true)
		if chk.ShouldClose {
			return c.closePosition(ctx, pos, ActionCloseTakeProfit, chk.Reason, sig)
		}
	}
	return none(coin, fmt.Sprintf("Position open: %s P/L: %.2f%%", pos.Side, pnlPct))
}

// canEnter applies the entry gates in order and names the first that fails.
// A zero trade cap or loss limit disables that gate.
func (c *Controller) canEnter(s Settings, sig signal.Signal, now time.Time) (bool, string) {
	if !s.AutoEntry {
		return false, "Auto-entry disabled"
	}
	if sig.Direction == signal.Neutral {
		return false, "Signal: NEUTRAL"
	}
	if sig.Confidence < s.MinConfidence {
		return false, fmt.Sprintf("Low confidence: %.0f%% < %.0f%%", sig.Confidence*100, s.MinConfidence*100)
	}

	c.mu.Lock()
	lastTrade := c.state.LastTradeAt
	trades := len(c.state.tradesSince(now))
	dailyPnL := c.state.dailyPnL(now)
	c.mu.Unlock()

	cooldown := time.Duration(s.CooldownMinutes) * time.Minute
	if !lastTrade.IsZero() && now.Sub(lastTrade) < cooldown {
		remaining := cooldown - now.Sub(lastTrade)
		return false, fmt.Sprintf("Cooldown: %ds remaining", int(remaining.Seconds()))
	}
	if s.MaxTradesPerHour > 0 && trades >= s.MaxTradesPerHour {
		return false, fmt.Sprintf("Max trades/hour reached (%d)", s.MaxTradesPerHour)
	}
	if s.DailyLossLimitUSDT > 0 && dailyPnL <= -s.DailyLossLimitUSDT {
		return false, fmt.Sprintf("Daily loss limit reached (%.2f USDT)", dailyPnL)
	}
	logging.RiskContext(c.logger, trades, dailyPnL).Debug("Entry gates passed")
	return true, ""
}

func (c *Controller) enter(ctx context.Context, coin string, s Settings, sig signal.Signal, now time.Time) TickResult {
	meta, err := exchange.LookupCoin(coin)
	if err != nil {
		res := none(coin, "Unsupported coin")
		res.Error = err.Error()
		return res
	}

	price, err := c.market.GetTickerPrice(ctx, coin)
	if err != nil || price <= 0 {
		price = sig.Indicators.LastPrice
	}
	if price <= 0 {
		return none(coin, reasonPriceUnavailable)
	}
	size := meta.SizeFor(s.MarginUSDT, s.Leverage, price)
	if size <= 0 {
		return none(coin, "Position size too small")
	}

	side := exchange.OpenLong
	action := ActionOpenLong
	if sig.Direction == signal.Short {
		side = exchange.OpenShort
		action = ActionOpenShort
	}

	log := logging.TradeContext(logging.FromContextOr(ctx, c.logger), coin, side.String(), size, price)
	order, err := c.exec.OpenPosition(ctx, exchange.OrderRequest{
		Coin:      coin,
		Side:      side,
		Size:      size,
		Leverage:  s.Leverage,
		OrderType: exchange.Market,
	})
	if err != nil {
		log.WithError(err).Error("Automated entry failed")
		c.bus.PublishError("automation", "order placement failed", err)
		res := none(coin, "Trade failed")
		res.Error = err.Error()
		return res
	}
	if order.Price > 0 {
		price = order.Price
	}

	c.mu.Lock()
	c.state.recordEntry(now)
	c.mu.Unlock()

	if c.tp != nil {
		c.tp.ArmTrailing(ctx, coin)
	}

	reason := fmt.Sprintf("Signal: %s (%.0f%% conf)", sig.Direction, sig.Confidence*100)
	log.Info("Automated entry executed", "order_id", order.OrderID, "confidence", sig.Confidence)
	c.bus.PublishTradeOpened(coin, side.String(), order.Size, price, sig.Confidence)
	c.record(ctx, Decision{
		Coin:    coin,
		Action:  action,
		Reason:  reason,
		OrderID: order.OrderID,
		Side:    side.String(),
		Size:    order.Size,
		Price:   price,
		Signal:  sig,
	}, now)

	return TickResult{
		Coin:          coin,
		Action:        action,
		Reason:        reason,
		TradeExecuted: true,
		OrderID:       order.OrderID,
	}
}

// closePosition closes pos and books its PnL. A failed close leaves state
// untouched so the next tick retries.
func (c *Controller) closePosition(ctx context.Context, pos *exchange.Position, action, reason string, sig signal.Signal) TickResult {
	coin := pos.Coin
	if coin == "" {
		coin = c.coins.Get()
	}
	log := logging.TradeContext(logging.FromContextOr(ctx, c.logger), coin, string(pos.Side), pos.Size, pos.CurrentPrice)

	order, err := c.exec.ClosePosition(ctx, coin)
	if err != nil {
		log.WithError(err).Error("Close failed", "action", action)
		c.bus.PublishError("automation", "close failed", err)
		res := none(coin, "Close failed: "+reason)
		res.Error = err.Error()
		return res
	}

	pnl := order.RealizedPnL
	if pnl == 0 {
		pnl = pos.PnLUSDT()
	}
	exitPrice := order.Price
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}

	now := c.now()
	c.mu.Lock()
	c.state.recordClose(now, pnl)
	c.mu.Unlock()
	if c.tp != nil {
		c.tp.Reset(ctx, coin)
	}

	log.Info("Position closed", "action", action, "pnl", pnl, "reason", reason)
	c.bus.PublishTradeClosed(coin, action, pos.EntryPrice, exitPrice, pos.Size, pnl)
	c.record(ctx, Decision{
		Coin:    coin,
		Action:  action,
		Reason:  reason,
		OrderID: order.OrderID,
		Side:    order.Side.String(),
		Size:    pos.Size,
		Price:   exitPrice,
		PnL:     pnl,
		Signal:  sig,
	}, now)

	return TickResult{
		Coin:          coin,
		Action:        action,
		Reason:        reason,
		TradeExecuted: true,
		OrderID:       order.OrderID,
		PnL:           &pnl,
	}
}

// CheckTakeProfit evaluates take-profit for coin outside the tick and closes
// the position when it fires. It shares the tick's in-flight guard.
func (c *Controller) CheckTakeProfit(ctx context.Context, coin string) (takeprofit.CheckResult, *TickResult, error) {
	coin = normalizeCoin(coin)
	if c.tp == nil {
		return takeprofit.CheckResult{Coin: coin, State: takeprofit.Disabled}, nil, nil
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return takeprofit.CheckResult{}, nil, ErrTickInFlight
	}
	defer c.inFlight.Store(false)

	pos, err := c.exec.GetOpenPosition(ctx, coin)
	if err != nil {
		return takeprofit.CheckResult{}, nil, fmt.Errorf("failed to get position: %w", err)
	}
	if pos == nil {
		return c.tp.Check(ctx, coin, 0, false), nil, nil
	}

	if pos.CurrentPrice <= 0 {
		return c.priceUnavailable(ctx, coin), nil, nil
	}
	chk := c.tp.Check(ctx, coin, pos.PnLPct(), true)
	if !chk.ShouldClose {
		return chk, nil, nil
	}
	if pos.Coin == "" {
		pos.Coin = coin
	}
	sig := c.signals.Evaluate(ctx, coin).Signal
	res := c.closePosition(ctx, pos, ActionCloseTakeProfit, chk.Reason, sig)
	return chk, &res, nil
}

// priceUnavailable reports the take-profit state without advancing it
func (c *Controller) priceUnavailable(ctx context.Context, coin string) takeprofit.CheckResult {
	settings := c.tp.Settings(ctx, coin)
	res := takeprofit.CheckResult{
		Coin:          coin,
		State:         takeprofit.Disabled,
		Mode:          settings.Mode,
		Reason:        reasonPriceUnavailable,
		PeakProfitPct: c.tp.State(ctx, coin).PeakProfitPct,
	}
	if settings.Enabled {
		res.State = takeprofit.Armed
	}
	return res
}

// record writes d to the journal and the exchange AI log. Failures are
// logged and never undo the trade.
func (c *Controller) record(ctx context.Context, d Decision, now time.Time) {
	d.ID = uuid.New().String()
	d.CreatedAt = now
	d.Log = advisor.NewDecisionLog(d.OrderID, d.Action, d.Signal, d.Price, now)

	if c.journal != nil {
		if err := c.journal.RecordDecision(ctx, d); err != nil {
			c.logger.Warn("Failed to journal decision", "action", d.Action, "error", err)
		}
	}
	if c.aiLog != nil {
		if err := c.aiLog.UploadAILog(ctx, d.Log); err != nil {
			c.logger.Warn("Failed to upload decision log", "order_id", d.OrderID, "error", err)
		}
	}
}
