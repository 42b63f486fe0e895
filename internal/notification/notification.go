package notification

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyTakeProfit NotificationType = "take_profit"
	NotifyDegraded   NotificationType = "degraded"
	NotifyError      NotificationType = "error"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Coin      string
	Price     float64
	PnL       float64
	Timestamp time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans bus events out to notification providers
type Manager struct {
	mu        sync.RWMutex
	notifiers []Notifier
	logger    *logging.Logger
}

// NewManager creates a new notification manager
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{logger: logger.WithComponent("notification")}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()

	var lastErr error
	for _, n := range notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(notification); err != nil {
			m.logger.WithError(err).Warn("Notification failed", "provider", n.Name(), "type", string(notification.Type))
			lastErr = err
		}
	}
	return lastErr
}

// Subscribe routes trade, take-profit, degraded-context and error events
// from the bus into notifications
func (m *Manager) Subscribe(bus *events.EventBus) {
	handler := func(e events.Event) {
		if n, ok := FromEvent(e); ok {
			_ = m.Send(n)
		}
	}
	for _, t := range []events.EventType{
		events.EventTradeOpened,
		events.EventTradeClosed,
		events.EventTakeProfitFired,
		events.EventContextDegraded,
		events.EventError,
	} {
		bus.Subscribe(t, handler)
	}
}

// FromEvent renders a bus event as a notification. Events with nothing
// worth telling a human return false.
func FromEvent(e events.Event) (*Notification, bool) {
	coin := str(e.Data, "coin")
	n := &Notification{Coin: coin, Timestamp: e.Timestamp}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	switch e.Type {
	case events.EventTradeOpened:
		side := str(e.Data, "side")
		emoji := "🟢"
		if strings.EqualFold(side, "SHORT") {
			emoji = "🔴"
		}
		n.Type = NotifyTradeOpen
		n.Price = num(e.Data, "price")
		n.Title = fmt.Sprintf("%s Trade Opened: %s %s", emoji, side, coin)
		n.Message = fmt.Sprintf("Price: %.4f\nSize: %.6f\nConfidence: %.0f%%",
			n.Price, num(e.Data, "size"), num(e.Data, "confidence")*100)

	case events.EventTradeClosed:
		n.Type = NotifyTradeClose
		n.Price = num(e.Data, "exit_price")
		n.PnL = num(e.Data, "pnl")
		emoji := "✅"
		if n.PnL < 0 {
			emoji = "❌"
		}
		n.Title = fmt.Sprintf("%s Trade Closed: %s", emoji, coin)
		n.Message = fmt.Sprintf("Entry: %.4f → Exit: %.4f\nP&L: %+.2f USDT\nReason: %s",
			num(e.Data, "entry_price"), n.Price, n.PnL, str(e.Data, "reason"))

	case events.EventTakeProfitFired:
		n.Type = NotifyTakeProfit
		n.Title = fmt.Sprintf("🎯 Take Profit Triggered: %s", coin)
		n.Message = fmt.Sprintf("Mode: %s\nP/L: %.2f%% (peak %.2f%%)",
			str(e.Data, "mode"), num(e.Data, "pnl_pct"), num(e.Data, "peak_pct"))

	case events.EventContextDegraded:
		n.Type = NotifyDegraded
		n.Title = fmt.Sprintf("⚠️ Market Context Degraded: %s", coin)
		n.Message = "Signals are running without global market data"
		if feeds, ok := e.Data["stale_feeds"].([]string); ok && len(feeds) > 0 {
			n.Message = "Stale feeds: " + strings.Join(feeds, ", ")
		}

	case events.EventError:
		n.Type = NotifyError
		n.Title = fmt.Sprintf("⚠️ %s", str(e.Data, "source"))
		n.Message = str(e.Data, "message")
		if errStr := str(e.Data, "error"); errStr != "" {
			n.Message += "\n" + errStr
		}

	default:
		return nil, false
	}
	return n, true
}

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func num(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
