package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventTakeProfitArmed EventType = "TAKE_PROFIT_ARMED"
	EventTakeProfitFired EventType = "TAKE_PROFIT_TRIGGERED"
	EventAutomationTick  EventType = "AUTOMATION_TICK"
	EventSettingsChanged EventType = "SETTINGS_CHANGED"
	EventContextDegraded EventType = "CONTEXT_DEGRADED"
	EventCoinChanged     EventType = "COIN_CHANGED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus fans events out to subscribers. Delivery is asynchronous so a
// slow subscriber never stalls the trading path.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	now         func() time.Time
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = eb.now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a scored signal
func (eb *EventBus) PublishSignal(coin, direction, regime string, confidence float64, reasoning []string) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"coin":       coin,
			"signal":     direction,
			"regime":     regime,
			"confidence": confidence,
			"reasoning":  reasoning,
		},
	})
}

// PublishTradeOpened publishes an automated or manual entry
func (eb *EventBus) PublishTradeOpened(coin, side string, size, price, confidence float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"coin":       coin,
			"side":       side,
			"size":       size,
			"price":      price,
			"confidence": confidence,
		},
	})
}

// PublishTradeClosed publishes a position close with its realized PnL
func (eb *EventBus) PublishTradeClosed(coin, reason string, entryPrice, exitPrice, size, pnl float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"coin":        coin,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"size":        size,
			"pnl":         pnl,
		},
	})
}

// PublishTakeProfit publishes a take-profit state transition
func (eb *EventBus) PublishTakeProfit(eventType EventType, coin, mode string, pnlPct, peakPct float64) {
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"coin":     coin,
			"mode":     mode,
			"pnl_pct":  pnlPct,
			"peak_pct": peakPct,
		},
	})
}

// PublishTick publishes the outcome of one automation tick
func (eb *EventBus) PublishTick(coin, action, reason string) {
	eb.Publish(Event{
		Type: EventAutomationTick,
		Data: map[string]interface{}{
			"coin":   coin,
			"action": action,
			"reason": reason,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
			"error":   errStr,
		},
	})
}
