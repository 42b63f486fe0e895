package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/globalctx"
	"regimeforge-bot/internal/logging"
	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/regime"
)

type staticContext struct {
	gc    globalctx.Context
	calls int
}

func (s *staticContext) Peek(coin string) globalctx.Context {
	s.calls++
	out := s.gc
	out.Coin = coin
	return out
}

func newTestEngine(gc globalctx.Context, bus *events.EventBus) (*Engine, *market.Store, *staticContext) {
	store := market.NewStore(200)
	ctxs := &staticContext{gc: gc}
	e := NewEngine(store,
		market.NewCalculator(market.DefaultCalculatorConfig()),
		regime.NewClassifier(regime.DefaultThresholds()),
		ctxs,
		NewScorer(DefaultWeights()),
		bus,
		logging.Nop())
	return e, store, ctxs
}

func fill(w *market.Window, closes []float64) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		w.Append(market.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c})
	}
}

func TestEvaluateEmptyWindow(t *testing.T) {
	e, _, ctxs := newTestEngine(globalctx.NeutralContext(""), nil)

	ev := e.Evaluate(context.Background(), "btc")
	if ev.Coin != "BTC" {
		t.Errorf("coin = %q, want BTC", ev.Coin)
	}
	if ev.Direction != Neutral || ev.Regime != regime.RangeBound {
		t.Errorf("empty window should be neutral/range-bound, got %s/%s", ev.Direction, ev.Regime)
	}
	if ev.Indicators.DataSufficient {
		t.Error("empty window cannot be sufficient")
	}
	if ctxs.calls != 1 {
		t.Errorf("context peeked %d times, want 1", ctxs.calls)
	}
}

func TestEvaluateSteadyDeclinePublishes(t *testing.T) {
	bus := events.NewEventBus()
	var (
		mu  sync.Mutex
		got []events.Event
		wg  sync.WaitGroup
	)
	wg.Add(1)
	bus.Subscribe(events.EventSignalGenerated, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		wg.Done()
	})

	e, store, _ := newTestEngine(globalctx.NeutralContext(""), bus)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 200 - float64(i)*2
	}
	fill(store.Window("ETH"), closes)

	ev := e.Evaluate(context.Background(), "ETH")
	if !ev.Indicators.DataSufficient {
		t.Fatal("60 candles should be sufficient")
	}
	if ev.Regime != regime.BearTrending {
		t.Errorf("regime = %s, want BEAR_TRENDING", ev.Regime)
	}
	// RSI 0 and a deep 24h drop outweigh the trend bias
	if ev.ShortScore != 15 || ev.LongScore != 30 {
		t.Errorf("scores long %.0f short %.0f, want 30/15", ev.LongScore, ev.ShortScore)
	}
	if ev.Direction != Long {
		t.Errorf("direction = %s, want LONG", ev.Direction)
	}
	if ev.EvaluatedAt.IsZero() {
		t.Error("missing evaluation time")
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Data["coin"] != "ETH" {
		t.Errorf("unexpected published events %+v", got)
	}
}
