// Package scheduler drives the three periodic loops: market data and context
// refresh, take-profit checks, and automation ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/automation"
	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/exchange"
	"regimeforge-bot/internal/globalctx"
	"regimeforge-bot/internal/logging"
	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/takeprofit"
)

// Automation is the part of the controller the loops call
type Automation interface {
	Tick(ctx context.Context) automation.TickResult
	CheckTakeProfit(ctx context.Context, coin string) (takeprofit.CheckResult, *automation.TickResult, error)
	Coins() *automation.CoinSelector
}

// ContextRefresher fetches the global market context for a coin
type ContextRefresher interface {
	GetMarketSummary(ctx context.Context, coin string) globalctx.Context
}

// Scheduler owns the background loops
type Scheduler struct {
	cfg        config.SchedulerConfig
	klineLimit int
	market     exchange.MarketData
	store      *market.Store
	contexts   ContextRefresher
	automation Automation
	bus        *events.EventBus
	logger     *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler. klineLimit is the candle count requested per refresh.
func New(cfg config.SchedulerConfig, klineLimit int, md exchange.MarketData, store *market.Store,
	contexts ContextRefresher, auto Automation, bus *events.EventBus, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		klineLimit: klineLimit,
		market:     md,
		store:      store,
		contexts:   contexts,
		automation: auto,
		bus:        bus,
		logger:     logger.WithComponent("scheduler"),
	}
}

// RefreshMarket pulls candles for coin into its window and refreshes the
// global context. A candle fetch failure keeps the previous window.
func (s *Scheduler) RefreshMarket(ctx context.Context, coin string) error {
	candles, err := s.market.GetOHLCV(ctx, coin, s.klineLimit)
	if err == nil {
		s.store.Window(coin).Merge(candles)
	}
	gc := s.contexts.GetMarketSummary(ctx, coin)
	if gc.Degraded {
		s.bus.Publish(events.Event{Type: events.EventContextDegraded, Data: map[string]interface{}{
			"coin":        coin,
			"stale_feeds": gc.StaleFeeds,
		}})
	}
	if err != nil {
		return fmt.Errorf("failed to fetch candles for %s: %w", coin, err)
	}
	return nil
}

// Start launches the loops. It returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.logger.Info("Scheduler starting",
		"market_refresh", s.cfg.MarketRefreshInterval.String(),
		"take_profit", s.cfg.TakeProfitInterval.String(),
		"automation", s.cfg.AutomationInterval.String())

	s.loop(ctx, "market-refresh", s.cfg.MarketRefreshInterval, true, s.refreshOnce)
	s.loop(ctx, "take-profit", s.cfg.TakeProfitInterval, false, s.takeProfitOnce)
	s.loop(ctx, "automation", s.cfg.AutomationInterval, false, s.tickOnce)
	return nil
}

// Stop signals the loops and waits for in-progress work to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, immediate bool, fn func(context.Context)) {
	if interval <= 0 {
		s.logger.Warn("Loop disabled, non-positive interval", "loop", name)
		return
	}
	stop := s.stopChan
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if immediate {
			fn(ctx)
		}
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) refreshOnce(ctx context.Context) {
	coin := s.automation.Coins().Get()
	if err := s.RefreshMarket(ctx, coin); err != nil {
		s.logger.Warn("Market refresh failed", "coin", coin, "error", err)
	}
}

func (s *Scheduler) takeProfitOnce(ctx context.Context) {
	coin := s.automation.Coins().Get()
	chk, closed, err := s.automation.CheckTakeProfit(ctx, coin)
	switch {
	case errors.Is(err, automation.ErrTickInFlight):
		return
	case err != nil:
		s.logger.Warn("Take-profit check failed", "coin", coin, "error", err)
	case closed != nil:
		s.logger.Info("Take-profit closed position", "coin", coin, "action", closed.Action, "reason", chk.Reason)
	}
}

func (s *Scheduler) tickOnce(ctx context.Context) {
	res := s.automation.Tick(ctx)
	if res.Skipped {
		s.logger.Debug("Automation tick skipped", "coin", res.Coin)
		return
	}
	if res.TradeExecuted {
		s.logger.Info("Automation tick traded", "coin", res.Coin, "action", res.Action, "reason", res.Reason)
	} else {
		s.logger.Debug("Automation tick", "coin", res.Coin, "action", res.Action, "reason", res.Reason)
	}
}
