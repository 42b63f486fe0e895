package signal

import (
	"context"
	"strings"
	"time"

	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/globalctx"
	"regimeforge-bot/internal/logging"
	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/regime"
)

// ContextReader returns the latest composed market context without I/O
type ContextReader interface {
	Peek(coin string) globalctx.Context
}

// Evaluation is a scored signal plus when it was produced
type Evaluation struct {
	Signal
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Engine runs the indicator -> regime -> score pipeline over the candle
// store. It never blocks on the network; the context comes from the
// cache's last published entries.
type Engine struct {
	store      *market.Store
	calc       *market.Calculator
	classifier *regime.Classifier
	contexts   ContextReader
	scorer     *Scorer
	bus        *events.EventBus
	logger     *logging.Logger
	now        func() time.Time
}

// NewEngine wires the pipeline stages together. bus may be nil.
func NewEngine(store *market.Store, calc *market.Calculator, classifier *regime.Classifier,
	contexts ContextReader, scorer *Scorer, bus *events.EventBus, logger *logging.Logger) *Engine {
	return &Engine{
		store:      store,
		calc:       calc,
		classifier: classifier,
		contexts:   contexts,
		scorer:     scorer,
		bus:        bus,
		logger:     logger.WithComponent("signal"),
		now:        time.Now,
	}
}

// Evaluate scores coin from the candles currently in its window
func (e *Engine) Evaluate(ctx context.Context, coin string) Evaluation {
	coin = strings.ToUpper(coin)

	candles := e.store.Window(coin).Snapshot()
	ind := e.calc.Compute(candles)
	reg := e.classifier.Classify(ind)
	gc := e.contexts.Peek(coin)

	sig := e.scorer.Score(coin, reg, ind, gc)

	log := logging.SignalContext(logging.FromContextOr(ctx, e.logger), coin, string(sig.Direction), sig.Confidence)
	log.Debug("Signal evaluated",
		"regime", string(sig.Regime),
		"long_score", sig.LongScore,
		"short_score", sig.ShortScore,
		"candles", len(candles),
		"degraded_context", gc.Degraded)

	e.bus.PublishSignal(coin, string(sig.Direction), string(sig.Regime), sig.Confidence, sig.Reasoning)

	return Evaluation{Signal: sig, EvaluatedAt: e.now()}
}
