package advisor

import (
	"strings"
	"testing"
	"time"

	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/regime"
	"regimeforge-bot/internal/signal"
)

func sampleSignal() signal.Signal {
	return signal.Signal{
		Coin:       "ETH",
		Direction:  signal.Long,
		Confidence: 0.62,
		Regime:     regime.BullTrending,
		Indicators: market.IndicatorSnapshot{RSI: 28.4, TrendStrength: 0.41, VolatilityPct: 2.1, PriceChange24h: 4.5, LastPrice: 3400},
		Reasoning:  []string{"RSI oversold", "Uptrend", "Bullish sentiment", "Score long 45 vs short 14 -> LONG"},
	}
}

func TestBrief(t *testing.T) {
	got := Brief(sampleSignal())
	want := "ETH is in a bull trending market. Signal is LONG with 62% confidence."
	if got != want {
		t.Errorf("Brief = %q, want %q", got, want)
	}
}

func TestExplain(t *testing.T) {
	tests := []struct {
		name      string
		reasoning []string
		want      string
	}{
		{"caps at three", sampleSignal().Reasoning, "The LONG signal is based on: RSI oversold; Uptrend; Bullish sentiment"},
		{"fewer than three", []string{"RSI oversold"}, "The LONG signal is based on: RSI oversold"},
		{"empty", nil, "The LONG signal has no supporting factors."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := sampleSignal()
			sig.Reasoning = tt.reasoning
			if got := Explain(sig); got != tt.want {
				t.Errorf("Explain = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssessRisk(t *testing.T) {
	tests := []struct {
		name    string
		margin  float64
		balance float64
		vol     float64
		want    RiskLevel
	}{
		{"small stake calm market", 30, 1000, 1, RiskLow},
		{"medium stake", 60, 1000, 1, RiskMedium},
		{"medium volatility", 30, 1000, 3.5, RiskMedium},
		{"large stake", 150, 1000, 1, RiskHigh},
		{"wild market", 10, 1000, 6, RiskHigh},
		{"no balance", 30, 0, 1, RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessRisk(tt.margin, tt.balance, tt.vol, 20); got.Level != tt.want {
				t.Errorf("level = %s, want %s (%+v)", got.Level, tt.want, got)
			}
		})
	}
}

func TestNewDecisionLog(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	log := NewDecisionLog("596471064624628269", "OPEN_LONG", sampleSignal(), 3400, at)

	if log.OrderID == nil || *log.OrderID != 596471064624628269 {
		t.Errorf("order id = %v", log.OrderID)
	}
	if log.Model != ModelVersion || log.Stage != "Strategy Generation" {
		t.Errorf("unexpected header %+v", log)
	}
	if log.Input.Data.Symbol != "ETH/USDT" || log.Input.Data.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("unexpected input %+v", log.Input)
	}
	if !strings.Contains(log.Explanation, "Detected BULL_TRENDING regime") {
		t.Errorf("explanation missing regime: %q", log.Explanation)
	}
	if strings.Contains(log.Explanation, "Score long") {
		t.Error("explanation should quote at most three reasons")
	}

	paper := NewDecisionLog("paper_abc", "OPEN_LONG", sampleSignal(), 3400, at)
	if paper.OrderID != nil {
		t.Errorf("non-numeric order id should be omitted, got %d", *paper.OrderID)
	}
}
