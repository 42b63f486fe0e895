package advisor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"regimeforge-bot/internal/market"
	"regimeforge-bot/internal/signal"
)

const maxExplanation = 1000

// DecisionLog records why an automated action was taken. It is both stored in
// the journal and submitted to the exchange's AI log endpoint.
type DecisionLog struct {
	OrderID     *int64         `json:"orderId"`
	Stage       string         `json:"stage"`
	Model       string         `json:"model"`
	Input       DecisionInput  `json:"input"`
	Output      DecisionOutput `json:"output"`
	Explanation string         `json:"explanation"`
}

type DecisionInput struct {
	Prompt string       `json:"prompt"`
	Data   DecisionData `json:"data"`
}

type DecisionData struct {
	Symbol     string                   `json:"symbol"`
	Price      float64                  `json:"price"`
	Indicators market.IndicatorSnapshot `json:"indicators"`
	Timestamp  string                   `json:"timestamp"`
}

type DecisionOutput struct {
	Signal     string                   `json:"signal"`
	Confidence float64                  `json:"confidence"`
	Regime     string                   `json:"regime"`
	Reasoning  []string                 `json:"reasoning"`
	Indicators market.IndicatorSnapshot `json:"indicators"`
}

// NewDecisionLog builds the log for action taken on sig. A non-numeric
// orderID is left out.
func NewDecisionLog(orderID, action string, sig signal.Signal, price float64, at time.Time) DecisionLog {
	ind := sig.Indicators
	explanation := fmt.Sprintf(
		"RegimeForge Alpha %s analyzed %s/USDT. Technical indicators: RSI=%.1f, EMA crossover=%.3f, "+
			"24h change=%.2f%%, volatility=%.2f%%. Detected %s regime. Generated %s signal with %.0f%% confidence. "+
			"Reasoning: %s.",
		ModelVersion, sig.Coin, ind.RSI, ind.TrendStrength, ind.PriceChange24h, ind.VolatilityPct,
		sig.Regime, sig.Direction, sig.Confidence*100, strings.Join(topReasons(sig.Reasoning), "; "))
	if len(explanation) > maxExplanation {
		explanation = explanation[:maxExplanation]
	}

	log := DecisionLog{
		Stage: "Strategy Generation",
		Model: ModelVersion,
		Input: DecisionInput{
			Prompt: fmt.Sprintf("Analyze %s/USDT and generate %s signal", sig.Coin, action),
			Data: DecisionData{
				Symbol:     sig.Coin + "/USDT",
				Price:      price,
				Indicators: ind,
				Timestamp:  at.UTC().Format(time.RFC3339),
			},
		},
		Output: DecisionOutput{
			Signal:     string(sig.Direction),
			Confidence: sig.Confidence,
			Regime:     string(sig.Regime),
			Reasoning:  sig.Reasoning,
			Indicators: ind,
		},
		Explanation: explanation,
	}
	if id, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		log.OrderID = &id
	}
	return log
}
