// Package advisor turns scored signals into operator-facing text. Everything
// here is deterministic formatting over the signal's reasoning.
package advisor

import (
	"fmt"
	"strings"

	"regimeforge-bot/internal/signal"
)

// ModelVersion identifies the scoring model in decision logs
const ModelVersion = "RegimeForge-Alpha-v1.0.0"

// maxReasons bounds how many reasoning entries a summary quotes
const maxReasons = 3

// Brief is a one-line market summary for coin
func Brief(sig signal.Signal) string {
	regimeText := strings.ToLower(strings.ReplaceAll(string(sig.Regime), "_", " "))
	return fmt.Sprintf("%s is in a %s market. Signal is %s with %.0f%% confidence.",
		sig.Coin, regimeText, sig.Direction, sig.Confidence*100)
}

// Explain lists the leading factors behind the signal
func Explain(sig signal.Signal) string {
	reasons := topReasons(sig.Reasoning)
	if len(reasons) == 0 {
		return fmt.Sprintf("The %s signal has no supporting factors.", sig.Direction)
	}
	return fmt.Sprintf("The %s signal is based on: %s", sig.Direction, strings.Join(reasons, "; "))
}

func topReasons(r []string) []string {
	if len(r) > maxReasons {
		return r[:maxReasons]
	}
	return r
}

// RiskLevel buckets a proposed trade
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskAssessment describes how much of the balance a trade puts at stake
type RiskAssessment struct {
	Level      RiskLevel `json:"risk_level"`
	RiskPct    float64   `json:"risk_pct"`
	Assessment string    `json:"assessment"`
}

// AssessRisk grades a margin commitment against balance and volatility
func AssessRisk(marginUSDT, balance, volatilityPct float64, leverage int) RiskAssessment {
	var riskPct float64
	if balance > 0 {
		riskPct = marginUSDT / balance * 100
	}
	ra := RiskAssessment{RiskPct: riskPct}
	switch {
	case riskPct > 10 || volatilityPct > 5:
		ra.Level = RiskHigh
		ra.Assessment = fmt.Sprintf("High risk: $%.2f margin is %.1f%% of your $%.0f balance.", marginUSDT, riskPct, balance)
	case riskPct > 5 || volatilityPct > 3:
		ra.Level = RiskMedium
		ra.Assessment = fmt.Sprintf("Moderate risk: $%.2f margin (%.1f%% of balance) at %dx.", marginUSDT, riskPct, leverage)
	default:
		ra.Level = RiskLow
		ra.Assessment = fmt.Sprintf("Low risk: $%.2f margin is only %.1f%% of your balance.", marginUSDT, riskPct)
	}
	return ra
}
