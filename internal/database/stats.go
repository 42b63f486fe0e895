package database

import (
	"sort"
	"strings"
)

// GroupStats aggregates closed-trade PnL for one group
type GroupStats struct {
	Key           string  `json:"key"`
	Entries       int     `json:"entries"`
	Closes        int     `json:"closes"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalWins     float64 `json:"total_wins"`
	TotalLosses   float64 `json:"total_losses"`
	WinRate       float64 `json:"win_rate"`
	AvgPnL        float64 `json:"avg_pnl"`
}

// JournalSummary is the journal grouped three ways
type JournalSummary struct {
	Total        GroupStats   `json:"total"`
	ByCoin       []GroupStats `json:"by_coin"`
	ByAction     []GroupStats `json:"by_action"`
	ByConfidence []GroupStats `json:"by_confidence"`
}

// ConfidenceBucket labels a confidence value in 10-point bands
func ConfidenceBucket(c float64) string {
	switch {
	case c >= 0.9:
		return "90-100%"
	case c >= 0.8:
		return "80-89%"
	case c >= 0.7:
		return "70-79%"
	case c >= 0.6:
		return "60-69%"
	default:
		return "<60%"
	}
}

func isClose(action string) bool {
	return strings.HasPrefix(action, "CLOSE")
}

func (g *GroupStats) add(e JournalEntry) {
	if !isClose(e.Action) {
		g.Entries++
		return
	}
	g.Closes++
	g.TotalPnL += e.PnL
	switch {
	case e.PnL > 0:
		g.WinningTrades++
		g.TotalWins += e.PnL
	case e.PnL < 0:
		g.LosingTrades++
		g.TotalLosses += e.PnL
	}
}

func (g *GroupStats) finish() {
	if g.Closes > 0 {
		g.WinRate = float64(g.WinningTrades) / float64(g.Closes) * 100
		g.AvgPnL = g.TotalPnL / float64(g.Closes)
	}
}

func collect(m map[string]*GroupStats) []GroupStats {
	out := make([]GroupStats, 0, len(m))
	for _, g := range m {
		g.finish()
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPnL != out[j].TotalPnL {
			return out[i].TotalPnL > out[j].TotalPnL
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Summarize groups journal entries by coin, action and the confidence of
// the signal that drove them
func Summarize(entries []JournalEntry) JournalSummary {
	byCoin := map[string]*GroupStats{}
	byAction := map[string]*GroupStats{}
	byConf := map[string]*GroupStats{}
	total := GroupStats{Key: "TOTAL"}

	get := func(m map[string]*GroupStats, k string) *GroupStats {
		g, ok := m[k]
		if !ok {
			g = &GroupStats{Key: k}
			m[k] = g
		}
		return g
	}

	for _, e := range entries {
		total.add(e)
		get(byCoin, e.Coin).add(e)
		get(byAction, e.Action).add(e)
		get(byConf, ConfidenceBucket(e.Confidence)).add(e)
	}
	total.finish()

	return JournalSummary{
		Total:        total,
		ByCoin:       collect(byCoin),
		ByAction:     collect(byAction),
		ByConfidence: collect(byConf),
	}
}
