package automation

import "time"

// RuntimeState holds the counters the entry gates read. Pruning of the
// hourly window and the UTC day rollover are computed on read and only
// written back when a trade is recorded.
type RuntimeState struct {
	LastTradeAt     time.Time   `json:"last_trade_at"`
	TradeTimestamps []time.Time `json:"trade_timestamps"`
	DailyPnL        float64     `json:"daily_pnl"`
	DayStart        time.Time   `json:"day_start"`
	LastAction      string      `json:"last_action"`
	LastReason      string      `json:"last_reason"`
	LastTickAt      time.Time   `json:"last_tick_at"`
	SkippedTicks    int         `json:"skipped_ticks"`
}

const tradeWindow = time.Hour

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// tradesSince returns the timestamps still inside the trailing hour
func (s RuntimeState) tradesSince(now time.Time) []time.Time {
	cutoff := now.Add(-tradeWindow)
	var out []time.Time
	for _, ts := range s.TradeTimestamps {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}

// dailyPnL returns realized PnL for now's UTC day
func (s RuntimeState) dailyPnL(now time.Time) float64 {
	if !utcDay(now).Equal(s.DayStart) {
		return 0
	}
	return s.DailyPnL
}

func (s *RuntimeState) rollover(now time.Time) {
	day := utcDay(now)
	if !day.Equal(s.DayStart) {
		s.DayStart = day
		s.DailyPnL = 0
	}
}

func (s *RuntimeState) recordEntry(now time.Time) {
	s.rollover(now)
	s.TradeTimestamps = append(s.tradesSince(now), now)
	s.LastTradeAt = now
}

func (s *RuntimeState) recordClose(now time.Time, pnl float64) {
	s.rollover(now)
	s.DailyPnL += pnl
}

// clone deep-copies the timestamp slice
func (s RuntimeState) clone() RuntimeState {
	s.TradeTimestamps = append([]time.Time(nil), s.TradeTimestamps...)
	return s
}
