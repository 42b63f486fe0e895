package market

import (
	"sort"
	"sync"
	"time"
)

// Candle is one OHLCV bar
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Window is a bounded, time-ordered candle buffer. The oldest candle is
// evicted once capacity is reached. Readers get copies via Snapshot.
type Window struct {
	mu       sync.RWMutex
	candles  []Candle
	capacity int
}

// NewWindow creates a window holding at most capacity candles
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		candles:  make([]Candle, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a candle. A candle with the same open time as the newest one
// replaces it (the bar was still forming); older candles are ignored.
func (w *Window) Append(c Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appendLocked(c)
}

// Merge appends a batch, sorted by open time first
func (w *Window) Merge(candles []Candle) {
	if len(candles) == 0 {
		return
	}
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range sorted {
		w.appendLocked(c)
	}
}

func (w *Window) appendLocked(c Candle) {
	if n := len(w.candles); n > 0 {
		last := w.candles[n-1].OpenTime
		if c.OpenTime.Equal(last) {
			w.candles[n-1] = c
			return
		}
		if c.OpenTime.Before(last) {
			return
		}
	}
	if len(w.candles) == w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
}

// Snapshot returns a copy of the candles, oldest first
func (w *Window) Snapshot() []Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Len returns the number of candles held
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Last returns the newest candle
func (w *Window) Last() (Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Store keeps one window per coin
type Store struct {
	mu       sync.RWMutex
	windows  map[string]*Window
	capacity int
}

// NewStore creates a store whose windows hold capacity candles
func NewStore(capacity int) *Store {
	return &Store{
		windows:  make(map[string]*Window),
		capacity: capacity,
	}
}

// Window returns the coin's window, creating it if needed
func (s *Store) Window(coin string) *Window {
	s.mu.RLock()
	w, ok := s.windows[coin]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[coin]; !ok {
		w = NewWindow(s.capacity)
		s.windows[coin] = w
	}
	return w
}
