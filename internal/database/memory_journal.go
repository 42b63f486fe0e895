package database

import (
	"context"
	"strings"
	"sync"

	"regimeforge-bot/internal/automation"
)

// MemoryJournal keeps the most recent decisions in process when Postgres
// is disabled
type MemoryJournal struct {
	mu       sync.RWMutex
	entries  []JournalEntry
	capacity int
}

// NewMemoryJournal creates a journal holding at most capacity entries
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryJournal{capacity: capacity}
}

// EntryFromDecision flattens a decision into a journal row
func EntryFromDecision(d automation.Decision) JournalEntry {
	return JournalEntry{
		ID:         d.ID,
		Coin:       d.Coin,
		Action:     d.Action,
		Reason:     d.Reason,
		OrderID:    d.OrderID,
		Side:       d.Side,
		Size:       d.Size,
		Price:      d.Price,
		PnL:        d.PnL,
		Signal:     string(d.Signal.Direction),
		Confidence: d.Signal.Confidence,
		Regime:     string(d.Signal.Regime),
		CreatedAt:  d.CreatedAt,
	}
}

// RecordDecision appends a decision, evicting the oldest at capacity
func (m *MemoryJournal) RecordDecision(_ context.Context, d automation.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, EntryFromDecision(d))
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return nil
}

// ListDecisions returns entries newest first, filtered like the SQL query
func (m *MemoryJournal) ListDecisions(_ context.Context, f JournalFilter) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	coin := strings.ToUpper(f.Coin)

	out := make([]JournalEntry, 0, limit)
	skipped := 0
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if coin != "" && e.Coin != coin {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
