package database

import (
	"context"
	"testing"
	"time"

	"regimeforge-bot/internal/automation"
)

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal(3)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	coins := []string{"BTC", "ETH", "BTC", "BTC"}
	for i, c := range coins {
		d := automation.Decision{ID: string(rune('a' + i)), Coin: c, Action: "OPEN_LONG", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := j.RecordDecision(ctx, d); err != nil {
			t.Fatalf("RecordDecision: %v", err)
		}
	}

	all, _ := j.ListDecisions(ctx, JournalFilter{})
	if len(all) != 3 || all[0].ID != "d" || all[2].ID != "b" {
		t.Fatalf("eviction/order wrong: %+v", all)
	}

	tests := []struct {
		name   string
		filter JournalFilter
		want   []string
	}{
		{"coin", JournalFilter{Coin: "btc"}, []string{"d", "c"}},
		{"since", JournalFilter{Since: base.Add(150 * time.Minute)}, []string{"d"}},
		{"offset", JournalFilter{Offset: 1, Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := j.ListDecisions(ctx, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("entry %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}
