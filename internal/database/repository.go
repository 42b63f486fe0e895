package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"regimeforge-bot/internal/automation"
	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/logging"
)

// Repository provides the journal and signal log
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// RecordDecision stores an executed automated action
func (r *Repository) RecordDecision(ctx context.Context, d automation.Decision) error {
	logJSON, err := sonic.Marshal(d.Log)
	if err != nil {
		return fmt.Errorf("failed to encode decision log: %w", err)
	}
	query := `
		INSERT INTO decisions (id, coin, action, reason, order_id, side, size, price, pnl,
			signal, confidence, regime, decision_log, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		d.ID, d.Coin, d.Action, d.Reason, d.OrderID, d.Side, d.Size, d.Price, d.PnL,
		string(d.Signal.Direction), d.Signal.Confidence, string(d.Signal.Regime), logJSON, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// buildJournalQuery renders the filtered select and its arguments
func buildJournalQuery(f JournalFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if f.Coin != "" {
		args = append(args, strings.ToUpper(f.Coin))
		where = append(where, fmt.Sprintf("coin = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	q := `SELECT id, coin, action, COALESCE(reason, ''), COALESCE(order_id, ''), COALESCE(side, ''),
		size, price, pnl, COALESCE(signal, ''), COALESCE(confidence, 0), COALESCE(regime, ''), created_at
		FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(" LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return q, args
}

// ListDecisions returns journal entries newest first
func (r *Repository) ListDecisions(ctx context.Context, f JournalFilter) ([]JournalEntry, error) {
	q, args := buildJournalQuery(f)
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (JournalEntry, error) {
		var e JournalEntry
		err := row.Scan(&e.ID, &e.Coin, &e.Action, &e.Reason, &e.OrderID, &e.Side,
			&e.Size, &e.Price, &e.PnL, &e.Signal, &e.Confidence, &e.Regime, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan decisions: %w", err)
	}
	return entries, nil
}

// RecordSignal appends to the signal log
func (r *Repository) RecordSignal(ctx context.Context, s SignalRecord) error {
	reasoning, err := sonic.Marshal(s.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to encode reasoning: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO signals (coin, signal, confidence, regime, reasoning, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		s.Coin, s.Signal, s.Confidence, s.Regime, reasoning, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// RecentSignals returns the latest logged signals for coin
func (r *Repository) RecentSignals(ctx context.Context, coin string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, coin, signal, confidence, regime, reasoning, created_at
		 FROM signals WHERE coin = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToUpper(coin), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SignalRecord, error) {
		var (
			s   SignalRecord
			raw []byte
		)
		if err := row.Scan(&s.ID, &s.Coin, &s.Signal, &s.Confidence, &s.Regime, &raw, &s.CreatedAt); err != nil {
			return s, err
		}
		if len(raw) > 0 {
			_ = sonic.Unmarshal(raw, &s.Reasoning)
		}
		return s, nil
	})
}

// SignalRecordFromEvent converts a published signal event. ok is false for
// other event types or malformed payloads.
func SignalRecordFromEvent(e events.Event) (SignalRecord, bool) {
	if e.Type != events.EventSignalGenerated {
		return SignalRecord{}, false
	}
	data := e.Data
	rec := SignalRecord{CreatedAt: e.Timestamp}
	rec.Coin, _ = data["coin"].(string)
	rec.Signal, _ = data["signal"].(string)
	rec.Regime, _ = data["regime"].(string)
	rec.Confidence, _ = data["confidence"].(float64)
	rec.Reasoning, _ = data["reasoning"].([]string)
	if rec.Coin == "" || rec.Signal == "" {
		return SignalRecord{}, false
	}
	return rec, true
}

// SubscribeSignalLog writes every published signal to the signal log
func (r *Repository) SubscribeSignalLog(bus *events.EventBus, logger *logging.Logger) {
	bus.Subscribe(events.EventSignalGenerated, func(e events.Event) {
		rec, ok := SignalRecordFromEvent(e)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.RecordSignal(ctx, rec); err != nil {
			logger.Warn("Failed to log signal", "coin", rec.Coin, "error", err)
		}
	})
}
