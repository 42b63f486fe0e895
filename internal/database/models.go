package database

import "time"

// JournalEntry is one row of the decisions table
type JournalEntry struct {
	ID         string    `json:"id"`
	Coin       string    `json:"coin"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason"`
	OrderID    string    `json:"order_id"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	PnL        float64   `json:"pnl"`
	Signal     string    `json:"signal"`
	Confidence float64   `json:"confidence"`
	Regime     string    `json:"regime"`
	CreatedAt  time.Time `json:"created_at"`
}

// SignalRecord is one row of the signals table
type SignalRecord struct {
	ID         int64     `json:"id"`
	Coin       string    `json:"coin"`
	Signal     string    `json:"signal"`
	Confidence float64   `json:"confidence"`
	Regime     string    `json:"regime"`
	Reasoning  []string  `json:"reasoning"`
	CreatedAt  time.Time `json:"created_at"`
}

// JournalFilter narrows ListDecisions
type JournalFilter struct {
	Coin   string
	Since  time.Time
	Limit  int
	Offset int
}
