package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

type priceBoard struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (b *priceBoard) set(coin string, p float64) {
	b.mu.Lock()
	b.prices[coin] = p
	b.mu.Unlock()
}

func (b *priceBoard) get(_ context.Context, coin string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[coin]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func TestPaperRoundTrip(t *testing.T) {
	ctx := context.Background()
	board := &priceBoard{prices: map[string]float64{"BTC": 60000}}
	c := NewPaperClient(1000, board.get)

	res, err := c.OpenPosition(ctx, OrderRequest{Coin: "btc", Side: OpenLong, Size: 0.0109, Leverage: 20})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if res.Size != 0.01 || res.Price != 60000 || res.OrderID == "" {
		t.Errorf("unexpected open result %+v", res)
	}

	if _, err := c.OpenPosition(ctx, OrderRequest{Coin: "BTC", Side: OpenShort, Size: 0.01, Leverage: 20}); !errors.Is(err, ErrPositionExists) {
		t.Errorf("second open err = %v, want ErrPositionExists", err)
	}

	board.set("BTC", 61200)
	pos, err := c.GetOpenPosition(ctx, "BTC")
	if err != nil || pos == nil {
		t.Fatalf("GetOpenPosition: %v %v", pos, err)
	}
	if math.Abs(pos.PnLPct()-2) > 1e-9 {
		t.Errorf("PnLPct = %v, want 2", pos.PnLPct())
	}

	closed, err := c.ClosePosition(ctx, "BTC")
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if closed.Side != CloseLong || math.Abs(closed.RealizedPnL-12) > 1e-9 {
		t.Errorf("unexpected close result %+v", closed)
	}

	if pos, _ := c.GetOpenPosition(ctx, "BTC"); pos != nil {
		t.Errorf("position should be gone, got %+v", pos)
	}
	if _, err := c.ClosePosition(ctx, "BTC"); !errors.Is(err, ErrNoPosition) {
		t.Errorf("close on flat err = %v, want ErrNoPosition", err)
	}

	fees := 0.01*60000*0.0004 + 0.01*61200*0.0004
	if want := 1000 + 12 - fees; math.Abs(c.Balance()-want) > 1e-9 {
		t.Errorf("balance = %v, want %v", c.Balance(), want)
	}
	if n := len(c.Trades()); n != 2 {
		t.Errorf("trades = %d, want 2", n)
	}
}

func TestPaperRejects(t *testing.T) {
	ctx := context.Background()
	board := &priceBoard{prices: map[string]float64{"BTC": 60000}}
	c := NewPaperClient(10, board.get)

	tests := []struct {
		name string
		req  OrderRequest
		want error
	}{
		{"close side", OrderRequest{Coin: "BTC", Side: CloseLong, Size: 0.01}, ErrInvalidSide},
		{"unknown coin", OrderRequest{Coin: "PEPE", Side: OpenLong, Size: 1}, ErrUnsupportedCoin},
		{"dust size", OrderRequest{Coin: "BTC", Side: OpenLong, Size: 0.0004}, ErrInvalidSize},
		{"not enough margin", OrderRequest{Coin: "BTC", Side: OpenLong, Size: 0.01, Leverage: 20}, ErrInsufficientMargin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.OpenPosition(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if c.Balance() != 10 {
		t.Errorf("rejected orders must not touch balance, got %v", c.Balance())
	}
}
