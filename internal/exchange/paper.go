package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PriceFunc returns the current price for a coin
type PriceFunc func(ctx context.Context, coin string) (float64, error)

// PaperTrade is one simulated fill
type PaperTrade struct {
	OrderID     string    `json:"order_id"`
	Coin        string    `json:"coin"`
	Side        Side      `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	Fee         float64   `json:"fee"`
	RealizedPnL float64   `json:"realized_pnl"`
	Time        time.Time `json:"time"`
}

// PaperClient simulates execution for dry-run mode. Orders fill immediately
// at the current price; one position per coin.
type PaperClient struct {
	mu          sync.RWMutex
	positions   map[string]*Position
	trades      []PaperTrade
	balance     float64
	nextOrderID int64
	feeRate     float64
	price       PriceFunc
	now         func() time.Time
}

// NewPaperClient creates a paper client with a starting USDT balance
func NewPaperClient(initialBalance float64, price PriceFunc) *PaperClient {
	return &PaperClient{
		positions:   make(map[string]*Position),
		trades:      make([]PaperTrade, 0),
		balance:     initialBalance,
		nextOrderID: 1000,
		feeRate:     0.0004,
		price:       price,
		now:         time.Now,
	}
}

// Balance returns the wallet balance excluding open margin
func (c *PaperClient) Balance() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance
}

// AccountBalance reports Balance in the shape of the live client
func (c *PaperClient) AccountBalance(context.Context) (float64, error) {
	return c.Balance(), nil
}

// Trades returns a copy of the fill history
func (c *PaperClient) Trades() []PaperTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PaperTrade, len(c.trades))
	copy(out, c.trades)
	return out
}

func (c *PaperClient) OpenPosition(ctx context.Context, req OrderRequest) (OrderResult, error) {
	coin, err := LookupCoin(req.Coin)
	if err != nil {
		return OrderResult{}, err
	}
	if !req.Side.IsOpen() {
		return OrderResult{}, fmt.Errorf("%w: %s cannot open a position", ErrInvalidSide, req.Side)
	}
	size := coin.RoundSize(req.Size)
	if size <= 0 {
		return OrderResult{}, ErrInvalidSize
	}
	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	price := req.Price
	if req.OrderType != Limit || price <= 0 {
		price, err = c.price(ctx, coin.Name)
		if err != nil {
			return OrderResult{}, fmt.Errorf("failed to get current price: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.positions[coin.Name]; exists {
		return OrderResult{}, fmt.Errorf("%w: %s", ErrPositionExists, coin.Name)
	}

	margin := size * price / float64(leverage)
	fee := size * price * c.feeRate
	if margin+fee > c.balance {
		return OrderResult{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientMargin, margin+fee, c.balance)
	}
	c.balance -= margin + fee

	c.positions[coin.Name] = &Position{
		Coin:         coin.Name,
		Symbol:       coin.Symbol,
		Side:         req.Side.PositionSide(),
		Size:         size,
		EntryPrice:   price,
		CurrentPrice: price,
		Leverage:     leverage,
	}

	res := c.recordLocked(coin.Name, req.Side, size, price, fee, 0)
	return res, nil
}

func (c *PaperClient) ClosePosition(ctx context.Context, coinName string) (OrderResult, error) {
	coin, err := LookupCoin(coinName)
	if err != nil {
		return OrderResult{}, err
	}
	price, err := c.price(ctx, coin.Name)
	if err != nil {
		return OrderResult{}, fmt.Errorf("failed to get current price: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[coin.Name]
	if !ok {
		return OrderResult{}, fmt.Errorf("%w: %s", ErrNoPosition, coin.Name)
	}
	pos.CurrentPrice = price

	pnl := pos.PnLUSDT()
	fee := pos.Size * price * c.feeRate
	c.balance += pos.EntryPrice*pos.Size/float64(pos.Leverage) + pnl - fee
	delete(c.positions, coin.Name)

	side := CloseLong
	if pos.Side == Short {
		side = CloseShort
	}
	return c.recordLocked(coin.Name, side, pos.Size, price, fee, pnl), nil
}

func (c *PaperClient) GetOpenPosition(ctx context.Context, coinName string) (*Position, error) {
	coin, err := LookupCoin(coinName)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	pos, ok := c.positions[coin.Name]
	var out Position
	if ok {
		out = *pos
	}
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if price, err := c.price(ctx, coin.Name); err == nil {
		out.CurrentPrice = price
	}
	return &out, nil
}

func (c *PaperClient) recordLocked(coin string, side Side, size, price, fee, pnl float64) OrderResult {
	id := strconv.FormatInt(c.nextOrderID, 10)
	c.nextOrderID++

	c.trades = append(c.trades, PaperTrade{
		OrderID:     id,
		Coin:        coin,
		Side:        side,
		Size:        size,
		Price:       price,
		Fee:         fee,
		RealizedPnL: pnl,
		Time:        c.now(),
	})

	return OrderResult{
		OrderID:       id,
		ClientOrderID: "paper_" + uuid.New().String(),
		Coin:          coin,
		Side:          side,
		Size:          size,
		Price:         price,
		RealizedPnL:   pnl,
	}
}
