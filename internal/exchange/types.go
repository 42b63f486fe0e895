package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"regimeforge-bot/internal/market"
)

var (
	ErrUnsupportedCoin    = errors.New("unsupported coin")
	ErrNoPosition         = errors.New("no open position")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidSize        = errors.New("order size rounds to zero")
	ErrPositionExists     = errors.New("position already open")
	ErrInsufficientMargin = errors.New("insufficient margin")
)

// Coin describes one tradable contract
type Coin struct {
	Name     string `json:"coin"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"` // lot step is 10^-Decimals
}

var supportedCoins = map[string]Coin{
	"BTC":  {Name: "BTC", Symbol: "cmt_btcusdt", Decimals: 3},
	"ETH":  {Name: "ETH", Symbol: "cmt_ethusdt", Decimals: 3},
	"SOL":  {Name: "SOL", Symbol: "cmt_solusdt", Decimals: 2},
	"XRP":  {Name: "XRP", Symbol: "cmt_xrpusdt", Decimals: 1},
	"BNB":  {Name: "BNB", Symbol: "cmt_bnbusdt", Decimals: 3},
	"ADA":  {Name: "ADA", Symbol: "cmt_adausdt", Decimals: 1},
	"DOGE": {Name: "DOGE", Symbol: "cmt_dogeusdt", Decimals: 0},
	"LTC":  {Name: "LTC", Symbol: "cmt_ltcusdt", Decimals: 3},
}

// SupportedCoins lists coin names in display order
var SupportedCoins = []string{"BTC", "ETH", "SOL", "XRP", "BNB", "ADA", "DOGE", "LTC"}

// LookupCoin resolves a coin name, case-insensitively
func LookupCoin(name string) (Coin, error) {
	c, ok := supportedCoins[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Coin{}, fmt.Errorf("%w: %q", ErrUnsupportedCoin, name)
	}
	return c, nil
}

// RoundSize floors size to the coin's lot step
func (c Coin) RoundSize(size float64) float64 {
	f, _ := decimal.NewFromFloat(size).RoundFloor(c.Decimals).Float64()
	return f
}

// FormatSize renders size with exactly the coin's decimals
func (c Coin) FormatSize(size float64) string {
	return decimal.NewFromFloat(size).RoundFloor(c.Decimals).StringFixed(c.Decimals)
}

// SizeFor converts margin and leverage into a contract size at price,
// rounded down to the lot step
func (c Coin) SizeFor(marginUSDT float64, leverage int, price float64) float64 {
	if price <= 0 || leverage <= 0 || marginUSDT <= 0 {
		return 0
	}
	notional := decimal.NewFromFloat(marginUSDT).Mul(decimal.NewFromInt(int64(leverage)))
	size, _ := notional.Div(decimal.NewFromFloat(price)).RoundFloor(c.Decimals).Float64()
	return size
}

// Side is an order side. Values are the exchange's type codes.
type Side string

const (
	OpenLong   Side = "1"
	OpenShort  Side = "2"
	CloseLong  Side = "3"
	CloseShort Side = "4"
)

// NormalizeSide maps exchange codes and their common spellings to a Side
func NormalizeSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "open_long", "long", "buy":
		return OpenLong, nil
	case "2", "open_short", "short", "sell":
		return OpenShort, nil
	case "3", "close_long":
		return CloseLong, nil
	case "4", "close_short":
		return CloseShort, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// IsOpen reports whether the side opens a position
func (s Side) IsOpen() bool {
	return s == OpenLong || s == OpenShort
}

// PositionSide returns the side of the position the order acts on
func (s Side) PositionSide() PositionSide {
	if s == OpenLong || s == CloseLong {
		return Long
	}
	return Short
}

func (s Side) String() string {
	switch s {
	case OpenLong:
		return "OPEN_LONG"
	case OpenShort:
		return "OPEN_SHORT"
	case CloseLong:
		return "CLOSE_LONG"
	case CloseShort:
		return "CLOSE_SHORT"
	}
	return "UNKNOWN"
}

// OrderType is an order's pricing mode. Values are the exchange's codes.
type OrderType string

const (
	Market OrderType = "0"
	Limit  OrderType = "1"
)

// NormalizeOrderType maps "0"/"1" and "market"/"limit"
func NormalizeOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "market":
		return Market, nil
	case "1", "limit":
		return Limit, nil
	}
	return "", fmt.Errorf("invalid order type %q", s)
}

// PositionSide is the direction of an open position
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Position is an open futures position
type Position struct {
	Coin             string       `json:"coin"`
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	Size             float64      `json:"size"`
	EntryPrice       float64      `json:"entry_price"`
	CurrentPrice     float64      `json:"current_price"`
	Leverage         int          `json:"leverage"`
	LiquidationPrice float64      `json:"liquidation_price"`
}

// PnLPct is the unleveraged price move in the position's favor, in percent
func (p Position) PnLPct() float64 {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return 0
	}
	if p.Side == Long {
		return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
	}
	return (p.EntryPrice - p.CurrentPrice) / p.EntryPrice * 100
}

// PnLUSDT is the unrealized profit in quote currency
func (p Position) PnLUSDT() float64 {
	if p.CurrentPrice <= 0 {
		return 0
	}
	if p.Side == Long {
		return (p.CurrentPrice - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - p.CurrentPrice) * p.Size
}

// ValueUSDT is the position notional at the current price
func (p Position) ValueUSDT() float64 {
	return p.Size * p.CurrentPrice
}

// MarginUSDT is the margin backing the position
func (p Position) MarginUSDT() float64 {
	if p.Leverage <= 0 {
		return p.ValueUSDT()
	}
	return p.ValueUSDT() / float64(p.Leverage)
}

// OrderRequest opens a position
type OrderRequest struct {
	Coin      string
	Side      Side
	Size      float64
	Leverage  int
	OrderType OrderType
	Price     float64 // limit orders only
}

// OrderResult is an accepted order
type OrderResult struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_oid"`
	Coin          string  `json:"coin"`
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`
	Price         float64 `json:"price"`
	RealizedPnL   float64 `json:"realized_pnl,omitempty"` // closes only
}

// MarketData provides candles and prices
type MarketData interface {
	GetOHLCV(ctx context.Context, coin string, limit int) ([]market.Candle, error)
	GetTickerPrice(ctx context.Context, coin string) (float64, error)
}

// Execution places and inspects positions. GetOpenPosition returns nil and
// no error when the coin has no position.
type Execution interface {
	OpenPosition(ctx context.Context, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, coin string) (OrderResult, error)
	GetOpenPosition(ctx context.Context, coin string) (*Position, error)
}
