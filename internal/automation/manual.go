package automation

import (
	"context"
	"errors"
	"fmt"

	"regimeforge-bot/internal/exchange"
	"regimeforge-bot/internal/logging"
)

const (
	ActionManualOpenLong  = "MANUAL_OPEN_LONG"
	ActionManualOpenShort = "MANUAL_OPEN_SHORT"
	ActionManualClose     = "MANUAL_CLOSE"
)

// ErrInvalidOrder wraps every rejected manual order request
var ErrInvalidOrder = errors.New("invalid order")

// ManualOrder is an operator-placed entry. A nil Size sizes the order from
// the automation margin and leverage at the current price.
type ManualOrder struct {
	Coin      string   `json:"coin"`
	Side      string   `json:"side"`
	Size      *float64 `json:"size"`
	OrderType string   `json:"order_type"`
	Price     float64  `json:"price"`
}

func (c *Controller) manualRequest(o ManualOrder) (exchange.OrderRequest, error) {
	coin, err := exchange.LookupCoin(o.Coin)
	if err != nil {
		return exchange.OrderRequest{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	sideName := o.Side
	if sideName == "" {
		sideName = "long"
	}
	side, err := exchange.NormalizeSide(sideName)
	if err != nil || !side.IsOpen() {
		return exchange.OrderRequest{}, fmt.Errorf("%w: side %q cannot open a position", ErrInvalidOrder, o.Side)
	}
	orderType, err := exchange.NormalizeOrderType(o.OrderType)
	if err != nil {
		return exchange.OrderRequest{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if orderType == exchange.Limit && o.Price <= 0 {
		return exchange.OrderRequest{}, fmt.Errorf("%w: limit orders need a positive price", ErrInvalidOrder)
	}
	req := exchange.OrderRequest{
		Coin:      coin.Name,
		Side:      side,
		Leverage:  c.GetSettings().Leverage,
		OrderType: orderType,
		Price:     o.Price,
	}
	if o.Size != nil {
		if *o.Size <= 0 {
			return exchange.OrderRequest{}, fmt.Errorf("%w: invalid size %v", ErrInvalidOrder, *o.Size)
		}
		req.Size = *o.Size
	}
	return req, nil
}

// ManualOpen places an operator order and journals it like an automated
// entry. It does not count toward the hourly trade cap and shares the tick's
// in-flight guard.
func (c *Controller) ManualOpen(ctx context.Context, o ManualOrder) (TickResult, error) {
	req, err := c.manualRequest(o)
	if err != nil {
		return TickResult{}, err
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return TickResult{}, ErrTickInFlight
	}
	defer c.inFlight.Store(false)

	ctx, log := logging.WithTraceContext(ctx, c.logger)
	price := req.Price
	if price <= 0 {
		if p, err := c.market.GetTickerPrice(ctx, req.Coin); err == nil {
			price = p
		}
	}
	if req.Size == 0 {
		settings := c.GetSettings()
		meta, _ := exchange.LookupCoin(req.Coin)
		req.Size = meta.SizeFor(settings.MarginUSDT, settings.Leverage, price)
		if req.Size <= 0 {
			return TickResult{}, fmt.Errorf("%w: cannot size order without a price", ErrInvalidOrder)
		}
	}

	log = logging.TradeContext(log, req.Coin, req.Side.String(), req.Size, price)
	order, err := c.exec.OpenPosition(ctx, req)
	if err != nil {
		log.WithError(err).Error("Manual entry failed")
		c.bus.PublishError("automation", "manual order failed", err)
		return TickResult{}, fmt.Errorf("failed to open position: %w", err)
	}
	if order.Price > 0 {
		price = order.Price
	}

	action := ActionManualOpenLong
	if req.Side == exchange.OpenShort {
		action = ActionManualOpenShort
	}
	reason := "Manual " + string(req.Side.PositionSide())
	sig := c.signals.Evaluate(ctx, req.Coin).Signal

	log.Info("Manual entry executed", "order_id", order.OrderID, "order_type", string(req.OrderType))
	c.bus.PublishTradeOpened(req.Coin, req.Side.String(), order.Size, price, sig.Confidence)
	c.record(ctx, Decision{
		Coin:    req.Coin,
		Action:  action,
		Reason:  reason,
		OrderID: order.OrderID,
		Side:    req.Side.String(),
		Size:    order.Size,
		Price:   price,
		Signal:  sig,
	}, c.now())

	return TickResult{
		Coin:          req.Coin,
		Action:        action,
		Reason:        reason,
		TradeExecuted: true,
		OrderID:       order.OrderID,
	}, nil
}

// ManualClose closes the coin's whole position, books its PnL and resets
// take-profit tracking. A flat coin reports exchange.ErrNoPosition.
func (c *Controller) ManualClose(ctx context.Context, coin string) (TickResult, error) {
	meta, err := exchange.LookupCoin(coin)
	if err != nil {
		return TickResult{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return TickResult{}, ErrTickInFlight
	}
	defer c.inFlight.Store(false)

	ctx, _ = logging.WithTraceContext(ctx, c.logger)
	pos, err := c.exec.GetOpenPosition(ctx, meta.Name)
	if err != nil {
		return TickResult{}, fmt.Errorf("failed to get position: %w", err)
	}
	if pos == nil {
		return TickResult{}, exchange.ErrNoPosition
	}
	if pos.Coin == "" {
		pos.Coin = meta.Name
	}

	sig := c.signals.Evaluate(ctx, meta.Name).Signal
	res := c.closePosition(ctx, pos, ActionManualClose, "Close "+string(pos.Side), sig)
	if res.Error != "" {
		return res, fmt.Errorf("failed to close position: %s", res.Error)
	}
	return res, nil
}
