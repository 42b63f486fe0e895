package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/advisor"
	"regimeforge-bot/internal/automation"
	"regimeforge-bot/internal/database"
	"regimeforge-bot/internal/exchange"
	"regimeforge-bot/internal/takeprofit"
)

// coinParam resolves the :coin path parameter, writing a 400 when the coin
// is not supported
func coinParam(c *gin.Context) (exchange.Coin, bool) {
	coin, err := exchange.LookupCoin(c.Param("coin"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return exchange.Coin{}, false
	}
	return coin, true
}

// updateError maps a failed settings update to a response. Validation
// failures are the caller's fault, anything else is ours.
func updateError(c *gin.Context, err error) {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   true,
			"message": verr.Error(),
			"fields":  verr.Errors,
		})
		return
	}
	errorResponse(c, http.StatusInternalServerError, err.Error())
}

// handleGetSignal scores a coin from the current candle window
// GET /api/signal/:coin
func (s *Server) handleGetSignal(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	successResponse(c, s.deps.Signals.Evaluate(c.Request.Context(), coin.Name))
}

// handleGetSignalBrief returns the signal in plain words plus a risk grade
// for the configured trade size
// GET /api/signal/:coin/brief
func (s *Server) handleGetSignalBrief(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	eval := s.deps.Signals.Evaluate(c.Request.Context(), coin.Name)

	resp := gin.H{
		"coin":        coin.Name,
		"signal":      eval.Direction,
		"confidence":  eval.Confidence,
		"regime":      eval.Regime,
		"brief":       advisor.Brief(eval.Signal),
		"explanation": advisor.Explain(eval.Signal),
		"model":       advisor.ModelVersion,
	}
	if s.deps.Balance != nil && s.deps.Automation != nil {
		if balance, err := s.deps.Balance.AccountBalance(c.Request.Context()); err == nil {
			settings := s.deps.Automation.GetSettings()
			resp["risk"] = advisor.AssessRisk(settings.MarginUSDT, balance,
				eval.Indicators.VolatilityPct, settings.Leverage)
		}
	}
	successResponse(c, resp)
}

// handleGetContext returns the composed global market context
// GET /api/context/:coin
func (s *Server) handleGetContext(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	successResponse(c, s.deps.Contexts.GetMarketSummary(c.Request.Context(), coin.Name))
}

// GET /api/automation/settings
func (s *Server) handleGetAutomationSettings(c *gin.Context) {
	successResponse(c, s.deps.Automation.GetSettings())
}

// PUT /api/automation/settings
func (s *Server) handleUpdateAutomationSettings(c *gin.Context) {
	var patch automation.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	settings, err := s.deps.Automation.UpdateSettings(c.Request.Context(), patch)
	if err != nil {
		updateError(c, err)
		return
	}
	successResponse(c, settings)
}

// handleGetAutomationState returns the trade window, daily PnL and the last
// tick outcome
// GET /api/automation/state
func (s *Server) handleGetAutomationState(c *gin.Context) {
	st := s.deps.Automation.State()
	successResponse(c, gin.H{
		"coin":             s.deps.Automation.Coins().Get(),
		"trades_last_hour": len(st.TradeTimestamps),
		"state":            st,
	})
}

// handleTick runs one automation step on demand
// POST /api/automation/tick
func (s *Server) handleTick(c *gin.Context) {
	res := s.deps.Automation.Tick(c.Request.Context())
	if res.Skipped {
		c.JSON(http.StatusConflict, gin.H{"success": false, "data": res})
		return
	}
	successResponse(c, res)
}

// GET /api/takeprofit/:coin
func (s *Server) handleGetTakeProfit(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	successResponse(c, gin.H{
		"coin":     coin.Name,
		"settings": s.deps.TakeProfit.Settings(ctx, coin.Name),
		"state":    s.deps.TakeProfit.State(ctx, coin.Name),
	})
}

// PUT /api/takeprofit/:coin
func (s *Server) handleUpdateTakeProfit(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	var patch takeprofit.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	settings, err := s.deps.TakeProfit.UpdateSettings(c.Request.Context(), coin.Name, patch)
	if err != nil {
		updateError(c, err)
		return
	}
	successResponse(c, settings)
}

// handleCheckTakeProfit evaluates take-profit against the live position and
// closes it when triggered
// POST /api/takeprofit/:coin/check
func (s *Server) handleCheckTakeProfit(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	check, closed, err := s.deps.Automation.CheckTakeProfit(c.Request.Context(), coin.Name)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, automation.ErrTickInFlight) {
			status = http.StatusConflict
		}
		errorResponse(c, status, err.Error())
		return
	}
	successResponse(c, gin.H{"check": check, "close": closed})
}

// POST /api/takeprofit/:coin/reset
func (s *Server) handleResetTakeProfit(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	s.deps.TakeProfit.Reset(c.Request.Context(), coin.Name)
	successResponse(c, gin.H{
		"coin":    coin.Name,
		"message": "Take-profit tracking reset for " + coin.Name,
	})
}

// orderError maps a failed manual order to a response
func orderError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, automation.ErrInvalidOrder),
		errors.Is(err, exchange.ErrInvalidSize),
		errors.Is(err, exchange.ErrInvalidSide),
		errors.Is(err, exchange.ErrInsufficientMargin):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrNoPosition):
		errorResponse(c, http.StatusNotFound, "No position found")
		return
	case errors.Is(err, exchange.ErrPositionExists),
		errors.Is(err, automation.ErrTickInFlight):
		status = http.StatusConflict
	}
	errorResponse(c, status, err.Error())
}

// handleOpenPosition places a manual order. Side defaults to long and a
// missing size is derived from the automation margin and leverage.
// POST /api/positions/:coin/open
func (s *Server) handleOpenPosition(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	var order automation.ManualOrder
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&order); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	order.Coin = coin.Name

	res, err := s.deps.Automation.ManualOpen(c.Request.Context(), order)
	if err != nil {
		orderError(c, err)
		return
	}
	successResponse(c, res)
}

// handleClosePosition closes the coin's position at market
// POST /api/positions/:coin/close
func (s *Server) handleClosePosition(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	res, err := s.deps.Automation.ManualClose(c.Request.Context(), coin.Name)
	if err != nil {
		orderError(c, err)
		return
	}
	successResponse(c, res)
}

// GET /api/price/:coin
func (s *Server) handleGetPrice(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	if s.deps.Market == nil {
		errorResponse(c, http.StatusServiceUnavailable, "market data is not configured")
		return
	}
	price, err := s.deps.Market.GetTickerPrice(c.Request.Context(), coin.Name)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, gin.H{"coin": coin.Name, "symbol": coin.Symbol, "price": price})
}

// GET /api/balance
func (s *Server) handleGetBalance(c *gin.Context) {
	if s.deps.Balance == nil {
		errorResponse(c, http.StatusServiceUnavailable, "balance is not available")
		return
	}
	balance, err := s.deps.Balance.AccountBalance(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, gin.H{"balance": balance, "currency": "USDT"})
}

type positionView struct {
	*exchange.Position
	PnLPct     float64 `json:"pnl_pct"`
	PnLUSDT    float64 `json:"pnl_usdt"`
	ValueUSDT  float64 `json:"value_usdt"`
	MarginUSDT float64 `json:"margin_usdt"`
}

// GET /api/positions/:coin
func (s *Server) handleGetPosition(c *gin.Context) {
	coin, ok := coinParam(c)
	if !ok {
		return
	}
	pos, err := s.deps.Execution.GetOpenPosition(c.Request.Context(), coin.Name)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	if pos == nil {
		successResponse(c, gin.H{"coin": coin.Name, "position": nil})
		return
	}
	successResponse(c, gin.H{"coin": coin.Name, "position": positionView{
		Position:   pos,
		PnLPct:     pos.PnLPct(),
		PnLUSDT:    pos.PnLUSDT(),
		ValueUSDT:  pos.ValueUSDT(),
		MarginUSDT: pos.MarginUSDT(),
	}})
}

// handleGetJournal lists executed decisions. summary=true adds grouped
// statistics over the returned rows.
// GET /api/journal?coin=&days=&limit=&offset=&summary=
func (s *Server) handleGetJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		errorResponse(c, http.StatusServiceUnavailable, "journal is not configured")
		return
	}
	filter := database.JournalFilter{
		Coin:   c.Query("coin"),
		Limit:  queryInt(c, "limit", 100),
		Offset: queryInt(c, "offset", 0),
	}
	if days := queryInt(c, "days", 0); days > 0 {
		filter.Since = time.Now().AddDate(0, 0, -days)
	}

	entries, err := s.deps.Journal.ListDecisions(c.Request.Context(), filter)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp := gin.H{"entries": entries, "count": len(entries)}
	if c.Query("summary") == "true" {
		resp["summary"] = database.Summarize(entries)
	}
	successResponse(c, resp)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// GET /api/coin
func (s *Server) handleGetCoin(c *gin.Context) {
	successResponse(c, gin.H{
		"coin":      s.deps.Automation.Coins().Get(),
		"supported": exchange.SupportedCoins,
	})
}

type setCoinRequest struct {
	Coin string `json:"coin" binding:"required"`
}

// PUT /api/coin
func (s *Server) handleSetCoin(c *gin.Context) {
	var req setCoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	coin, err := s.deps.Automation.Coins().Set(req.Coin)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(c, gin.H{"coin": coin})
}
