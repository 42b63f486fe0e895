package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"regimeforge-bot/internal/logging"
	"regimeforge-bot/internal/market"
)

// Credentials authenticate signed requests
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Valid reports whether all three parts are set
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// APIError is a non-200 exchange response
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange returned HTTP %d: %s", e.Status, e.Body)
}

// WeexConfig configures the contract REST client
type WeexConfig struct {
	BaseURL     string
	Granularity string
	Timeout     time.Duration
	RateLimit   float64 // requests per second
}

// WeexClient talks to the WEEX contract REST API
type WeexClient struct {
	cfg        WeexConfig
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
	now        func() time.Time
}

// NewWeexClient creates a signed REST client
func NewWeexClient(cfg WeexConfig, creds Credentials, logger *logging.Logger) *WeexClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Granularity == "" {
		cfg.Granularity = "1h"
	}
	return &WeexClient{
		cfg:        cfg,
		creds:      creds,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)),
		logger:     logger.WithComponent("weex"),
		now:        time.Now,
	}
}

// sign returns base64(HMAC-SHA256(timestamp + METHOD + path + query + body))
func (c *WeexClient) sign(timestamp, method, path, query, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + path + query + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *WeexClient) do(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := ""
	if len(params) > 0 {
		query = "?" + params.Encode()
	}
	payload := ""
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		payload = string(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path+query, bytes.NewBufferString(payload))
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("ACCESS-SIGN", c.sign(ts, method, path, query, payload))
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// unwrapData returns the "data" member of an envelope, or raw itself
func unwrapData(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := sonic.Unmarshal(trimmed, &env); err != nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return trimmed
	}
	return env.Data
}

// flexFloat accepts numbers encoded as JSON numbers or strings
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// GetTickerPrice returns the last traded price
func (c *WeexClient) GetTickerPrice(ctx context.Context, coinName string) (float64, error) {
	coin, err := LookupCoin(coinName)
	if err != nil {
		return 0, err
	}
	raw, err := c.do(ctx, http.MethodGet, "/capi/v2/market/ticker", url.Values{"symbol": {coin.Symbol}}, nil)
	if err != nil {
		return 0, err
	}
	var t struct {
		Last flexFloat `json:"last"`
	}
	if err := sonic.Unmarshal(unwrapData(raw), &t); err != nil {
		return 0, fmt.Errorf("error parsing ticker: %w", err)
	}
	if t.Last <= 0 {
		return 0, fmt.Errorf("ticker for %s has no last price", coin.Name)
	}
	return float64(t.Last), nil
}

// GetOHLCV returns up to limit candles, oldest first
func (c *WeexClient) GetOHLCV(ctx context.Context, coinName string, limit int) ([]market.Candle, error) {
	coin, err := LookupCoin(coinName)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"symbol":      {coin.Symbol},
		"granularity": {c.cfg.Granularity},
		"limit":       {strconv.Itoa(limit)},
	}
	raw, err := c.do(ctx, http.MethodGet, "/capi/v2/market/candles", params, nil)
	if err != nil {
		return nil, err
	}

	var rows [][]flexFloat
	if err := sonic.Unmarshal(unwrapData(raw), &rows); err != nil {
		return nil, fmt.Errorf("error parsing candles: %w", err)
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		candles = append(candles, market.Candle{
			OpenTime: time.UnixMilli(int64(r[0])).UTC(),
			Open:     float64(r[1]),
			High:     float64(r[2]),
			Low:      float64(r[3]),
			Close:    float64(r[4]),
			Volume:   float64(r[5]),
		})
	}
	return candles, nil
}

type weexPosition struct {
	Side       string    `json:"side"`
	HoldSide   string    `json:"holdSide"`
	Size       flexFloat `json:"size"`
	Total      flexFloat `json:"total"`
	OpenValue  flexFloat `json:"open_value"`
	OpenValue2 flexFloat `json:"openValue"`
	Leverage   flexFloat `json:"leverage"`
	LiqPrice   flexFloat `json:"liquidatePrice"`
}

// GetOpenPosition returns the coin's position, or nil when flat
func (c *WeexClient) GetOpenPosition(ctx context.Context, coinName string) (*Position, error) {
	coin, err := LookupCoin(coinName)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodGet, "/capi/v2/account/position/singlePosition", url.Values{"symbol": {coin.Symbol}}, nil)
	if err != nil {
		return nil, err
	}

	var rows []weexPosition
	if err := sonic.Unmarshal(unwrapData(raw), &rows); err != nil {
		return nil, fmt.Errorf("error parsing position: %w", err)
	}
	for _, r := range rows {
		size := float64(r.Size)
		if size == 0 {
			size = float64(r.Total)
		}
		if size <= 0 {
			continue
		}
		openValue := float64(r.OpenValue)
		if openValue == 0 {
			openValue = float64(r.OpenValue2)
		}
		side := strings.ToUpper(r.Side)
		if side == "" {
			side = strings.ToUpper(r.HoldSide)
		}
		pos := &Position{
			Coin:             coin.Name,
			Symbol:           coin.Symbol,
			Side:             Long,
			Size:             size,
			EntryPrice:       openValue / size,
			Leverage:         int(r.Leverage),
			LiquidationPrice: float64(r.LiqPrice),
		}
		if side == string(Short) {
			pos.Side = Short
		}
		if price, err := c.GetTickerPrice(ctx, coin.Name); err == nil {
			pos.CurrentPrice = price
		}
		return pos, nil
	}
	return nil, nil
}

type weexAsset struct {
	CoinName  string    `json:"coinName"`
	Currency  string    `json:"currency"`
	Available flexFloat `json:"available"`
	Equity    flexFloat `json:"equity"`
}

// AccountBalance returns the available USDT balance, falling back to equity
// when the account reports no available figure
func (c *WeexClient) AccountBalance(ctx context.Context) (float64, error) {
	raw, err := c.do(ctx, http.MethodGet, "/capi/v2/account/assets", nil, nil)
	if err != nil {
		return 0, err
	}
	var assets []weexAsset
	if err := sonic.Unmarshal(unwrapData(raw), &assets); err != nil {
		return 0, fmt.Errorf("error parsing assets: %w", err)
	}
	for _, a := range assets {
		if strings.EqualFold(a.CoinName, "USDT") || strings.EqualFold(a.Currency, "USDT") {
			if a.Available != 0 {
				return float64(a.Available), nil
			}
			return float64(a.Equity), nil
		}
	}
	return 0, nil
}

type placeOrderBody struct {
	Symbol     string `json:"symbol"`
	ClientOID  string `json:"client_oid"`
	Size       string `json:"size"`
	Type       string `json:"type"`
	OrderType  string `json:"order_type"`
	MatchPrice string `json:"match_price"`
	Price      string `json:"price,omitempty"`
}

func newClientOID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// OpenPosition places an opening order. Failures are never retried here.
func (c *WeexClient) OpenPosition(ctx context.Context, req OrderRequest) (OrderResult, error) {
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

	body := placeOrderBody{
		Symbol:     coin.Symbol,
		ClientOID:  newClientOID("auto"),
		Size:       coin.FormatSize(size),
		Type:       string(req.Side),
		OrderType:  string(Market),
		MatchPrice: "1",
	}
	if req.OrderType == Limit {
		body.OrderType = string(Limit)
		body.MatchPrice = "0"
		body.Price = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	return c.placeOrder(ctx, coin, req.Side, size, req.Price, body)
}

// ClosePosition closes the whole position at market
func (c *WeexClient) ClosePosition(ctx context.Context, coinName string) (OrderResult, error) {
	pos, err := c.GetOpenPosition(ctx, coinName)
	if err != nil {
		return OrderResult{}, err
	}
	if pos == nil {
		return OrderResult{}, fmt.Errorf("%w: %s", ErrNoPosition, coinName)
	}
	coin, _ := LookupCoin(pos.Coin)

	side := CloseLong
	if pos.Side == Short {
		side = CloseShort
	}
	body := placeOrderBody{
		Symbol:     coin.Symbol,
		ClientOID:  newClientOID("close"),
		Size:       coin.FormatSize(pos.Size),
		Type:       string(side),
		OrderType:  string(Market),
		MatchPrice: "1",
	}
	res, err := c.placeOrder(ctx, coin, side, pos.Size, pos.CurrentPrice, body)
	if err != nil {
		return OrderResult{}, err
	}
	res.RealizedPnL = pos.PnLUSDT()
	return res, nil
}

func (c *WeexClient) placeOrder(ctx context.Context, coin Coin, side Side, size, price float64, body placeOrderBody) (OrderResult, error) {
	log := logging.TradeContext(c.logger, coin.Name, side.String(), size, price)

	raw, err := c.do(ctx, http.MethodPost, "/capi/v2/order/placeOrder", nil, body)
	if err != nil {
		log.Error("Order rejected", "error", err)
		return OrderResult{}, err
	}
	id := extractOrderID(raw)
	if id == "" {
		log.Error("Order response carried no order id", "body", string(raw))
		return OrderResult{}, fmt.Errorf("order response carried no order id: %s", string(raw))
	}
	log.Info("Order placed", "order_id", id, "client_oid", body.ClientOID)

	return OrderResult{
		OrderID:       id,
		ClientOrderID: body.ClientOID,
		Coin:          coin.Name,
		Side:          side,
		Size:          size,
		Price:         price,
	}, nil
}

// extractOrderID handles the response shapes the order endpoint uses:
// {"order_id"}, {"orderId"}, {"data":{"order_id"}} and {"data":"id"}
func extractOrderID(raw []byte) string {
	type ids struct {
		OrderID  json.RawMessage `json:"order_id"`
		OrderID2 json.RawMessage `json:"orderId"`
	}
	pick := func(b []byte) string {
		var v ids
		if err := sonic.Unmarshal(b, &v); err != nil {
			return ""
		}
		for _, r := range []json.RawMessage{v.OrderID, v.OrderID2} {
			if s := strings.Trim(string(r), `"`); s != "" && s != "null" {
				return s
			}
		}
		return ""
	}

	if id := pick(raw); id != "" {
		return id
	}
	data := unwrapData(raw)
	if bytes.Equal(bytes.TrimSpace(data), bytes.TrimSpace(raw)) {
		return ""
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err == nil {
			return s
		}
	}
	return pick(data)
}

// UploadAILog submits a decision log record for the order
func (c *WeexClient) UploadAILog(ctx context.Context, record interface{}) error {
	raw, err := c.do(ctx, http.MethodPost, "/capi/v2/order/uploadAiLog", nil, record)
	if err != nil {
		return err
	}
	var res struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := sonic.Unmarshal(raw, &res); err == nil && res.Code != "" && res.Code != "00000" && res.Code != "200" {
		return errors.New("ai log rejected: " + res.Msg)
	}
	return nil
}
