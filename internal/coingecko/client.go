package coingecko

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"regimeforge-bot/internal/logging"
)

var (
	// ErrRateLimited is returned for HTTP 429 and when the local request
	// budget is exhausted. Callers fall back to cached data.
	ErrRateLimited = errors.New("coingecko: rate limited")
	ErrBadResponse = errors.New("coingecko: unexpected response")
)

// IDs maps exchange coin symbols to CoinGecko ids
var IDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"XRP":  "ripple",
	"BNB":  "binancecoin",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"LTC":  "litecoin",
}

// GlobalData is the /global payload reduced to the fields we use
type GlobalData struct {
	TotalMarketCapUSD      float64 `json:"total_market_cap_usd"`
	TotalVolume24hUSD      float64 `json:"total_volume_24h_usd"`
	BTCDominance           float64 `json:"btc_dominance"`
	ETHDominance           float64 `json:"eth_dominance"`
	MarketCapChange24hPct  float64 `json:"market_cap_change_24h_pct"`
	ActiveCryptocurrencies int     `json:"active_cryptocurrencies"`
}

// CoinMarket is one row of /coins/markets
type CoinMarket struct {
	ID                string  `json:"id"`
	Symbol            string  `json:"symbol"`
	CurrentPrice      float64 `json:"current_price"`
	MarketCap         float64 `json:"market_cap"`
	MarketCapRank     int     `json:"market_cap_rank"`
	PriceChange24hPct float64 `json:"price_change_percentage_24h"`
	PriceChange7dPct  float64 `json:"price_change_percentage_7d_in_currency"`
	TotalVolume       float64 `json:"total_volume"`
	High24h           float64 `json:"high_24h"`
	Low24h            float64 `json:"low_24h"`
	ATH               float64 `json:"ath"`
	ATHChangePct      float64 `json:"ath_change_percentage"`
}

// TrendingCoin is one entry of /search/trending
type TrendingCoin struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	MarketCapRank int    `json:"market_cap_rank"`
	Score         int    `json:"score"`
}

type globalResponse struct {
	Data struct {
		TotalMarketCap                  map[string]float64 `json:"total_market_cap"`
		TotalVolume                     map[string]float64 `json:"total_volume"`
		MarketCapPercentage             map[string]float64 `json:"market_cap_percentage"`
		MarketCapChangePercentage24hUSD float64            `json:"market_cap_change_percentage_24h_usd"`
		ActiveCryptocurrencies          int                `json:"active_cryptocurrencies"`
	} `json:"data"`
}

type trendingResponse struct {
	Coins []struct {
		Item TrendingCoin `json:"item"`
	} `json:"coins"`
}

// Config holds client settings
type Config struct {
	BaseURL           string
	APIKey            string // optional demo/pro key
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client is a rate-budgeted CoinGecko REST client. It never waits for
// budget: an exhausted budget fails fast with ErrRateLimited.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// NewClient creates a client
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	perRequest := time.Minute / time.Duration(cfg.RequestsPerMinute)

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(perRequest), 3),
		logger:     logger.WithComponent("coingecko"),
	}
}

// FetchGlobal returns global market data
func (c *Client) FetchGlobal(ctx context.Context) (*GlobalData, error) {
	var resp globalResponse
	if err := c.get(ctx, "/global", nil, &resp); err != nil {
		return nil, err
	}
	d := resp.Data
	if d.MarketCapPercentage == nil {
		return nil, fmt.Errorf("%w: /global missing market_cap_percentage", ErrBadResponse)
	}

	return &GlobalData{
		TotalMarketCapUSD:      d.TotalMarketCap["usd"],
		TotalVolume24hUSD:      d.TotalVolume["usd"],
		BTCDominance:           d.MarketCapPercentage["btc"],
		ETHDominance:           d.MarketCapPercentage["eth"],
		MarketCapChange24hPct:  d.MarketCapChangePercentage24hUSD,
		ActiveCryptocurrencies: d.ActiveCryptocurrencies,
	}, nil
}

// FetchCoinMarkets returns market rows keyed by upper-case symbol. Unknown
// symbols are skipped.
func (c *Client) FetchCoinMarkets(ctx context.Context, coins []string) (map[string]CoinMarket, error) {
	ids := make([]string, 0, len(coins))
	for _, coin := range coins {
		if id, ok := IDs[strings.ToUpper(coin)]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]CoinMarket{}, nil
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("ids", strings.Join(ids, ","))
	params.Set("order", "market_cap_desc")
	params.Set("sparkline", "false")
	params.Set("price_change_percentage", "24h,7d")

	var rows []CoinMarket
	if err := c.get(ctx, "/coins/markets", params, &rows); err != nil {
		return nil, err
	}

	out := make(map[string]CoinMarket, len(rows))
	for _, row := range rows {
		row.Symbol = strings.ToUpper(row.Symbol)
		out[row.Symbol] = row
	}
	return out, nil
}

// FetchTrending returns up to ten trending coins
func (c *Client) FetchTrending(ctx context.Context) ([]TrendingCoin, error) {
	var resp trendingResponse
	if err := c.get(ctx, "/search/trending", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]TrendingCoin, 0, 10)
	for i, item := range resp.Coins {
		if i == 10 {
			break
		}
		coin := item.Item
		coin.Symbol = strings.ToUpper(coin.Symbol)
		out = append(out, coin)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	endpoint := c.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coingecko request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("CoinGecko rate limit hit", "path", path)
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrBadResponse, path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s body: %w", path, err)
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrBadResponse, path, err)
	}

	c.logger.WithDuration(time.Since(start)).Debug("CoinGecko request complete", "path", path)
	return nil
}
