package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"regimeforge-bot/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, RequestsPerMinute: 6000}, logging.Nop())
}

func TestFetchGlobal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/global" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"total_market_cap":{"usd":2.5e12},"total_volume":{"usd":9e10},
			"market_cap_percentage":{"btc":56.2,"eth":13.1},
			"market_cap_change_percentage_24h_usd":-3.4,"active_cryptocurrencies":12000}}`))
	})

	g, err := c.FetchGlobal(context.Background())
	if err != nil {
		t.Fatalf("FetchGlobal: %v", err)
	}
	if g.BTCDominance != 56.2 || g.MarketCapChange24hPct != -3.4 || g.TotalMarketCapUSD != 2.5e12 {
		t.Errorf("unexpected global data %+v", g)
	}
}

func TestFetchCoinMarkets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("ids") != "bitcoin,solana" {
			t.Errorf("ids = %q", q.Get("ids"))
		}
		if q.Get("price_change_percentage") != "24h,7d" {
			t.Errorf("price_change_percentage = %q", q.Get("price_change_percentage"))
		}
		w.Write([]byte(`[{"id":"bitcoin","symbol":"btc","current_price":64000,"market_cap_rank":1,
			"price_change_percentage_7d_in_currency":12.5,"ath_change_percentage":-8.1},
			{"id":"solana","symbol":"sol","current_price":150,"market_cap_rank":5}]`))
	})

	rows, err := c.FetchCoinMarkets(context.Background(), []string{"btc", "SOL", "UNKNOWN"})
	if err != nil {
		t.Fatalf("FetchCoinMarkets: %v", err)
	}
	btc, ok := rows["BTC"]
	if !ok {
		t.Fatalf("BTC missing from %v", rows)
	}
	if btc.PriceChange7dPct != 12.5 || btc.ATHChangePct != -8.1 {
		t.Errorf("unexpected BTC row %+v", btc)
	}
	if _, ok := rows["SOL"]; !ok {
		t.Error("SOL missing")
	}
}

func TestFetchTrendingCapsAtTen(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := `{"coins":[`
		for i := 0; i < 12; i++ {
			if i > 0 {
				body += ","
			}
			body += `{"item":{"id":"x","symbol":"doge","name":"Dogecoin","score":1}}`
		}
		body += `]}`
		w.Write([]byte(body))
	})

	coins, err := c.FetchTrending(context.Background())
	if err != nil {
		t.Fatalf("FetchTrending: %v", err)
	}
	if len(coins) != 10 {
		t.Fatalf("len = %d, want 10", len(coins))
	}
	if coins[0].Symbol != "DOGE" {
		t.Errorf("symbol not upper-cased: %q", coins[0].Symbol)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrRateLimited},
		{"server error", http.StatusInternalServerError, `{}`, ErrBadResponse},
		{"malformed body", http.StatusOK, `{"data":`, ErrBadResponse},
		{"missing dominance", http.StatusOK, `{"data":{}}`, ErrBadResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.FetchGlobal(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLocalBudgetFailsFast(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"coins":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RequestsPerMinute: 1}, logging.Nop())

	var limited bool
	for i := 0; i < 5; i++ {
		if _, err := c.FetchTrending(context.Background()); errors.Is(err, ErrRateLimited) {
			limited = true
		}
	}
	if !limited {
		t.Fatal("expected the local budget to run out")
	}
	if calls > 3 {
		t.Errorf("burst of 3 exceeded: %d calls", calls)
	}
}
