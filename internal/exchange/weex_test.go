package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"regimeforge-bot/internal/logging"
)

var testCreds = Credentials{APIKey: "key", SecretKey: "secret", Passphrase: "pass"}

func newTestWeex(t *testing.T, handler http.HandlerFunc) *WeexClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewWeexClient(WeexConfig{BaseURL: srv.URL, RateLimit: 1000}, testCreds, logging.Nop())
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func expectedSign(ts, method, path, query, body string) string {
	mac := hmac.New(sha256.New, []byte(testCreds.SecretKey))
	mac.Write([]byte(ts + method + path + query + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignedHeaders(t *testing.T) {
	c := newTestWeex(t, func(w http.ResponseWriter, r *http.Request) {
		want := expectedSign("1700000000000", "GET", "/capi/v2/market/ticker", "?symbol=cmt_btcusdt", "")
		if got := r.Header.Get("ACCESS-SIGN"); got != want {
			t.Errorf("ACCESS-SIGN = %q, want %q", got, want)
		}
		if r.Header.Get("ACCESS-KEY") != "key" || r.Header.Get("ACCESS-PASSPHRASE") != "pass" {
			t.Errorf("missing credential headers: %v", r.Header)
		}
		if r.Header.Get("ACCESS-TIMESTAMP") != "1700000000000" {
			t.Errorf("timestamp = %q", r.Header.Get("ACCESS-TIMESTAMP"))
		}
		w.Write([]byte(`{"symbol":"cmt_btcusdt","last":"64321.5"}`))
	})

	price, err := c.GetTickerPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("GetTickerPrice: %v", err)
	}
	if price != 64321.5 {
		t.Errorf("price = %v", price)
	}
}

func TestGetOHLCV(t *testing.T) {
	c := newTestWeex(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("granularity") != "1h" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`[["1700000000000","100","110","95","105","12.5","1300"],
			["1700003600000","105","108","101","107","9","950"],["bad"]]`))
	})

	candles, err := c.GetOHLCV(context.Background(), "ETH", 2)
	if err != nil {
		t.Fatalf("GetOHLCV: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("len = %d, want 2", len(candles))
	}
	if candles[1].Close != 107 || !candles[1].OpenTime.Equal(time.UnixMilli(1700003600000)) {
		t.Errorf("unexpected candle %+v", candles[1])
	}
}

func TestOpenPositionBody(t *testing.T) {
	c := newTestWeex(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("body: %v", err)
		}
		if body["symbol"] != "cmt_btcusdt" || body["type"] != "2" || body["size"] != "0.009" {
			t.Errorf("unexpected body %v", body)
		}
		if body["order_type"] != "0" || body["match_price"] != "1" {
			t.Errorf("market order fields wrong: %v", body)
		}
		if len(body["client_oid"]) > 40 {
			t.Errorf("client_oid too long: %q", body["client_oid"])
		}
		want := expectedSign("1700000000000", "POST", "/capi/v2/order/placeOrder", "", string(raw))
		if r.Header.Get("ACCESS-SIGN") != want {
			t.Error("POST signature must cover the body")
		}
		w.Write([]byte(`{"client_oid":"x","order_id":"596471064624628269"}`))
	})

	res, err := c.OpenPosition(context.Background(), OrderRequest{Coin: "BTC", Side: OpenShort, Size: 0.00923, Leverage: 20})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if res.OrderID != "596471064624628269" || res.Size != 0.009 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestGetOpenPosition(t *testing.T) {
	c := newTestWeex(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/capi/v2/account/position/singlePosition":
			w.Write([]byte(`[{"side":"SHORT","size":"2","open_value":"200","leverage":"10","liquidatePrice":"180"}]`))
		case "/capi/v2/market/ticker":
			w.Write([]byte(`{"last":"97"}`))
		}
	})

	pos, err := c.GetOpenPosition(context.Background(), "SOL")
	if err != nil || pos == nil {
		t.Fatalf("GetOpenPosition: %v %v", pos, err)
	}
	if pos.Side != Short || pos.EntryPrice != 100 || pos.Leverage != 10 || pos.CurrentPrice != 97 {
		t.Errorf("unexpected position %+v", pos)
	}
	if math.Abs(pos.PnLPct()-3) > 1e-9 {
		t.Errorf("PnLPct = %v, want 3", pos.PnLPct())
	}
}

func TestGetOpenPositionFlat(t *testing.T) {
	c := newTestWeex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	pos, err := c.GetOpenPosition(context.Background(), "BTC")
	if err != nil || pos != nil {
		t.Errorf("flat account: pos=%v err=%v", pos, err)
	}
}

func TestAccountBalance(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{"available", `{"data":[{"coinName":"BTC","available":"1"},{"coinName":"USDT","available":"812.5","equity":"900"}]}`, 812.5},
		{"equity fallback", `[{"currency":"usdt","equity":"640"}]`, 640},
		{"no usdt row", `[{"coinName":"ETH","available":"3"}]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestWeex(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/capi/v2/account/assets" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			})
			got, err := c.AccountBalance(context.Background())
			if err != nil {
				t.Fatalf("AccountBalance: %v", err)
			}
			if got != tt.want {
				t.Errorf("balance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIError(t *testing.T) {
	c := newTestWeex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"40015","msg":"size too small"}`))
	})
	_, err := c.OpenPosition(context.Background(), OrderRequest{Coin: "BTC", Side: OpenLong, Size: 0.001})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("err = %v, want *APIError 400", err)
	}
}

func TestExtractOrderID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"snake case", `{"order_id":"1"}`, "1"},
		{"camel case", `{"orderId":"2"}`, "2"},
		{"numeric", `{"order_id":3}`, "3"},
		{"nested", `{"code":"00000","data":{"order_id":"4"}}`, "4"},
		{"data string", `{"data":"5"}`, "5"},
		{"missing", `{"code":"40001"}`, ""},
		{"not json", `oops`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractOrderID([]byte(tt.body)); got != tt.want {
				t.Errorf("extractOrderID(%s) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}
