package exchange

import (
	"errors"
	"math"
	"testing"
)

func TestLookupCoin(t *testing.T) {
	c, err := LookupCoin(" sol ")
	if err != nil {
		t.Fatalf("LookupCoin: %v", err)
	}
	if c.Symbol != "cmt_solusdt" || c.Decimals != 2 {
		t.Errorf("unexpected coin %+v", c)
	}

	if _, err := LookupCoin("SHIB"); !errors.Is(err, ErrUnsupportedCoin) {
		t.Errorf("err = %v, want ErrUnsupportedCoin", err)
	}

	for _, name := range SupportedCoins {
		if _, err := LookupCoin(name); err != nil {
			t.Errorf("listed coin %s not resolvable", name)
		}
	}
}

func TestSizeForRoundsDown(t *testing.T) {
	tests := []struct {
		coin     string
		margin   float64
		leverage int
		price    float64
		want     float64
		text     string
	}{
		{"BTC", 30, 20, 65000, 0.009, "0.009"},
		{"ETH", 30, 20, 3400, 0.176, "0.176"},
		{"SOL", 30, 20, 151.37, 3.96, "3.96"},
		{"XRP", 30, 20, 0.61, 983.6, "983.6"},
		{"DOGE", 30, 20, 0.1234, 4862, "4862"},
		{"BTC", 30, 20, 0, 0, "0.000"},
		{"BTC", 0.001, 1, 65000, 0, "0.000"},
	}
	for _, tt := range tests {
		t.Run(tt.coin, func(t *testing.T) {
			c, _ := LookupCoin(tt.coin)
			got := c.SizeFor(tt.margin, tt.leverage, tt.price)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("SizeFor = %v, want %v", got, tt.want)
			}
			if s := c.FormatSize(got); s != tt.text {
				t.Errorf("FormatSize = %q, want %q", s, tt.text)
			}
		})
	}
}

func TestNormalizeSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
		err  bool
	}{
		{"1", OpenLong, false},
		{"2", OpenShort, false},
		{"3", CloseLong, false},
		{"4", CloseShort, false},
		{"LONG", OpenLong, false},
		{"open_short", OpenShort, false},
		{" close_long ", CloseLong, false},
		{"5", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeSide(tt.in)
			if tt.err {
				if !errors.Is(err, ErrInvalidSide) {
					t.Errorf("err = %v, want ErrInvalidSide", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("NormalizeSide(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestNormalizeOrderType(t *testing.T) {
	for in, want := range map[string]OrderType{"0": Market, "market": Market, "": Market, "1": Limit, "LIMIT": Limit} {
		if got, err := NormalizeOrderType(in); err != nil || got != want {
			t.Errorf("NormalizeOrderType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := NormalizeOrderType("2"); err == nil {
		t.Error("expected error for unknown order type")
	}
}

func TestPositionPnL(t *testing.T) {
	long := Position{Side: Long, Size: 0.01, EntryPrice: 60000, CurrentPrice: 61200, Leverage: 20}
	if got := long.PnLPct(); math.Abs(got-2) > 1e-9 {
		t.Errorf("long PnLPct = %v, want 2", got)
	}
	if got := long.PnLUSDT(); math.Abs(got-12) > 1e-9 {
		t.Errorf("long PnLUSDT = %v, want 12", got)
	}
	if got := long.MarginUSDT(); math.Abs(got-30.6) > 1e-9 {
		t.Errorf("MarginUSDT = %v, want 30.6", got)
	}

	short := Position{Side: Short, Size: 2, EntryPrice: 100, CurrentPrice: 103, Leverage: 10}
	if got := short.PnLPct(); math.Abs(got+3) > 1e-9 {
		t.Errorf("short PnLPct = %v, want -3", got)
	}
	if got := short.PnLUSDT(); math.Abs(got+6) > 1e-9 {
		t.Errorf("short PnLUSDT = %v, want -6", got)
	}

	if (Position{Side: Long}).PnLPct() != 0 {
		t.Error("zero entry price must yield zero PnL")
	}
}
