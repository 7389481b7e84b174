package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kjannette/trahn-perps/internal/httputil"
	"github.com/kjannette/trahn-perps/internal/signer"
)

func newTestClient(t *testing.T, h http.Handler, creds signer.Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s, err := signer.New(signer.Options{
		BaseURL:     srv.URL,
		Credentials: creds,
		Retry:       httputil.RetryConfig{MaxAttempts: 1},
		Logger:      zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return NewClient(s, Options{Interval: "5m", CandleLimit: 3}, zaptest.NewLogger(t))
}

var apiCreds = signer.Credentials{APIKey: "k", APISecret: "s"}

func TestKlines_Parse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "5m" || r.URL.Query().Get("limit") != "3" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[
			[1700000000000,"100.0","101.0","99.0","100.5","12.3",1700000059999],
			[1700000060000,"100.5","102.0","100.0","101.5","8.1",1700000119999],
			[1700000120000,"101.5","101.9","100.9","101.0","4.4",1700000179999]
		]`)
	})
	c := newTestClient(t, mux, apiCreds)

	closes, err := c.Closes(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Closes: %v", err)
	}
	want := []float64{100.5, 101.5, 101.0}
	for i, w := range want {
		if closes[i] != w {
			t.Fatalf("close[%d] = %v, want %v", i, closes[i], w)
		}
	}
}

func TestKlines_Non200IsNoData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})
	c := newTestClient(t, mux, apiCreds)

	_, err := c.Closes(context.Background(), "NOPE")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestKlines_GarbageIsNoData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})
	c := newTestClient(t, mux, apiCreds)

	if _, err := c.Closes(context.Background(), "BTCUSDT"); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestTickerPrice_MarkPriceFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","markPrice":"64000.10"}`)
	})
	c := newTestClient(t, mux, apiCreds)

	price, err := c.TickerPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("TickerPrice: %v", err)
	}
	if price != 64000.10 {
		t.Fatalf("price = %v", price)
	}
}

func TestAvailableBalance_AccountFallsBackToV2(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v2/account", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"assets":[{"asset":"BNB","availableBalance":"3"},{"asset":"USDT","availableBalance":"812.5"}]}`)
	})
	c := newTestClient(t, mux, apiCreds)

	bal, err := c.AvailableBalance(context.Background())
	if err != nil {
		t.Fatalf("AvailableBalance: %v", err)
	}
	if bal != 812.5 {
		t.Fatalf("balance = %v", bal)
	}
}

func TestAvailableBalance_NoCredentials(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), signer.Credentials{})
	_, err := c.AvailableBalance(context.Background())
	if !signer.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestParseAvailableBalance(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{`{"availableBalance":"1000"}`, 1000, true},
		{`{"availableBalance":250.25}`, 250.25, true},
		{`[{"asset":"usdt","balance":"42"}]`, 42, true},
		{`{"assets":[]}`, 0, false},
		{`{}`, 0, false},
		{`nope`, 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseAvailableBalance([]byte(tc.raw), "USDT")
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseAvailableBalance(%s) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPlaceMarketOrder(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"orderId":1,"status":"NEW"}`)
	})
	c := newTestClient(t, mux, apiCreds)

	resp, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", Quantity: "0.001", ClientOrderID: "abc",
	})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("status %d", resp.Status)
	}
	for _, want := range []string{"type=MARKET", "quantity=0.001", "newClientOrderId=abc", "signature="} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}
