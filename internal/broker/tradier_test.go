package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testAPI points a TradierAPI at a local httptest server.
func testAPI(t *testing.T, handler http.Handler) *TradierAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := NewTradierAPI("test-key", "ACC123", false, 5*time.Second)
	api.baseURL = srv.URL
	return api
}

func TestGetQuoteParsesSingleObject(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if r.URL.Path != "/markets/quotes" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"quotes":{"quote":{"symbol":"AAPL","last":226.5,"bid":226.4,"ask":226.6,"prevclose":225.0,"change":1.5,"change_percentage":0.67,"high":227.1,"low":224.8,"volume":1234567}}}`)
	}))

	quote, err := api.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if quote.Symbol != "AAPL" || math.Abs(quote.Last-226.5) > 1e-9 {
		t.Errorf("quote = %+v", quote)
	}
	if quote.Volume != 1234567 {
		t.Errorf("volume = %d", quote.Volume)
	}
}

func TestGetQuoteNoResult(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"quotes":{"quote":null}}`)
	}))

	if _, err := api.GetQuote(context.Background(), "NOPE"); err == nil {
		t.Error("expected error for empty quote response")
	}
}

func TestGetExpirationsSingleOrArray(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{
			name:     "array",
			body:     `{"expirations":{"date":["2026-09-18","2026-09-25"]}}`,
			expected: 2,
		},
		{
			name:     "single string",
			body:     `{"expirations":{"date":"2026-09-18"}}`,
			expected: 1,
		},
		{
			name:     "null",
			body:     `{"expirations":{"date":null}}`,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, tt.body)
			}))

			dates, err := api.GetExpirations(context.Background(), "AAPL")
			if err != nil {
				t.Fatalf("GetExpirations failed: %v", err)
			}
			if len(dates) != tt.expected {
				t.Errorf("got %d dates, expected %d", len(dates), tt.expected)
			}
		})
	}
}

func TestGetBalanceMarginAccount(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/ACC123/balances" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"balances":{"total_cash":50000,"total_equity":52000,"market_value":3000,"margin":{"option_buying_power":48000}}}`)
	}))

	snap, err := api.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if math.Abs(snap.Cash-50_000) > 1e-9 {
		t.Errorf("cash = %v", snap.Cash)
	}
	if math.Abs(snap.BuyingPower-48_000) > 1e-9 {
		t.Errorf("buying power = %v, expected margin option buying power", snap.BuyingPower)
	}
	if math.Abs(snap.PortfolioValue-53_000) > 1e-9 {
		t.Errorf("portfolio value = %v, expected cash + market value", snap.PortfolioValue)
	}
}

func TestGetPositionsSkipsNonOptions(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"positions":{"position":[
			{"symbol":"AAPL260918C00220000","quantity":2,"cost_basis":1000,"date_acquired":"2026-08-01T00:00:00Z"},
			{"symbol":"AAPL","quantity":100,"cost_basis":22000,"date_acquired":"2026-08-01T00:00:00Z"}
		]}}`)
	}))

	positions, err := api.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 option position, got %d", len(positions))
	}
	p := positions[0]
	if p.Underlying != "AAPL" || p.Quantity != 2 {
		t.Errorf("position = %+v", p)
	}
	// cost_basis 1000 over 2 contracts x 100 shares = 5.00 per contract
	if math.Abs(p.AvgEntryPrice-5.00) > 1e-9 {
		t.Errorf("avg entry = %v, expected 5.00", p.AvgEntryPrice)
	}
}

func TestGetPositionsEmptyAccount(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"positions":"null"}`)
	}))

	positions, err := api.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
}

func TestPlaceOptionOrderForm(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		for key, want := range map[string]string{
			"class":         "option",
			"symbol":        "AAPL",
			"option_symbol": "AAPL260918C00220000",
			"side":          "buy_to_open",
			"quantity":      "3",
			"type":          "limit",
			"duration":      "day",
			"price":         "2.50",
		} {
			if got := r.PostFormValue(key); got != want {
				t.Errorf("form[%s] = %q, expected %q", key, got, want)
			}
		}
		fmt.Fprint(w, `{"order":{"id":815,"status":"ok"}}`)
	}))

	limit := 2.50
	resp, err := api.PlaceOptionOrder(context.Background(), "AAPL", "AAPL260918C00220000", "buy_to_open", 3, &limit)
	if err != nil {
		t.Fatalf("PlaceOptionOrder failed: %v", err)
	}
	if resp.Order.ID != 815 {
		t.Errorf("order id = %d", resp.Order.ID)
	}
}

func TestAPIErrorSurfacesStatusAndBody(t *testing.T) {
	api := testAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))

	_, err := api.GetQuote(context.Background(), "AAPL")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.Status)
	}
}

func TestVerifyWrapsConnectionError(t *testing.T) {
	client := NewTradierClient("key", "acct", true, 50*time.Millisecond)
	client.api.baseURL = "http://127.0.0.1:1" // nothing listens here

	err := client.Verify()
	if !errors.Is(err, ErrNoBrokerConnection) {
		t.Fatalf("expected ErrNoBrokerConnection, got %v", err)
	}
}
