package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"fx-forward-runner/internal/types"

	"github.com/shopspring/decimal"
)

var testCred = types.Credential{AccountID: "101-004-1", APIKey: "tok", Environment: types.EnvPractice}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(append([]Option{WithBaseURL(srv.URL)}, opts...)...)
}

func TestGetAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/accounts/101-004-1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"account":{"id":"101-004-1","currency":"USD","balance":"100000.0000","unrealizedPL":"-12.5","openPositionCount":1}}`))
	})

	acc, err := c.GetAccount(context.Background(), testCred)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if acc.Currency != "USD" || !acc.Balance.Equal(decimal.NewFromInt(100000)) || acc.OpenPositionCount != 1 {
		t.Errorf("Unexpected account %+v", acc)
	}
}

func TestGetAccountRejectsInvalidCredential(t *testing.T) {
	c := New(WithBaseURL("http://127.0.0.1:1"))
	_, err := c.GetAccount(context.Background(), types.Credential{AccountID: "x"})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrAuth},
		{"forbidden", http.StatusForbidden, types.ErrAuth},
		{"server error", http.StatusBadGateway, types.ErrTransientBroker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"errorMessage":"nope"}`))
			})
			_, err := c.GetAccount(context.Background(), testCred)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New(WithBaseURL(base))
	_, err := c.GetAccount(context.Background(), testCred)
	if !errors.Is(err, types.ErrTransientBroker) {
		t.Errorf("Expected transient error, got %v", err)
	}
}

func TestCandlesParsesMidAndFiltersIncomplete(t *testing.T) {
	body := `{"instrument":"EUR_USD","granularity":"M1","candles":[
		{"complete":true,"volume":10,"time":"2024-01-02T10:00:00.000000000Z","mid":{"o":"1.1000","h":"1.1010","l":"1.0990","c":"1.1005"}},
		{"complete":false,"volume":3,"time":"2024-01-02T10:01:00.000000000Z","mid":{"o":"1.1005","h":"1.1006","l":"1.1001","c":"1.1002"}}
	]}`
	var gotQuery string
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/instruments/EUR_USD/candles" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(body))
	}

	c := newTestClient(t, handler)
	candles, err := c.Candles(context.Background(), testCred, "EUR_USD", "M1", 25)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	if candles[0].Close != 1.1005 || candles[0].High != 1.1010 || candles[0].Vol != 10 {
		t.Errorf("Unexpected candle %+v", candles[0])
	}
	if candles[0].Ts != 1704189600 {
		t.Errorf("Expected unix ts 1704189600, got %d", candles[0].Ts)
	}
	if gotQuery != "count=25&granularity=M1&price=M" {
		t.Errorf("Unexpected query %q", gotQuery)
	}

	c = newTestClient(t, handler, WithCompleteOnly(true))
	candles, err = c.Candles(context.Background(), testCred, "EUR_USD", "M1", 25)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(candles) != 1 {
		t.Errorf("Expected 1 complete candle, got %d", len(candles))
	}
}

func TestLatestPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("instruments") != "EUR_USD" {
			t.Errorf("Unexpected instruments %q", r.URL.Query().Get("instruments"))
		}
		w.Write([]byte(`{"prices":[{"bids":[{"price":"1.1000"}],"asks":[{"price":"1.1002"}]}]}`))
	})

	p, err := c.LatestPrice(context.Background(), testCred, "EUR_USD")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if p < 1.10009 || p > 1.10011 {
		t.Errorf("Expected mid 1.1001, got %f", p)
	}
}

func TestPlaceMarketOrder(t *testing.T) {
	var sent map[string]map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/accounts/101-004-1/orders" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &sent); err != nil {
			t.Fatalf("Bad body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"orderCreateTransaction":{"id":"6368"},"orderFillTransaction":{"id":"6369","price":"1.10050","tradeOpened":{"tradeID":"6369"}}}`))
	})

	sl := decimal.RequireFromString("0.0010")
	res, err := c.PlaceMarketOrder(context.Background(), testCred, types.Order{
		Instrument: "EUR_USD",
		Side:       types.SideBuy,
		Units:      decimal.NewFromInt(100),
		StopLoss:   &sl,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	order := sent["order"]
	if order["units"] != "100" || order["type"] != "MARKET" || order["timeInForce"] != "FOK" || order["positionFill"] != "DEFAULT" {
		t.Errorf("Unexpected order body %+v", order)
	}
	if slBody, ok := order["stopLossOnFill"].(map[string]any); !ok || slBody["distance"] != "0.00100" {
		t.Errorf("Expected stop loss distance 0.00100, got %+v", order["stopLossOnFill"])
	}
	if _, ok := order["takeProfitOnFill"]; ok {
		t.Error("Expected no take profit")
	}
	if res.OrderCreateTxID != "6368" || res.OrderFillTxID != "6369" || res.TradeID != "6369" || !res.Filled {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestPlaceMarketOrderSurfacesErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMessage":"Insufficient authorization to perform request."}`))
	})

	_, err := c.PlaceMarketOrder(context.Background(), testCred, types.Order{
		Instrument: "EUR_USD", Side: types.SideSell, Units: decimal.NewFromInt(100),
	})
	var be *types.BrokerError
	if !errors.As(err, &be) {
		t.Fatalf("Expected *BrokerError, got %v", err)
	}
	if be.Message != "Insufficient authorization to perform request." {
		t.Errorf("Expected verbatim message, got %q", be.Message)
	}
}

func TestOpenPositionNotFoundIsFlat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorMessage":"The Position specified does not exist"}`))
	})

	pos, err := c.OpenPosition(context.Background(), testCred, "EUR_USD")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if pos.Open() {
		t.Errorf("Expected flat position, got %+v", pos)
	}
}

func TestClosePositionOnlyOpenSides(t *testing.T) {
	var closeBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"position":{"instrument":"EUR_USD","long":{"units":"100"},"short":{"units":"0"}}}`))
		case http.MethodPut:
			if r.URL.Path != "/v3/accounts/101-004-1/positions/EUR_USD/close" {
				t.Errorf("Unexpected path %s", r.URL.Path)
			}
			json.NewDecoder(r.Body).Decode(&closeBody)
			w.Write([]byte(`{}`))
		}
	})

	if err := c.ClosePosition(context.Background(), testCred, "EUR_USD"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if closeBody["longUnits"] != "ALL" {
		t.Errorf("Expected longUnits ALL, got %+v", closeBody)
	}
	if _, ok := closeBody["shortUnits"]; ok {
		t.Errorf("Expected no shortUnits, got %+v", closeBody)
	}
}
