// Package brokertest provides a programmable in-memory Broker for tests.
package brokertest

import (
	"context"
	"strconv"
	"sync"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/types"
)

var _ interfaces.Broker = (*Fake)(nil)

// Fake answers from its hook functions; a nil hook returns a zero value.
// Every call is counted per operation.
type Fake struct {
	AccountFn  func(cred types.Credential) (types.Account, error)
	CandlesFn  func(instrument, granularity string, count int) ([]types.Candle, error)
	PriceFn    func(instrument string) (float64, error)
	OrderFn    func(order types.Order) (types.OrderResult, error)
	PositionFn func(instrument string) (types.Position, error)
	CloseFn    func(instrument string) error

	mu     sync.Mutex
	calls  map[string]int
	orders []types.Order
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Orders returns the orders submitted so far.
func (f *Fake) Orders() []types.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Order(nil), f.orders...)
}

func (f *Fake) GetAccount(ctx context.Context, cred types.Credential) (types.Account, error) {
	f.count("GetAccount")
	if f.AccountFn != nil {
		return f.AccountFn(cred)
	}
	return types.Account{ID: cred.AccountID, Currency: "USD"}, nil
}

func (f *Fake) Candles(ctx context.Context, cred types.Credential, instrument, granularity string, count int) ([]types.Candle, error) {
	f.count("Candles")
	if f.CandlesFn != nil {
		return f.CandlesFn(instrument, granularity, count)
	}
	return nil, nil
}

func (f *Fake) LatestPrice(ctx context.Context, cred types.Credential, instrument string) (float64, error) {
	f.count("LatestPrice")
	if f.PriceFn != nil {
		return f.PriceFn(instrument)
	}
	return 0, nil
}

func (f *Fake) PlaceMarketOrder(ctx context.Context, cred types.Credential, order types.Order) (types.OrderResult, error) {
	f.count("PlaceMarketOrder")
	if f.OrderFn != nil {
		res, err := f.OrderFn(order)
		if err == nil {
			f.mu.Lock()
			f.orders = append(f.orders, order)
			f.mu.Unlock()
		}
		return res, err
	}
	f.mu.Lock()
	f.orders = append(f.orders, order)
	n := len(f.orders)
	f.mu.Unlock()
	return types.OrderResult{
		OrderCreateTxID: strconv.Itoa(1000 + 2*n),
		OrderFillTxID:   strconv.Itoa(1001 + 2*n),
		Filled:          true,
	}, nil
}

func (f *Fake) OpenPosition(ctx context.Context, cred types.Credential, instrument string) (types.Position, error) {
	f.count("OpenPosition")
	if f.PositionFn != nil {
		return f.PositionFn(instrument)
	}
	return types.Position{Instrument: instrument}, nil
}

func (f *Fake) ClosePosition(ctx context.Context, cred types.Credential, instrument string) error {
	f.count("ClosePosition")
	if f.CloseFn != nil {
		return f.CloseFn(instrument)
	}
	return nil
}

// CandlesFromCloses builds one-minute candles whose OHLC all equal the close.
func CandlesFromCloses(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{Ts: int64(1700000000 + 60*i), Open: c, High: c, Low: c, Close: c, Vol: 1}
	}
	return out
}
