package interfaces

import (
	"context"

	"fx-forward-runner/internal/types"
)

// Broker is the REST surface of the forex broker. Every call carries the
// credential so one client serves many sessions.
type Broker interface {
	GetAccount(ctx context.Context, cred types.Credential) (types.Account, error)
	Candles(ctx context.Context, cred types.Credential, instrument, granularity string, count int) ([]types.Candle, error)
	LatestPrice(ctx context.Context, cred types.Credential, instrument string) (float64, error)
	PlaceMarketOrder(ctx context.Context, cred types.Credential, order types.Order) (types.OrderResult, error)
	OpenPosition(ctx context.Context, cred types.Credential, instrument string) (types.Position, error)
	ClosePosition(ctx context.Context, cred types.Credential, instrument string) error
}
