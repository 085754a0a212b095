package brokerobs

import (
	"context"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/metrics"
	"fx-forward-runner/internal/trace"
	"fx-forward-runner/internal/types"
)

// observableBroker wraps a Broker with observability (logging, tracing, metrics)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{
		broker: broker,
	}
}

func (ob *observableBroker) GetAccount(ctx context.Context, cred types.Credential) (types.Account, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetAccount")
	defer span.End()

	acc, err := ob.broker.GetAccount(ctx, cred)
	metrics.ObserveBrokerCall("GetAccount", err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch account", err, "credential", cred)
		return types.Account{}, err
	}

	logger.DebugSkip(ctx, 1, "Account fetched", "credential", cred, "balance", acc.Balance.String())
	return acc, nil
}

func (ob *observableBroker) Candles(ctx context.Context, cred types.Credential, instrument, granularity string, count int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Candles")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching candles", "instrument", instrument, "granularity", granularity, "count", count)

	candles, err := ob.broker.Candles(ctx, cred, instrument, granularity, count)
	metrics.ObserveBrokerCall("Candles", err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch candles", err, "instrument", instrument, "count", count)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Candles fetched successfully", "instrument", instrument, "count", len(candles))
	return candles, nil
}

func (ob *observableBroker) LatestPrice(ctx context.Context, cred types.Credential, instrument string) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "broker.LatestPrice")
	defer span.End()

	price, err := ob.broker.LatestPrice(ctx, cred, instrument)
	metrics.ObserveBrokerCall("LatestPrice", err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch price", err, "instrument", instrument)
		return 0, err
	}

	logger.DebugSkip(ctx, 1, "Price fetched successfully", "instrument", instrument, "price", price)
	return price, nil
}

func (ob *observableBroker) PlaceMarketOrder(ctx context.Context, cred types.Credential, order types.Order) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceMarketOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"instrument", order.Instrument,
		"side", order.Side,
		"units", order.Units.String(),
	)

	res, err := ob.broker.PlaceMarketOrder(ctx, cred, order)
	metrics.ObserveBrokerCall("PlaceMarketOrder", err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"instrument", order.Instrument,
			"side", order.Side,
			"units", order.Units.String(),
		)
		return types.OrderResult{}, err
	}

	metrics.OrdersSubmitted.WithLabelValues(order.Instrument, string(order.Side)).Inc()
	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"instrument", order.Instrument,
		"order_create_tx", res.OrderCreateTxID,
		"order_fill_tx", res.OrderFillTxID,
		"filled", res.Filled,
	)
	return res, nil
}

func (ob *observableBroker) OpenPosition(ctx context.Context, cred types.Credential, instrument string) (types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "broker.OpenPosition")
	defer span.End()

	pos, err := ob.broker.OpenPosition(ctx, cred, instrument)
	metrics.ObserveBrokerCall("OpenPosition", err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch position", err, "instrument", instrument)
		return types.Position{}, err
	}

	logger.DebugSkip(ctx, 1, "Position fetched", "instrument", instrument,
		"long_units", pos.LongUnits.String(), "short_units", pos.ShortUnits.String())
	return pos, nil
}

func (ob *observableBroker) ClosePosition(ctx context.Context, cred types.Credential, instrument string) error {
	ctx, span := trace.StartSpan(ctx, "broker.ClosePosition")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Closing position", "instrument", instrument)

	err := ob.broker.ClosePosition(ctx, cred, instrument)
	metrics.ObserveBrokerCall("ClosePosition", err)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close position", err, "instrument", instrument)
		return err
	}

	logger.InfoSkip(ctx, 1, "Position closed", "instrument", instrument)
	return nil
}
