package job

import (
	"context"

	"fx-forward-runner/internal/broker/oanda"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/metrics"
	"fx-forward-runner/internal/types"

	"github.com/shopspring/decimal"
)

// RunSessions runs the crossover for every ACTIVE session in the registry,
// each with its own credential, symbol and risk. One session failing does
// not stop the others; its error is reported in its result.
func (r *Runner) RunSessions(ctx context.Context) ([]types.SessionRunResult, error) {
	if r.store == nil {
		return nil, types.ConfigErrorf("sessions runner needs a session store")
	}

	release, ok, err := r.lock.Acquire(ctx, "sessions-runner", r.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info(ctx, "Sessions run skipped, another run holds the lock")
		return []types.SessionRunResult{}, nil
	}
	defer release()

	sessions, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Running active sessions", "count", len(sessions))
	metrics.ActiveSessions.Set(float64(len(sessions)))

	results := make([]types.SessionRunResult, 0, len(sessions))
	for _, s := range sessions {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		out := types.SessionRunResult{SessionID: s.ID, UserID: s.UserID}

		res, err := r.runSession(ctx, s)
		out.Result = res
		if err != nil {
			out.Error = err.Error()
			logger.ErrorWithErr(ctx, "Session run failed", err, "session_id", s.ID, "user_id", s.UserID)
			r.appendLog(ctx, types.TradeLog{
				SessionID: s.ID,
				UserID:    s.UserID,
				LogType:   types.LogTypeError,
				Message:   err.Error(),
				Signal:    types.SignalNone,
			})
		}
		if err := r.store.TouchExecution(ctx, s.ID); err != nil {
			logger.Warn(ctx, "Failed to record session execution", "session_id", s.ID, "error", err)
		}
		results = append(results, out)
	}
	return results, nil
}

func (r *Runner) runSession(ctx context.Context, s types.TradingSession) (*types.JobResult, error) {
	if !s.Credential.Valid() {
		return nil, types.ConfigErrorf("session %s has an incomplete credential", s.ID)
	}
	instrument := oanda.Instrument(s.Strategy.Symbol)
	if instrument == "" {
		instrument = r.cfg.Instrument
	}
	granularity := oanda.Granularity(s.Strategy.Timeframe, r.cfg.Granularity)

	x, price, err := r.crossover(ctx, s.Credential, instrument, granularity)
	if err != nil {
		return nil, err
	}
	res := newResult(instrument, x, price)
	res.SessionID = s.ID

	switch {
	case x.CrossedUp():
		res.Signal = types.SignalBuy
	case x.CrossedDown():
		res.Signal = types.SignalSell
	}
	if s.Strategy.ReverseSignals {
		res.Signal = reverse(res.Signal)
	}
	metrics.JobRuns.WithLabelValues(string(res.Signal)).Inc()

	if res.Signal == types.SignalNone {
		r.recordSignal(s.ID, res, "no crossover")
		return res, nil
	}

	logger.Signal(ctx, instrument, string(res.Signal), 1, price,
		"session_id", s.ID,
		"strategy_id", s.StrategyID,
		"reversed", s.Strategy.ReverseSignals,
	)

	units, err := r.sessionUnits(ctx, s, price)
	if err != nil {
		return res, err
	}
	if units < minSessionUnits {
		res.SkipReason = "position size too small"
		r.appendSignalLog(ctx, s, res)
		return res, nil
	}

	side := types.SideBuy
	if res.Signal == types.SignalSell {
		side = types.SideSell
	}
	order := types.Order{
		Instrument: instrument,
		Side:       side,
		Units:      decimal.NewFromInt(units),
		StopLoss:   pipsDistance(s.Strategy.Risk.StopLossPips),
		TakeProfit: pipsDistance(s.Strategy.Risk.TakeProfitPips),
	}
	if err := r.submit(ctx, s.Credential, s.ID, order, res); err != nil {
		return res, err
	}

	if !res.OrderSubmitted {
		r.appendSignalLog(ctx, s, res)
		return res, nil
	}
	r.appendLog(ctx, types.TradeLog{
		SessionID: s.ID,
		UserID:    s.UserID,
		LogType:   types.LogTypeTrade,
		Message:   "market order submitted",
		Signal:    res.Signal,
		Units:     order.SignedUnits(),
		Price:     res.Order.Price,
		TxID:      res.Order.OrderCreateTxID,
	})
	return res, nil
}

func (r *Runner) appendSignalLog(ctx context.Context, s types.TradingSession, res *types.JobResult) {
	r.appendLog(ctx, types.TradeLog{
		SessionID: s.ID,
		UserID:    s.UserID,
		LogType:   types.LogTypeSignal,
		Message:   res.SkipReason,
		Signal:    res.Signal,
		Price:     decimal.NewFromFloat(res.Price),
	})
}

func (r *Runner) appendLog(ctx context.Context, entry types.TradeLog) {
	if err := r.store.AppendTradeLog(ctx, entry); err != nil {
		logger.Warn(ctx, "Failed to append session log", "session_id", entry.SessionID, "error", err)
	}
}

func reverse(sig types.SignalType) types.SignalType {
	switch sig {
	case types.SignalBuy:
		return types.SignalSell
	case types.SignalSell:
		return types.SignalBuy
	}
	return sig
}
