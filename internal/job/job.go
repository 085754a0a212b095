// Package job is the scheduled strategy runner. Each invocation fetches
// fresh candles, checks for a moving average crossover and, on a signal,
// submits a market order. Nothing is remembered between invocations; the
// broker's open position is the only state consulted.
package job

import (
	"context"
	"fmt"
	"math"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/metrics"
	"fx-forward-runner/internal/store"
	"fx-forward-runner/internal/ta"
	"fx-forward-runner/internal/tradelog"
	"fx-forward-runner/internal/types"

	"github.com/shopspring/decimal"
)

const (
	// pipSize converts pips to a price distance for four decimal quotes.
	pipSize = 0.0001
	// minSessionUnits is the smallest risk sized order worth sending.
	minSessionUnits = 100
)

type Config struct {
	Instrument   string
	Granularity  string
	ShortWindow  int
	LongWindow   int
	CandleMargin int
	Units        int64
	// SkipIfPositionOpen checks the broker before ordering so a repeated
	// trigger on the same cross does not stack positions.
	SkipIfPositionOpen bool
	// DryRun evaluates and logs but never orders.
	DryRun  bool
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Instrument:         "EUR_USD",
		Granularity:        "M1",
		ShortWindow:        10,
		LongWindow:         20,
		CandleMargin:       5,
		Units:              100,
		SkipIfPositionOpen: true,
		LockTTL:            55 * time.Second,
	}
}

// Deps are the collaborators of a Runner. Store, Lock and Trades are optional.
type Deps struct {
	Broker     interfaces.Broker
	Credential types.Credential
	Store      interfaces.ExecutionStore
	Lock       interfaces.Lock
	Trades     *tradelog.Writer
}

type Runner struct {
	cfg    Config
	broker interfaces.Broker
	cred   types.Credential
	store  interfaces.ExecutionStore
	lock   interfaces.Lock
	trades *tradelog.Writer
}

var _ interfaces.Job = (*Runner)(nil)

func New(cfg Config, deps Deps) *Runner {
	def := DefaultConfig()
	if cfg.Instrument == "" {
		cfg.Instrument = def.Instrument
	}
	if cfg.Granularity == "" {
		cfg.Granularity = def.Granularity
	}
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = def.ShortWindow
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = def.LongWindow
	}
	if cfg.CandleMargin < 0 {
		cfg.CandleMargin = 0
	}
	if cfg.Units <= 0 {
		cfg.Units = def.Units
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	lock := deps.Lock
	if lock == nil {
		lock = noLock{}
	}
	return &Runner{
		cfg:    cfg,
		broker: deps.Broker,
		cred:   deps.Credential,
		store:  deps.Store,
		lock:   lock,
		trades: deps.Trades,
	}
}

type noLock struct{}

func (noLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// crossover fetches LongWindow+CandleMargin candles and computes both
// averages on the full series and without its last candle.
func (r *Runner) crossover(ctx context.Context, cred types.Credential, instrument, granularity string) (ta.Crossover, float64, error) {
	count := r.cfg.LongWindow + r.cfg.CandleMargin
	candles, err := r.broker.Candles(ctx, cred, instrument, granularity, count)
	if err != nil {
		return ta.Crossover{}, 0, fmt.Errorf("fetch candles: %w", err)
	}
	closes := types.Closes(candles)
	x, ok := ta.SMACrossover(closes, r.cfg.ShortWindow, r.cfg.LongWindow)
	if !ok {
		return ta.Crossover{}, 0, fmt.Errorf("%w: have %d, need %d", types.ErrNotEnoughCandles, len(closes), r.cfg.LongWindow+1)
	}
	return x, closes[len(closes)-1], nil
}

func newResult(instrument string, x ta.Crossover, price float64) *types.JobResult {
	return &types.JobResult{
		Instrument:  instrument,
		Signal:      types.SignalNone,
		ShortMA:     x.Short,
		LongMA:      x.Long,
		PrevShortMA: x.PrevShort,
		PrevLongMA:  x.PrevLong,
		Price:       price,
	}
}

// Run checks the configured instrument with the configured credential. Only
// the bullish cross produces a signal here.
func (r *Runner) Run(ctx context.Context) (*types.JobResult, error) {
	if !r.cred.Valid() {
		return nil, types.ConfigErrorf("strategy runner needs a complete broker credential")
	}

	release, ok, err := r.lock.Acquire(ctx, "strategy-runner:"+r.cfg.Instrument, r.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info(ctx, "Strategy check skipped, another run holds the lock", "instrument", r.cfg.Instrument)
		return &types.JobResult{Instrument: r.cfg.Instrument, Signal: types.SignalNone, SkipReason: "another run in progress"}, nil
	}
	defer release()

	logger.Info(ctx, "Strategy check", "instrument", r.cfg.Instrument, "credential", r.cred)

	x, price, err := r.crossover(ctx, r.cred, r.cfg.Instrument, r.cfg.Granularity)
	if err != nil {
		return nil, err
	}
	res := newResult(r.cfg.Instrument, x, price)

	logger.Info(ctx, "Latest moving averages",
		"instrument", r.cfg.Instrument,
		"short_ma", x.Short,
		"long_ma", x.Long,
		"prev_short_ma", x.PrevShort,
		"prev_long_ma", x.PrevLong,
	)

	if !x.CrossedUp() {
		metrics.JobRuns.WithLabelValues(string(types.SignalNone)).Inc()
		r.recordSignal("", res, "no crossover")
		return res, nil
	}

	res.Signal = types.SignalBuy
	metrics.JobRuns.WithLabelValues(string(types.SignalBuy)).Inc()
	logger.Signal(ctx, r.cfg.Instrument, string(types.SignalBuy), 1, price, "short_ma", x.Short, "long_ma", x.Long)

	order := types.Order{
		Instrument: r.cfg.Instrument,
		Side:       types.SideBuy,
		Units:      decimal.NewFromInt(r.cfg.Units),
	}
	if err := r.submit(ctx, r.cred, "", order, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ClosePosition flattens the configured credential's position on
// instrument, or on the configured instrument when empty. The latest mid
// price is reported alongside.
func (r *Runner) ClosePosition(ctx context.Context, instrument string) (*types.CloseResult, error) {
	if !r.cred.Valid() {
		return nil, types.ConfigErrorf("closing a position needs a complete broker credential")
	}
	if instrument == "" {
		instrument = r.cfg.Instrument
	}

	price, err := r.broker.LatestPrice(ctx, r.cred, instrument)
	if err != nil {
		return nil, fmt.Errorf("latest price: %w", err)
	}
	res := &types.CloseResult{Instrument: instrument, Price: price}

	if r.cfg.DryRun {
		res.SkipReason = "dry run"
		logger.Info(ctx, "Dry run, position not closed", "instrument", instrument, "price", price)
		return res, nil
	}

	if err := r.broker.ClosePosition(ctx, r.cred, instrument); err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}
	res.Closed = true
	logger.Info(ctx, "Position closed", "instrument", instrument, "price", price)

	if r.trades != nil {
		err := r.trades.AppendOrder(tradelog.OrderEntry{
			Instrument: instrument,
			Side:       "CLOSE",
			Units:      "ALL",
			Price:      decimal.NewFromFloat(price).String(),
			Filled:     true,
		})
		if err != nil {
			logger.Warn(ctx, "Failed to append trade log", "error", err)
		}
	}
	return res, nil
}

// submit applies the dry run and open position guards, then orders. The
// outcome is written into res.
func (r *Runner) submit(ctx context.Context, cred types.Credential, sessionID string, order types.Order, res *types.JobResult) error {
	if r.cfg.DryRun {
		res.SkipReason = "dry run"
		logger.Info(ctx, "Dry run, order not submitted", "instrument", order.Instrument, "side", order.Side, "units", order.Units.String())
		r.recordSignal(sessionID, res, res.SkipReason)
		return nil
	}

	if r.cfg.SkipIfPositionOpen {
		pos, err := r.broker.OpenPosition(ctx, cred, order.Instrument)
		if err != nil {
			return fmt.Errorf("check open position: %w", err)
		}
		if pos.Open() {
			res.SkipReason = "position already open"
			logger.Info(ctx, "Position already open, order not submitted",
				"instrument", order.Instrument,
				"long_units", pos.LongUnits.String(),
				"short_units", pos.ShortUnits.String(),
			)
			r.recordSignal(sessionID, res, res.SkipReason)
			return nil
		}
	}

	out, err := r.broker.PlaceMarketOrder(ctx, cred, order)
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}
	res.OrderSubmitted = true
	res.Order = &out

	logger.Trade(ctx, order.Instrument, string(order.Side), order.Units.String(), out.OrderCreateTxID, out.OrderFillTxID,
		"session_id", sessionID,
		"filled", out.Filled,
		"price", out.Price.String(),
	)
	if r.trades != nil {
		err := r.trades.AppendOrder(tradelog.OrderEntry{
			SessionID:  sessionID,
			Instrument: order.Instrument,
			Side:       string(order.Side),
			Units:      order.Units.String(),
			CreateTxID: out.OrderCreateTxID,
			FillTxID:   out.OrderFillTxID,
			Price:      out.Price.String(),
			Filled:     out.Filled,
		})
		if err != nil {
			logger.Warn(ctx, "Failed to append trade log", "error", err)
		}
	}
	return nil
}

func (r *Runner) recordSignal(sessionID string, res *types.JobResult, reason string) {
	if r.trades == nil {
		return
	}
	_ = r.trades.AppendSignal(tradelog.SignalEntry{
		SessionID:   sessionID,
		Instrument:  res.Instrument,
		Signal:      string(res.Signal),
		Reason:      reason,
		ShortMA:     res.ShortMA,
		LongMA:      res.LongMA,
		PrevShortMA: res.PrevShortMA,
		PrevLongMA:  res.PrevLongMA,
		Price:       res.Price,
	})
}

// sessionUnits sizes an order from the session's risk settings. With no
// risk per trade the configured fixed size applies, capped by the maximum.
func (r *Runner) sessionUnits(ctx context.Context, s types.TradingSession, price float64) (int64, error) {
	risk := s.Strategy.Risk
	units := r.cfg.Units
	if risk.RiskPerTrade > 0 && price > 0 {
		acct, err := r.broker.GetAccount(ctx, s.Credential)
		if err != nil {
			return 0, fmt.Errorf("fetch account: %w", err)
		}
		balance, _ := acct.Balance.Float64()
		riskAmount := balance * risk.RiskPerTrade / 100
		stopDistance := price * 0.01
		units = int64(math.Floor(riskAmount / stopDistance))
	}
	maxSize := risk.MaxPositionSize
	if maxSize <= 0 && risk.RiskPerTrade > 0 {
		maxSize = 10000
	}
	if maxSize > 0 && units > maxSize {
		units = maxSize
	}
	return units, nil
}

func pipsDistance(pips float64) *decimal.Decimal {
	if pips <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(pips).Mul(decimal.NewFromFloat(pipSize))
	return &d
}

// ConfigFrom maps the job section of the loaded config. Mode DRY_RUN
// turns on DryRun.
func ConfigFrom(c *store.Config) Config {
	cfg := Config{
		Instrument:         c.Job.Instrument,
		Granularity:        c.Job.Granularity,
		ShortWindow:        c.Job.ShortWindow,
		LongWindow:         c.Job.LongWindow,
		CandleMargin:       c.Job.CandleMargin,
		Units:              c.Job.Units,
		SkipIfPositionOpen: true,
		DryRun:             c.Mode == "DRY_RUN",
		LockTTL:            c.LockTTL(),
	}
	if c.Job.SkipIfPositionOpen != nil {
		cfg.SkipIfPositionOpen = *c.Job.SkipIfPositionOpen
	}
	return cfg
}
