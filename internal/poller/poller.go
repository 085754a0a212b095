// Package poller runs the periodic fetch-evaluate-publish loop used by both
// the price monitor and the auto-tester.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fx-forward-runner/internal/broker/oanda"
	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/metrics"
	"fx-forward-runner/internal/types"
)

const (
	KindMonitor  = "monitor"
	KindAutoTest = "autotest"
)

type Config struct {
	// MinIntervalSeconds and MaxIntervalSeconds bound Start's interval; zero means unbounded.
	MinIntervalSeconds int
	MaxIntervalSeconds int
	HistorySize        int
	CandleCount        int
	Granularity        string
}

// ResultFunc receives every actionable signal.
type ResultFunc = func(types.Signal)

type Status struct {
	Kind            string        `json:"kind"`
	IsActive        bool          `json:"isActive"`
	StrategyID      string        `json:"strategyId,omitempty"`
	IntervalSeconds int           `json:"intervalSeconds,omitempty"`
	LastResult      *types.Signal `json:"lastResult,omitempty"`
	LastRunAt       *time.Time    `json:"lastRunAt,omitempty"`
	TickCount       int64         `json:"tickCount"`
	SkippedTicks    int64         `json:"skippedTicks"`
	Errors          int64         `json:"errors"`
	LastError       string        `json:"lastError,omitempty"`
}

// SignalEvent is what subscribers receive through the Publisher.
type SignalEvent struct {
	Poller     string       `json:"poller"`
	StrategyID string       `json:"strategyId"`
	Signal     types.Signal `json:"signal"`
}

type Poller struct {
	kind      string
	broker    interfaces.Broker
	evaluator interfaces.Evaluator
	publisher interfaces.Publisher
	cfg       Config
	history   *History
	unit      time.Duration

	opMu   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	ticks  sync.WaitGroup

	inFlight atomic.Bool

	mu       sync.Mutex
	strategy types.Strategy
	status   Status
}

// NewMonitor builds the live price monitor; any positive interval is accepted.
func NewMonitor(broker interfaces.Broker, evaluator interfaces.Evaluator, publisher interfaces.Publisher, cfg Config) *Poller {
	cfg.MinIntervalSeconds, cfg.MaxIntervalSeconds = 0, 0
	return newPoller(KindMonitor, broker, evaluator, publisher, cfg)
}

// NewAutoTester builds the dry-run poller whose interval is bounded by cfg.
func NewAutoTester(broker interfaces.Broker, evaluator interfaces.Evaluator, publisher interfaces.Publisher, cfg Config) *Poller {
	if cfg.MinIntervalSeconds == 0 {
		cfg.MinIntervalSeconds = 10
	}
	if cfg.MaxIntervalSeconds == 0 {
		cfg.MaxIntervalSeconds = 300
	}
	return newPoller(KindAutoTest, broker, evaluator, publisher, cfg)
}

func newPoller(kind string, broker interfaces.Broker, evaluator interfaces.Evaluator, publisher interfaces.Publisher, cfg Config) *Poller {
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 100
	}
	if cfg.Granularity == "" {
		cfg.Granularity = "M1"
	}
	return &Poller{
		kind:      kind,
		broker:    broker,
		evaluator: evaluator,
		publisher: publisher,
		cfg:       cfg,
		history:   NewHistory(cfg.HistorySize),
		unit:      time.Second,
		status:    Status{Kind: kind},
	}
}

func (p *Poller) validateInterval(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: %d must be positive", types.ErrInvalidInterval, seconds)
	}
	if p.cfg.MinIntervalSeconds > 0 && seconds < p.cfg.MinIntervalSeconds ||
		p.cfg.MaxIntervalSeconds > 0 && seconds > p.cfg.MaxIntervalSeconds {
		return fmt.Errorf("%w: %d not in [%d, %d]", types.ErrInvalidInterval, seconds, p.cfg.MinIntervalSeconds, p.cfg.MaxIntervalSeconds)
	}
	return nil
}

// Start runs the loop until Stop or ctx cancellation. A running loop is
// stopped and waited for first; counters and history start fresh.
func (p *Poller) Start(ctx context.Context, cred types.Credential, strategy types.Strategy, intervalSeconds int, onResult ResultFunc) error {
	if err := p.validateInterval(intervalSeconds); err != nil {
		return err
	}
	if !cred.Valid() {
		return types.ConfigErrorf("%s poller needs a complete credential", p.kind)
	}
	if !strategy.Selected() {
		return types.ConfigErrorf("%s poller needs a selected strategy", p.kind)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.stopLocked()

	p.mu.Lock()
	p.strategy = strategy
	p.status = Status{Kind: p.kind, IsActive: true, StrategyID: strategy.ID, IntervalSeconds: intervalSeconds}
	p.mu.Unlock()
	p.history.Clear()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go p.loop(loopCtx, cred, strategy, time.Duration(intervalSeconds)*p.unit, onResult, done)

	logger.Info(ctx, "Poller started",
		"poller", p.kind,
		"strategy_id", strategy.ID,
		"symbol", strategy.Symbol,
		"interval_seconds", intervalSeconds,
	)
	return nil
}

// Stop cancels the loop and waits for it and any in-flight tick to return.
func (p *Poller) Stop() {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if p.stopLocked() {
		logger.Info(context.Background(), "Poller stopped", "poller", p.kind)
	}
}

func (p *Poller) stopLocked() bool {
	if p.cancel == nil {
		return false
	}
	p.cancel()
	<-p.done
	p.ticks.Wait()
	p.cancel, p.done = nil, nil

	p.mu.Lock()
	p.status.IsActive = false
	p.mu.Unlock()
	return true
}

func (p *Poller) loop(ctx context.Context, cred types.Credential, strategy types.Strategy, every time.Duration, onResult ResultFunc, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	p.fire(ctx, cred, strategy, onResult)
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.status.IsActive = false
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.fire(ctx, cred, strategy, onResult)
		}
	}
}

// fire launches a tick unless the previous one is still running.
func (p *Poller) fire(ctx context.Context, cred types.Credential, strategy types.Strategy, onResult ResultFunc) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.status.SkippedTicks++
		p.mu.Unlock()
		metrics.PollTicks.WithLabelValues(p.kind, "skipped").Inc()
		logger.Debug(ctx, "Poll tick skipped, previous tick still running", "poller", p.kind)
		return
	}

	p.ticks.Add(1)
	go func() {
		defer p.ticks.Done()
		defer p.inFlight.Store(false)
		p.tick(ctx, cred, strategy, onResult)
	}()
}

func (p *Poller) tick(ctx context.Context, cred types.Credential, strategy types.Strategy, onResult ResultFunc) {
	sig, err := p.evaluate(ctx, cred, strategy)
	if ctx.Err() != nil {
		return
	}

	now := time.Now()
	p.mu.Lock()
	p.status.TickCount++
	p.status.LastRunAt = &now
	if err != nil {
		p.status.Errors++
		p.status.LastError = err.Error()
		p.mu.Unlock()
		metrics.PollTicks.WithLabelValues(p.kind, "error").Inc()
		logger.Warn(ctx, "Poll tick failed", "poller", p.kind, "strategy_id", strategy.ID, "error", err)
		return
	}
	p.status.LastResult = &sig
	p.mu.Unlock()
	metrics.PollTicks.WithLabelValues(p.kind, "ok").Inc()

	if !sig.Actionable() {
		return
	}

	p.history.Push(sig)
	metrics.Signals.WithLabelValues(p.kind, string(sig.Type)).Inc()
	logger.Signal(ctx, sig.Symbol, string(sig.Type), sig.Confidence, sig.Price, "poller", p.kind, "strategy_id", strategy.ID)

	if onResult != nil {
		onResult(sig)
	}
	if p.publisher != nil {
		p.publisher.Publish("signal", SignalEvent{Poller: p.kind, StrategyID: strategy.ID, Signal: sig})
	}
}

func (p *Poller) evaluate(ctx context.Context, cred types.Credential, strategy types.Strategy) (types.Signal, error) {
	instrument := oanda.Instrument(strategy.Symbol)
	candles, err := p.broker.Candles(ctx, cred, instrument, oanda.Granularity(strategy.Timeframe, p.cfg.Granularity), p.cfg.CandleCount)
	if err != nil {
		return types.Signal{}, fmt.Errorf("fetch candles: %w", err)
	}
	sig, err := p.evaluator.Evaluate(strategy.Code, candles)
	if err != nil {
		return types.Signal{}, fmt.Errorf("evaluate strategy: %w", err)
	}
	sig.Symbol = instrument
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	return sig, nil
}

// RunSingleTest evaluates once, outside the schedule. It leaves counters and
// history untouched.
func (p *Poller) RunSingleTest(ctx context.Context, cred types.Credential, strategy types.Strategy) (types.Signal, error) {
	if !cred.Valid() {
		return types.Signal{}, types.ConfigErrorf("single test needs a complete credential")
	}
	if !strategy.Selected() {
		return types.Signal{}, types.ConfigErrorf("single test needs a selected strategy")
	}
	return p.evaluate(ctx, cred, strategy)
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	if st.LastResult != nil {
		r := *st.LastResult
		st.LastResult = &r
	}
	return st
}

func (p *Poller) IsActive() bool {
	return p.Status().IsActive
}

func (p *Poller) History() []types.Signal {
	return p.history.Snapshot()
}

func (p *Poller) ClearHistory() {
	p.history.Clear()
	p.mu.Lock()
	p.status.LastResult = nil
	p.mu.Unlock()
}
