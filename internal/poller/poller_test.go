package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fx-forward-runner/internal/broker/brokertest"
	"fx-forward-runner/internal/types"
)

var (
	cred     = types.Credential{AccountID: "1234", APIKey: "k", Environment: types.EnvPractice}
	strategy = types.Strategy{ID: "strat-a", Code: "fake", Symbol: "EUR/USD", Timeframe: "1m"}
)

// scriptedEvaluator returns BUY on every call unless none is set.
type scriptedEvaluator struct {
	calls int32
	none  bool
}

func (e *scriptedEvaluator) Evaluate(code string, candles []types.Candle) (types.Signal, error) {
	n := atomic.AddInt32(&e.calls, 1)
	if e.none {
		return types.Signal{Type: types.SignalNone}, nil
	}
	return types.Signal{Type: types.SignalBuy, Confidence: float64(n), Price: 1.1}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingPublisher) Publish(eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func fastPoller(p *Poller) *Poller {
	p.unit = time.Millisecond
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAutoTesterIntervalBounds(t *testing.T) {
	p := NewAutoTester(&brokertest.Fake{}, &scriptedEvaluator{}, nil, Config{})
	defer p.Stop()

	for _, bad := range []int{0, 5, 9, 301} {
		if err := p.Start(context.Background(), cred, strategy, bad, nil); !errors.Is(err, types.ErrInvalidInterval) {
			t.Errorf("interval %d: expected ErrInvalidInterval, got %v", bad, err)
		}
	}
	if p.IsActive() {
		t.Error("Expected rejected starts to leave the poller inactive")
	}
	if err := p.Start(context.Background(), cred, strategy, 10, nil); err != nil {
		t.Errorf("Expected 10 to be accepted, got %v", err)
	}
	if err := p.Start(context.Background(), cred, strategy, 300, nil); err != nil {
		t.Errorf("Expected 300 to be accepted, got %v", err)
	}
}

func TestMonitorRejectsNonPositiveInterval(t *testing.T) {
	p := NewMonitor(&brokertest.Fake{}, &scriptedEvaluator{}, nil, Config{})
	if err := p.Start(context.Background(), cred, strategy, 0, nil); !errors.Is(err, types.ErrInvalidInterval) {
		t.Errorf("Expected ErrInvalidInterval, got %v", err)
	}
	if err := p.Start(context.Background(), cred, types.Strategy{}, 60, nil); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Expected configuration error without a strategy, got %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	pub := &recordingPublisher{}
	var received int32
	p := fastPoller(NewMonitor(&brokertest.Fake{}, &scriptedEvaluator{}, pub, Config{HistorySize: 20}))
	defer p.Stop()

	err := p.Start(context.Background(), cred, strategy, 1, func(types.Signal) { atomic.AddInt32(&received, 1) })
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Status().TickCount >= 25 })
	p.Stop()

	hist := p.History()
	if len(hist) != 20 {
		t.Fatalf("Expected 20 retained signals, got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Confidence <= hist[i-1].Confidence {
			t.Fatalf("Expected oldest-first order, got %v then %v", hist[i-1].Confidence, hist[i].Confidence)
		}
	}
	ticks := p.Status().TickCount
	if hist[0].Confidence != float64(ticks-19) {
		t.Errorf("Expected the oldest entries to be dropped, first=%v ticks=%d", hist[0].Confidence, ticks)
	}
	if int64(atomic.LoadInt32(&received)) != ticks || int64(pub.count()) != ticks {
		t.Errorf("Expected every signal delivered, ticks=%d callback=%d published=%d", ticks, received, pub.count())
	}
	if hist[0].Symbol != "EUR_USD" {
		t.Errorf("Expected normalized symbol, got %s", hist[0].Symbol)
	}
}

func TestNoneSignalsAreNotRetained(t *testing.T) {
	var received int32
	p := fastPoller(NewMonitor(&brokertest.Fake{}, &scriptedEvaluator{none: true}, nil, Config{}))
	defer p.Stop()

	if err := p.Start(context.Background(), cred, strategy, 1, func(types.Signal) { atomic.AddInt32(&received, 1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Status().TickCount >= 3 })

	if len(p.History()) != 0 || atomic.LoadInt32(&received) != 0 {
		t.Errorf("Expected NONE to be dropped, history=%d callbacks=%d", len(p.History()), received)
	}
	if st := p.Status(); st.LastResult == nil || st.LastResult.Type != types.SignalNone {
		t.Errorf("Expected lastResult to record NONE, got %+v", st.LastResult)
	}
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	release := make(chan struct{})
	fake := &brokertest.Fake{CandlesFn: func(string, string, int) ([]types.Candle, error) {
		<-release
		return nil, nil
	}}
	p := fastPoller(NewMonitor(fake, &scriptedEvaluator{}, nil, Config{}))

	if err := p.Start(context.Background(), cred, strategy, 1, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Status().SkippedTicks >= 3 })
	if fake.Calls("Candles") != 1 {
		t.Errorf("Expected a single in-flight fetch, got %d", fake.Calls("Candles"))
	}

	close(release)
	waitFor(t, func() bool { return p.Status().TickCount >= 2 })
	p.Stop()
}

func TestErrorsAreSwallowed(t *testing.T) {
	fake := &brokertest.Fake{CandlesFn: func(string, string, int) ([]types.Candle, error) {
		return nil, types.ErrTransientBroker
	}}
	p := fastPoller(NewAutoTester(fake, &scriptedEvaluator{}, nil, Config{MinIntervalSeconds: 1}))
	defer p.Stop()

	if err := p.Start(context.Background(), cred, strategy, 1, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Status().Errors >= 3 })

	st := p.Status()
	if !st.IsActive {
		t.Error("Expected the loop to keep running after errors")
	}
	if st.LastError == "" {
		t.Error("Expected LastError to be recorded")
	}
}

func TestStopPreventsFurtherTicks(t *testing.T) {
	fake := &brokertest.Fake{}
	p := fastPoller(NewMonitor(fake, &scriptedEvaluator{}, nil, Config{}))

	if err := p.Start(context.Background(), cred, strategy, 1, nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.Status().TickCount >= 2 })
	p.Stop()

	calls := fake.Calls("Candles")
	time.Sleep(20 * time.Millisecond)
	if fake.Calls("Candles") != calls {
		t.Errorf("Expected no ticks after Stop, got %d more", fake.Calls("Candles")-calls)
	}
	if p.IsActive() {
		t.Error("Expected inactive after Stop")
	}
}

func TestRestartReplacesLoop(t *testing.T) {
	var first, second int32
	p := fastPoller(NewMonitor(&brokertest.Fake{}, &scriptedEvaluator{}, nil, Config{}))
	defer p.Stop()

	if err := p.Start(context.Background(), cred, strategy, 1, func(types.Signal) { atomic.AddInt32(&first, 1) }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&first) >= 1 })

	if err := p.Start(context.Background(), cred, strategy, 1, func(types.Signal) { atomic.AddInt32(&second, 1) }); err != nil {
		t.Fatal(err)
	}
	before := atomic.LoadInt32(&first)
	waitFor(t, func() bool { return atomic.LoadInt32(&second) >= 3 })
	if atomic.LoadInt32(&first) != before {
		t.Error("Expected the first loop to be gone after restart")
	}
}

func TestRunSingleTestLeavesCountersAlone(t *testing.T) {
	fake := &brokertest.Fake{}
	p := NewAutoTester(fake, &scriptedEvaluator{}, nil, Config{})

	sig, err := p.RunSingleTest(context.Background(), cred, strategy)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if sig.Type != types.SignalBuy || sig.Symbol != "EUR_USD" {
		t.Errorf("Unexpected signal %+v", sig)
	}
	st := p.Status()
	if st.TickCount != 0 || len(p.History()) != 0 || st.LastResult != nil {
		t.Errorf("Expected untouched status, got %+v", st)
	}
	if fake.Calls("Candles") != 1 {
		t.Errorf("Expected exactly one fetch, got %d", fake.Calls("Candles"))
	}
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Push(types.Signal{Confidence: float64(i)})
	}
	snap := h.Snapshot()
	if len(snap) != 3 || snap[0].Confidence != 3 || snap[2].Confidence != 5 {
		t.Errorf("Expected [3 4 5], got %+v", snap)
	}
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Expected empty history, got %d", h.Len())
	}
}
