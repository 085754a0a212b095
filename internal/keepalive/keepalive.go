// Package keepalive keeps one broker credential warm by pinging the account
// endpoint on a fixed cadence. Failures never stop the loop; a watchdog
// restarts the loop if it dies while a credential is still configured.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/metrics"
	"fx-forward-runner/internal/types"
)

type Config struct {
	Interval         time.Duration
	FailureThreshold int
	WatchdogInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:         4 * time.Minute,
		FailureThreshold: 3,
		WatchdogInterval: time.Minute,
	}
}

type Service struct {
	broker interfaces.Broker
	cfg    Config
	now    func() time.Time

	// opMu serializes Start, Stop and watchdog restarts.
	opMu   sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}

	wdCancel context.CancelFunc
	wdDone   chan struct{}

	// mu guards cred, state and gen, which the loop goroutine writes.
	mu    sync.Mutex
	cred  types.Credential
	state types.ConnectionState
	gen   uint64
}

func New(broker interfaces.Broker, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}
	return &Service{
		broker: broker,
		cfg:    cfg,
		now:    time.Now,
		state:  types.ConnectionState{Status: types.ConnIdle},
	}
}

// Start begins heartbeating for cred. Starting again with the same
// fingerprint only refreshes the stored API key.
func (s *Service) Start(ctx context.Context, cred types.Credential) error {
	if !cred.Valid() {
		return types.ConfigErrorf("keepalive needs a complete credential")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	fp := cred.Fingerprint()

	s.mu.Lock()
	same := s.state.Fingerprint == fp
	if same {
		s.cred = cred
	}
	s.mu.Unlock()

	if same && s.loopAlive() {
		return nil
	}

	s.stopLoopLocked()

	s.mu.Lock()
	s.cred = cred
	s.state = types.ConnectionState{Fingerprint: fp, Status: types.ConnIdle}
	s.mu.Unlock()

	s.parent = ctx
	s.startLoopLocked(ctx)
	if s.wdCancel == nil {
		s.armWatchdogLocked(ctx)
	}

	logger.Info(ctx, "Keepalive started", "credential", cred, "interval", s.cfg.Interval.String())
	return nil
}

// Stop cancels the heartbeat and the watchdog and resets the state to IDLE.
func (s *Service) Stop() {
	s.opMu.Lock()
	wdDone := s.wdDone
	if s.wdCancel != nil {
		s.wdCancel()
	}
	s.wdCancel, s.wdDone = nil, nil

	s.stopLoopLocked()

	s.mu.Lock()
	wasRunning := s.state.Fingerprint != ""
	s.cred = types.Credential{}
	s.state = types.ConnectionState{Status: types.ConnIdle}
	s.gen++
	s.mu.Unlock()
	s.opMu.Unlock()

	if wdDone != nil {
		<-wdDone
	}
	metrics.ConnectionUp.Set(0)
	if wasRunning {
		logger.Info(context.Background(), "Keepalive stopped")
	}
}

func (s *Service) State() types.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive is true while the loop runs and the last successful heartbeat is
// no older than two intervals.
func (s *Service) IsActive() bool {
	s.opMu.Lock()
	alive := s.loopAlive()
	s.opMu.Unlock()
	if !alive {
		return false
	}

	s.mu.Lock()
	last := s.state.LastHeartbeatAt
	s.mu.Unlock()
	return !last.IsZero() && s.now().Sub(last) <= 2*s.cfg.Interval
}

func (s *Service) loopAlive() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Service) startLoopLocked(parent context.Context) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(ctx, gen, done)
}

func (s *Service) stopLoopLocked() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.cancel, s.done = nil, nil
}

func (s *Service) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWithErr(ctx, "Heartbeat loop crashed", fmt.Errorf("panic: %v", r))
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.ping(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ping(ctx, gen)
		}
	}
}

func (s *Service) ping(ctx context.Context, gen uint64) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	_, err := s.broker.GetAccount(ctx, cred)
	if ctx.Err() != nil {
		return
	}
	s.record(ctx, gen, err)
}

// record applies one heartbeat outcome. Results from a superseded loop are dropped.
func (s *Service) record(ctx context.Context, gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	prev := s.state.Status
	if err == nil {
		s.state.LastHeartbeatAt = s.now()
		s.state.ConsecutiveFailures = 0
		s.state.LastError = ""
		s.state.Status = types.ConnConnected
	} else {
		s.state.ConsecutiveFailures++
		s.state.LastError = err.Error()
		if errors.Is(err, types.ErrAuth) || s.state.ConsecutiveFailures >= s.cfg.FailureThreshold {
			s.state.Status = types.ConnError
		}
	}
	st := s.state
	s.mu.Unlock()

	if err != nil {
		metrics.HeartbeatFailures.Inc()
		logger.Debug(ctx, "Heartbeat failed", "error", err, "consecutive_failures", st.ConsecutiveFailures)
	}
	if st.Status != prev {
		if st.Status == types.ConnConnected {
			metrics.ConnectionUp.Set(1)
		} else {
			metrics.ConnectionUp.Set(0)
		}
		logger.Heartbeat(ctx, st.Fingerprint, string(st.Status), st.ConsecutiveFailures, "last_error", st.LastError)
	}
}

func (s *Service) armWatchdogLocked(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.wdCancel, s.wdDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.WatchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.heal(ctx)
			}
		}
	}()
}

func (s *Service) heal(wdCtx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if wdCtx.Err() != nil || s.parent == nil || s.parent.Err() != nil {
		return
	}

	s.mu.Lock()
	configured := s.cred.Valid()
	s.mu.Unlock()

	if configured && !s.loopAlive() {
		logger.Warn(wdCtx, "Heartbeat loop not running, restarting")
		s.startLoopLocked(s.parent)
	}
}
