// Package orchestrator is the client side coordinator for forward testing.
// It starts and stops sessions in the registry, owns the broker credential
// shared by the background services, and reconciles its cached belief about
// the user's sessions against the registry.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/types"
)

// Heartbeat is the keepalive surface the orchestrator drives.
type Heartbeat interface {
	Start(ctx context.Context, cred types.Credential) error
	Stop()
}

// SignalLoop is the poller surface the orchestrator drives.
type SignalLoop interface {
	Start(ctx context.Context, cred types.Credential, strategy types.Strategy, intervalSeconds int, onResult func(types.Signal)) error
	Stop()
}

type Config struct {
	UserID string
	// Debounce drops reconcile requests arriving sooner than this after the last check.
	Debounce time.Duration
	// Interval is the reconciler's fixed cadence.
	Interval time.Duration
	// AutoResolve lets the reconciler stop all sessions on a strategy mismatch.
	AutoResolve bool
	// MonitorIntervalSeconds is used when a session start also starts the monitor.
	MonitorIntervalSeconds int
}

type Orchestrator struct {
	registry  interfaces.SessionRegistry
	heartbeat Heartbeat
	monitor   SignalLoop
	cfg       Config
	now       func() time.Time

	// opMu serializes Toggle, SetCredential, Reconcile and ResolveMismatch.
	opMu sync.Mutex

	// checkMu serializes reconcile checks; lastCheck is guarded by it.
	checkMu   sync.Mutex
	lastCheck time.Time

	mu       sync.Mutex
	cred     types.Credential
	selected types.Strategy
	bound    *types.Strategy
	active   bool
	belief   Belief
}

// New wires the orchestrator. heartbeat and monitor may be nil.
func New(registry interfaces.SessionRegistry, heartbeat Heartbeat, monitor SignalLoop, cfg Config) *Orchestrator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.MonitorIntervalSeconds <= 0 {
		cfg.MonitorIntervalSeconds = 60
	}
	return &Orchestrator{
		registry:  registry,
		heartbeat: heartbeat,
		monitor:   monitor,
		cfg:       cfg,
		now:       time.Now,
		belief:    Belief{State: BeliefUnknown},
	}
}

// SelectStrategy records the strategy currently chosen by the user. It does
// not touch a running session; the mismatch detector compares against it.
func (o *Orchestrator) SelectStrategy(strategy types.Strategy) {
	o.mu.Lock()
	o.selected = strategy
	o.mu.Unlock()
}

func (o *Orchestrator) Selected() types.Strategy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selected
}

func (o *Orchestrator) Credential() types.Credential {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cred
}

// SetCredential replaces the shared credential. Dependents are stopped and
// then restarted with the new value, never updated in place.
func (o *Orchestrator) SetCredential(ctx context.Context, cred types.Credential) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	prev := o.cred
	o.cred = cred
	active := o.active
	var bound types.Strategy
	if o.bound != nil {
		bound = *o.bound
	}
	o.mu.Unlock()

	if o.monitor != nil {
		o.monitor.Stop()
	}
	if o.heartbeat != nil {
		o.heartbeat.Stop()
	}

	if prev.Fingerprint() != cred.Fingerprint() {
		logger.Info(ctx, "Broker credential changed", "credential", cred)
	}
	if !cred.Valid() {
		return nil
	}

	if o.heartbeat != nil {
		if err := o.heartbeat.Start(ctx, cred); err != nil {
			return err
		}
	}
	if active && o.monitor != nil && bound.Selected() {
		o.startMonitor(ctx, cred, bound)
	}
	return nil
}

// Toggle flips forward testing for the configured user. It returns the new
// local flag. A belief older than the debounce window is refreshed from the
// registry first, so the flip follows the server. Starting without a valid
// credential or a selected strategy is a no-op that reports ErrConfiguration.
func (o *Orchestrator) Toggle(ctx context.Context, strategy types.Strategy, cred types.Credential) (bool, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	active := o.active
	stale := o.belief.Stale(o.now(), o.cfg.Debounce)
	o.mu.Unlock()

	if stale {
		sessions, err := o.registry.GetActiveSessions(ctx, o.cfg.UserID)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to refresh session state before toggle", err, "user_id", o.cfg.UserID)
			return active, err
		}
		if change := o.applySessions(ctx, sessions); change.stopped {
			o.monitor.Stop()
		}
		active = len(sessions) > 0
	}

	if active {
		if err := o.registry.StopAllSessions(ctx, o.cfg.UserID); err != nil {
			logger.ErrorWithErr(ctx, "Failed to stop forward testing", err, "user_id", o.cfg.UserID)
			return true, err
		}
		if o.monitor != nil {
			o.monitor.Stop()
		}
		o.mu.Lock()
		o.active = false
		o.bound = nil
		o.setBeliefLocked(ctx, BeliefInactive)
		o.mu.Unlock()
		logger.Info(ctx, "Forward testing stopped", "user_id", o.cfg.UserID)
		return false, nil
	}

	if !cred.Valid() {
		return false, types.ConfigErrorf("connect a broker account before starting forward testing")
	}
	if !strategy.Selected() {
		return false, types.ConfigErrorf("select a strategy before starting forward testing")
	}

	session, err := o.registry.CreateSession(ctx, o.cfg.UserID, strategy, cred)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to start forward testing", err, "user_id", o.cfg.UserID, "strategy_id", strategy.ID)
		return false, err
	}

	o.mu.Lock()
	o.active = true
	bound := strategy
	o.bound = &bound
	o.selected = strategy
	o.setBeliefLocked(ctx, BeliefActive)
	o.mu.Unlock()

	logger.Info(ctx, "Forward testing started",
		"user_id", o.cfg.UserID,
		"session_id", session.ID,
		"strategy_id", strategy.ID,
		"credential", cred,
	)

	if o.monitor != nil {
		o.startMonitor(ctx, cred, strategy)
	}
	return true, nil
}

func (o *Orchestrator) startMonitor(ctx context.Context, cred types.Credential, strategy types.Strategy) {
	if err := o.monitor.Start(ctx, cred, strategy, o.cfg.MonitorIntervalSeconds, nil); err != nil {
		logger.Warn(ctx, "Signal monitor did not start", "strategy_id", strategy.ID, "error", err)
	}
}

// IsActive is the local flag. It is a cache; use Belief for its freshness.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// BoundStrategy returns the strategy of the session this client started, if any.
func (o *Orchestrator) BoundStrategy() (types.Strategy, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bound == nil {
		return types.Strategy{}, false
	}
	return *o.bound, true
}

func (o *Orchestrator) GetStats(ctx context.Context) (types.TradingStats, error) {
	return o.registry.Stats(ctx, o.cfg.UserID)
}
