package orchestrator

import (
	"context"
	"time"

	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/types"
)

type BeliefState string

const (
	BeliefUnknown  BeliefState = "UNKNOWN"
	BeliefActive   BeliefState = "ACTIVE"
	BeliefInactive BeliefState = "INACTIVE"
)

// Belief is the client's cached view of whether the user has an active
// session, with the time it was last confirmed.
type Belief struct {
	State     BeliefState `json:"state"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Stale reports whether the belief is unknown or older than maxAge.
func (b Belief) Stale(now time.Time, maxAge time.Duration) bool {
	return b.State == BeliefUnknown || now.Sub(b.UpdatedAt) > maxAge
}

type Mismatch struct {
	Conflict           bool     `json:"conflict"`
	ServerStrategyIDs  []string `json:"serverStrategyIds"`
	SelectedStrategyID string   `json:"selectedStrategyId"`
}

func (o *Orchestrator) Belief() Belief {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.belief
}

func (o *Orchestrator) setBeliefLocked(ctx context.Context, state BeliefState) {
	prev := o.belief.State
	o.belief = Belief{State: state, UpdatedAt: o.now()}
	if prev != state {
		logger.Info(ctx, "Session belief changed", "user_id", o.cfg.UserID, "from", prev, "to", state)
	}
}

// Reconcile refreshes the belief from the registry. Requests within the
// debounce window of the previous check are dropped and return false. A
// registry failure leaves the belief untouched. Following the server into
// ACTIVE starts the monitor; following it into INACTIVE stops it.
func (o *Orchestrator) Reconcile(ctx context.Context) (bool, error) {
	o.checkMu.Lock()
	defer o.checkMu.Unlock()

	now := o.now()
	if !o.lastCheck.IsZero() && now.Sub(o.lastCheck) < o.cfg.Debounce {
		logger.Debug(ctx, "Reconcile dropped by debounce", "user_id", o.cfg.UserID)
		return false, nil
	}
	o.lastCheck = now

	o.opMu.Lock()
	defer o.opMu.Unlock()

	sessions, err := o.registry.GetActiveSessions(ctx, o.cfg.UserID)
	if err != nil {
		logger.Warn(ctx, "Reconcile failed, keeping cached belief", "user_id", o.cfg.UserID, "error", err)
		return true, err
	}

	change := o.applySessions(ctx, sessions)
	switch {
	case change.stopped:
		o.monitor.Stop()
	case change.started && change.cred.Valid() && change.bound.Selected():
		o.startMonitor(ctx, change.cred, change.bound)
	}
	return true, nil
}

// flagChange describes how applySessions moved the local flag. stopped and
// started are only set when a monitor is configured.
type flagChange struct {
	started, stopped bool
	cred             types.Credential
	bound            types.Strategy
}

// applySessions adopts the registry's active sessions as the local flag and
// belief. Callers hold opMu.
func (o *Orchestrator) applySessions(ctx context.Context, sessions []types.TradingSession) flagChange {
	o.mu.Lock()
	defer o.mu.Unlock()

	wasActive := o.active
	if len(sessions) > 0 {
		o.active = true
		if o.bound == nil {
			s := sessions[0].Strategy
			o.bound = &s
		}
		o.setBeliefLocked(ctx, BeliefActive)
	} else {
		o.active = false
		o.bound = nil
		o.setBeliefLocked(ctx, BeliefInactive)
	}

	var c flagChange
	if o.monitor == nil {
		return c
	}
	c.stopped = wasActive && !o.active
	c.started = !wasActive && o.active
	if c.started {
		c.cred = o.cred
		c.bound = *o.bound
	}
	return c
}

// DetectMismatch reports a conflict when any active server session is bound
// to a strategy other than the one selected on this client.
func (o *Orchestrator) DetectMismatch(ctx context.Context) (Mismatch, error) {
	selected := o.Selected()
	m := Mismatch{SelectedStrategyID: selected.ID}

	sessions, err := o.registry.GetActiveSessions(ctx, o.cfg.UserID)
	if err != nil {
		return m, err
	}
	for _, s := range sessions {
		m.ServerStrategyIDs = append(m.ServerStrategyIDs, s.StrategyID)
		if s.StrategyID != selected.ID {
			m.Conflict = true
		}
	}
	if m.Conflict {
		logger.Warn(ctx, "Session strategy mismatch",
			"user_id", o.cfg.UserID,
			"selected_strategy_id", selected.ID,
			"server_strategy_ids", m.ServerStrategyIDs,
		)
	}
	return m, nil
}

// ResolveMismatch stops every active session of the user, not only the
// mismatched ones, and marks the belief INACTIVE.
func (o *Orchestrator) ResolveMismatch(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := o.registry.StopAllSessions(ctx, o.cfg.UserID); err != nil {
		logger.ErrorWithErr(ctx, "Failed to resolve session mismatch", err, "user_id", o.cfg.UserID)
		return err
	}
	if o.monitor != nil {
		o.monitor.Stop()
	}

	o.mu.Lock()
	o.active = false
	o.bound = nil
	o.setBeliefLocked(ctx, BeliefInactive)
	o.mu.Unlock()

	logger.Info(ctx, "Session mismatch resolved, all sessions stopped", "user_id", o.cfg.UserID)
	return nil
}

// RunReconciler checks eagerly once and then on the configured interval
// until ctx is done.
func (o *Orchestrator) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.reconcileTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reconcileTick(ctx)
		}
	}
}

func (o *Orchestrator) reconcileTick(ctx context.Context) {
	ran, err := o.Reconcile(ctx)
	if !ran || err != nil || !o.cfg.AutoResolve {
		return
	}
	if selected := o.Selected(); !selected.Selected() {
		return
	}
	if m, err := o.DetectMismatch(ctx); err == nil && m.Conflict {
		_ = o.ResolveMismatch(ctx)
	}
}
