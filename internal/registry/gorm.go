package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trade log types written by the scheduled job.
const (
	LogTypeTrade  = types.LogTypeTrade
	LogTypeSignal = types.LogTypeSignal
	LogTypeError  = types.LogTypeError
)

type Options struct {
	// EnforceSingleActive rejects a second ACTIVE session for the same user.
	EnforceSingleActive bool
}

type GormRegistry struct {
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

var (
	_ interfaces.SessionRegistry = (*GormRegistry)(nil)
	_ interfaces.ExecutionStore  = (*GormRegistry)(nil)
)

func NewGormRegistry(db *gorm.DB, opts Options) *GormRegistry {
	return &GormRegistry{db: db, opts: opts, now: time.Now}
}

// Migrate creates the tables and, when single-active is enforced, a partial
// unique index so concurrent creates cannot both succeed.
func Migrate(db *gorm.DB, enforceSingleActive bool) error {
	if err := db.AutoMigrate(&SessionModel{}, &TradeLogModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if enforceSingleActive {
		err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_trading_sessions_one_active ON trading_sessions (user_id) WHERE status = 'ACTIVE'").Error
		if err != nil {
			return fmt.Errorf("create single active index: %w", err)
		}
	}
	return nil
}

func registryErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrRegistry, op, err)
}

func (r *GormRegistry) CreateSession(ctx context.Context, userID string, strategy types.Strategy, cred types.Credential) (types.TradingSession, error) {
	if userID == "" {
		return types.TradingSession{}, types.ConfigErrorf("user id is required")
	}
	if !strategy.Selected() {
		return types.TradingSession{}, types.ConfigErrorf("a strategy must be selected")
	}
	if !cred.Valid() {
		return types.TradingSession{}, types.ConfigErrorf("a complete broker credential is required")
	}

	row := sessionFromDomain(uuid.NewString(), userID, strategy, cred, r.now().UTC())

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.opts.EnforceSingleActive {
			var active int64
			if err := tx.Model(&SessionModel{}).
				Where("user_id = ? AND status = ?", userID, string(types.SessionActive)).
				Count(&active).Error; err != nil {
				return err
			}
			if active > 0 {
				return types.ErrActiveSessionExists
			}
		}
		return tx.Create(&row).Error
	})
	switch {
	case err == nil:
		return row.toDomain(), nil
	case errors.Is(err, types.ErrActiveSessionExists), errors.Is(err, gorm.ErrDuplicatedKey):
		return types.TradingSession{}, types.ErrActiveSessionExists
	default:
		return types.TradingSession{}, registryErr("create session", err)
	}
}

func (r *GormRegistry) GetActiveSessions(ctx context.Context, userID string) ([]types.TradingSession, error) {
	var rows []SessionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(types.SessionActive)).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, registryErr("get active sessions", err)
	}
	return toSessions(rows), nil
}

// ListActive returns every ACTIVE session across users.
func (r *GormRegistry) ListActive(ctx context.Context) ([]types.TradingSession, error) {
	var rows []SessionModel
	if err := r.db.WithContext(ctx).Where("status = ?", string(types.SessionActive)).Order("created_at").Find(&rows).Error; err != nil {
		return nil, registryErr("list active sessions", err)
	}
	return toSessions(rows), nil
}

func (r *GormRegistry) StopAllSessions(ctx context.Context, userID string) error {
	now := r.now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&SessionModel{}).
			Where("user_id = ? AND status = ?", userID, string(types.SessionActive)).
			Updates(map[string]any{"status": string(types.SessionStopped), "stopped_at": now}).Error
	})
	if err != nil {
		return registryErr("stop all sessions", err)
	}
	return nil
}

// StopSession is idempotent for an already stopped session.
func (r *GormRegistry) StopSession(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ? AND status = ?", sessionID, string(types.SessionActive)).
		Updates(map[string]any{"status": string(types.SessionStopped), "stopped_at": r.now().UTC()})
	if res.Error != nil {
		return registryErr("stop session", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var existing int64
	if err := r.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", sessionID).Count(&existing).Error; err != nil {
		return registryErr("stop session", err)
	}
	if existing == 0 {
		return types.ErrSessionNotFound
	}
	return nil
}

func (r *GormRegistry) GetSession(ctx context.Context, sessionID string) (types.TradingSession, error) {
	var row SessionModel
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.TradingSession{}, types.ErrSessionNotFound
	}
	if err != nil {
		return types.TradingSession{}, registryErr("get session", err)
	}
	return row.toDomain(), nil
}

func (r *GormRegistry) AppendTradeLog(ctx context.Context, entry types.TradeLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	row := tradeLogFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return registryErr("append trade log", err)
	}
	return nil
}

func (r *GormRegistry) TouchExecution(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ?", sessionID).
		Update("last_execution", r.now().UTC()).Error
	if err != nil {
		return registryErr("touch execution", err)
	}
	return nil
}

// TradeLogs returns the newest entries for a user, newest first.
func (r *GormRegistry) TradeLogs(ctx context.Context, userID string, limit int) ([]types.TradeLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []TradeLogModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, registryErr("trade logs", err)
	}
	out := make([]types.TradeLog, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *GormRegistry) Stats(ctx context.Context, userID string) (types.TradingStats, error) {
	var st types.TradingStats
	db := r.db.WithContext(ctx)

	if err := db.Model(&SessionModel{}).Where("user_id = ?", userID).Count(&st.TotalSessions).Error; err != nil {
		return st, registryErr("stats", err)
	}
	if err := db.Model(&SessionModel{}).Where("user_id = ? AND status = ?", userID, string(types.SessionActive)).Count(&st.ActiveSessions).Error; err != nil {
		return st, registryErr("stats", err)
	}

	var bySignal []struct {
		Signal string
		N      int64
	}
	err := db.Model(&TradeLogModel{}).
		Select("signal, count(*) as n").
		Where("user_id = ? AND log_type = ?", userID, LogTypeTrade).
		Group("signal").
		Scan(&bySignal).Error
	if err != nil {
		return st, registryErr("stats", err)
	}
	for _, row := range bySignal {
		st.TotalTrades += row.N
		switch types.SignalType(row.Signal) {
		case types.SignalBuy:
			st.BuyTrades += row.N
		case types.SignalSell:
			st.SellTrades += row.N
		}
	}

	var last SessionModel
	err = db.Where("user_id = ? AND last_execution IS NOT NULL", userID).
		Order("last_execution DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return st, registryErr("stats", err)
	}
	st.LastExecution = last.LastExecution
	return st, nil
}

func toSessions(rows []SessionModel) []types.TradingSession {
	out := make([]types.TradingSession, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out
}
