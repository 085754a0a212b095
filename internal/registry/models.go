package registry

import (
	"time"

	"fx-forward-runner/internal/types"

	"github.com/shopspring/decimal"
)

// SessionModel is the trading_sessions row. The strategy is snapshotted so
// later edits never change a running session.
type SessionModel struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	UserID          string `gorm:"index;not null"`
	StrategyID      string `gorm:"not null"`
	StrategyName    string
	StrategyCode    string
	Symbol          string
	Timeframe       string
	RiskPerTrade    float64
	StopLossPips    float64
	TakeProfitPips  float64
	MaxPositionSize int64
	ReverseSignals  bool
	AccountID       string `gorm:"not null"`
	APIKey          string `gorm:"not null"`
	Environment     string `gorm:"not null"`
	Status          string `gorm:"index;not null"`
	CreatedAt       time.Time
	StoppedAt       *time.Time
	LastExecution   *time.Time
}

func (SessionModel) TableName() string { return "trading_sessions" }

type TradeLogModel struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)"`
	SessionID string          `gorm:"index"`
	UserID    string          `gorm:"index"`
	LogType   string          `gorm:"index"`
	Message   string
	Signal    string
	Units     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8)"`
	TxID      string
	Timestamp time.Time `gorm:"index"`
}

func (TradeLogModel) TableName() string { return "trading_logs" }

func sessionFromDomain(id, userID string, s types.Strategy, c types.Credential, now time.Time) SessionModel {
	return SessionModel{
		ID:              id,
		UserID:          userID,
		StrategyID:      s.ID,
		StrategyName:    s.Name,
		StrategyCode:    s.Code,
		Symbol:          s.Symbol,
		Timeframe:       s.Timeframe,
		RiskPerTrade:    s.Risk.RiskPerTrade,
		StopLossPips:    s.Risk.StopLossPips,
		TakeProfitPips:  s.Risk.TakeProfitPips,
		MaxPositionSize: s.Risk.MaxPositionSize,
		ReverseSignals:  s.ReverseSignals,
		AccountID:       c.AccountID,
		APIKey:          c.APIKey,
		Environment:     string(c.Environment),
		Status:          string(types.SessionActive),
		CreatedAt:       now,
	}
}

func (m SessionModel) toDomain() types.TradingSession {
	return types.TradingSession{
		ID:         m.ID,
		UserID:     m.UserID,
		StrategyID: m.StrategyID,
		Strategy: types.Strategy{
			ID:        m.StrategyID,
			Name:      m.StrategyName,
			Code:      m.StrategyCode,
			Symbol:    m.Symbol,
			Timeframe: m.Timeframe,
			Risk: types.Risk{
				RiskPerTrade:    m.RiskPerTrade,
				StopLossPips:    m.StopLossPips,
				TakeProfitPips:  m.TakeProfitPips,
				MaxPositionSize: m.MaxPositionSize,
			},
			ReverseSignals: m.ReverseSignals,
		},
		Credential: types.Credential{
			AccountID:   m.AccountID,
			APIKey:      m.APIKey,
			Environment: types.Environment(m.Environment),
		},
		Status:        types.SessionStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		StoppedAt:     m.StoppedAt,
		LastExecution: m.LastExecution,
	}
}

func tradeLogFromDomain(e types.TradeLog) TradeLogModel {
	return TradeLogModel{
		ID:        e.ID,
		SessionID: e.SessionID,
		UserID:    e.UserID,
		LogType:   e.LogType,
		Message:   e.Message,
		Signal:    string(e.Signal),
		Units:     e.Units,
		Price:     e.Price,
		TxID:      e.TxID,
		Timestamp: e.Timestamp,
	}
}

func (m TradeLogModel) toDomain() types.TradeLog {
	return types.TradeLog{
		ID:        m.ID,
		SessionID: m.SessionID,
		UserID:    m.UserID,
		LogType:   m.LogType,
		Message:   m.Message,
		Signal:    types.SignalType(m.Signal),
		Units:     m.Units,
		Price:     m.Price,
		TxID:      m.TxID,
		Timestamp: m.Timestamp,
	}
}
