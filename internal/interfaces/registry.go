package interfaces

import (
	"context"

	"fx-forward-runner/internal/types"
)

// SessionRegistry is the server-authoritative store of forward-testing sessions.
type SessionRegistry interface {
	CreateSession(ctx context.Context, userID string, strategy types.Strategy, cred types.Credential) (types.TradingSession, error)
	GetActiveSessions(ctx context.Context, userID string) ([]types.TradingSession, error)
	StopAllSessions(ctx context.Context, userID string) error
	StopSession(ctx context.Context, sessionID string) error
	Stats(ctx context.Context, userID string) (types.TradingStats, error)
}

// ExecutionStore is the part of the registry the scheduled job needs.
type ExecutionStore interface {
	ListActive(ctx context.Context) ([]types.TradingSession, error)
	AppendTradeLog(ctx context.Context, entry types.TradeLog) error
	TouchExecution(ctx context.Context, sessionID string) error
}
