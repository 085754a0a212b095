package interfaces

import (
	"context"

	"fx-forward-runner/internal/types"
)

type Job interface {
	Run(ctx context.Context) (*types.JobResult, error)
	RunSessions(ctx context.Context) ([]types.SessionRunResult, error)
	ClosePosition(ctx context.Context, instrument string) (*types.CloseResult, error)
}
