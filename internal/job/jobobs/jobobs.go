package jobobs

import (
	"context"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/trace"
	"fx-forward-runner/internal/types"
)

type observableJob struct {
	job interfaces.Job
}

var _ interfaces.Job = (*observableJob)(nil)

func Wrap(job interfaces.Job) interfaces.Job {
	return &observableJob{
		job: job,
	}
}

func (oj *observableJob) Run(ctx context.Context) (*types.JobResult, error) {
	ctx, span := trace.StartSpan(ctx, "job.Run")
	defer span.End()

	start := time.Now()

	logger.InfoSkip(ctx, 1, "Starting strategy check")

	result, err := oj.job.Run(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Strategy check failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Strategy check completed",
		"instrument", result.Instrument,
		"signal", result.Signal,
		"order_submitted", result.OrderSubmitted,
		"skip_reason", result.SkipReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (oj *observableJob) RunSessions(ctx context.Context) ([]types.SessionRunResult, error) {
	ctx, span := trace.StartSpan(ctx, "job.RunSessions")
	defer span.End()

	start := time.Now()

	results, err := oj.job.RunSessions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Sessions run failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	logger.InfoSkip(ctx, 1, "Sessions run completed",
		"sessions", len(results),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results, nil
}

func (oj *observableJob) ClosePosition(ctx context.Context, instrument string) (*types.CloseResult, error) {
	ctx, span := trace.StartSpan(ctx, "job.ClosePosition")
	defer span.End()

	start := time.Now()

	result, err := oj.job.ClosePosition(ctx, instrument)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Position close failed", err,
			"instrument", instrument,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Position close completed",
		"instrument", result.Instrument,
		"closed", result.Closed,
		"price", result.Price,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}
