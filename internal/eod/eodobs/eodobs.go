package eodobs

import (
	"context"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/trace"
)

type observableSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableSummarizer{summarizer: summarizer}
}

func (o *observableSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()

	day := t.UTC().Format("2006-01-02")
	csvPath, err := o.summarizer.SummarizeDay(t)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Daily summary failed", err, "date", day)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No filled orders for daily summary", "date", day)
		return "", nil
	}
	logger.InfoSkip(ctx, 1, "Daily summary written", "date", day, "csv_path", csvPath)
	return csvPath, nil
}

func (o *observableSummarizer) SummarizeToday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeToday")
	defer span.End()

	csvPath, err := o.summarizer.SummarizeToday()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Daily summary failed", err)
		return "", err
	}
	if csvPath != "" {
		logger.InfoSkip(ctx, 1, "Daily summary written", "csv_path", csvPath)
	}
	return csvPath, nil
}

func (o *observableSummarizer) ShouldRunNow() (bool, string) {
	ctx, span := trace.StartSpan(context.Background(), "eod.ShouldRunNow")
	defer span.End()

	shouldRun, csvPath := o.summarizer.ShouldRunNow()
	logger.DebugSkip(ctx, 1, "Daily summary check", "should_run", shouldRun, "csv_path", csvPath)
	return shouldRun, csvPath
}
