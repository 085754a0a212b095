package main

import (
	"context"
	"fmt"
	"os"

	"fx-forward-runner/internal/broker/brokerobs"
	"fx-forward-runner/internal/broker/oanda"
	"fx-forward-runner/internal/evaluator"
	"fx-forward-runner/internal/hub"
	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/keepalive"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/orchestrator"
	"fx-forward-runner/internal/poller"
	"fx-forward-runner/internal/registry"
	"fx-forward-runner/internal/store"
	"fx-forward-runner/internal/trace"
	"fx-forward-runner/internal/tradelog"

	"github.com/joho/godotenv"
)

// initializeSystem loads .env and starts the logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs gzips trade log files past the configured retention
func compressOldLogs(ctx context.Context, cfg *store.Config) {
	if cfg.TradeLog.RetentionDays <= 0 {
		return
	}
	if err := tradelog.New(cfg.TradeLog.Dir).CompressOlder(cfg.TradeLog.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

// initializeBroker builds the OANDA client with observability
func initializeBroker(ctx context.Context, cfg *store.Config) interfaces.Broker {
	opts := []oanda.Option{
		oanda.WithTimeout(cfg.BrokerTimeout()),
		oanda.WithCompleteOnly(true),
	}
	if cfg.Broker.BaseURL != "" {
		opts = append(opts, oanda.WithBaseURL(cfg.Broker.BaseURL))
	}
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - signals are evaluated, orders are never sent")
	}
	logger.Info(ctx, "Using OANDA", "environment", cfg.Broker.Environment)
	return brokerobs.Wrap(oanda.New(opts...))
}

func initializeRegistry(ctx context.Context, cfg *store.Config) (interfaces.SessionRegistry, error) {
	if cfg.Runner.RegistryURL == "" {
		return nil, fmt.Errorf("runner.registry_url is required")
	}
	if cfg.Runner.RegistryToken == "" {
		logger.Warn(ctx, "REGISTRY_TOKEN not set, registry calls will be rejected")
	}
	return registry.NewRemote(cfg.Runner.RegistryURL, cfg.Runner.RegistryToken, cfg.BrokerTimeout()), nil
}

func initializeKeepalive(cfg *store.Config, brk interfaces.Broker) *keepalive.Service {
	return keepalive.New(brk, keepalive.Config{
		Interval:         cfg.KeepaliveInterval(),
		FailureThreshold: cfg.Keepalive.FailureThreshold,
		WatchdogInterval: cfg.WatchdogInterval(),
	})
}

func pollerConfig(cfg *store.Config) poller.Config {
	return poller.Config{
		MinIntervalSeconds: cfg.Poller.MinIntervalSeconds,
		MaxIntervalSeconds: cfg.Poller.MaxIntervalSeconds,
		HistorySize:        cfg.Poller.HistorySize,
		CandleCount:        cfg.Poller.CandleCount,
		Granularity:        cfg.Poller.Granularity,
	}
}

// initializePollers returns the live monitor and the dry-run auto tester,
// both publishing to h.
func initializePollers(cfg *store.Config, brk interfaces.Broker, h *hub.Hub) (*poller.Poller, *poller.Poller) {
	eval := evaluator.New()
	pc := pollerConfig(cfg)
	return poller.NewMonitor(brk, eval, h, pc), poller.NewAutoTester(brk, eval, h, pc)
}

func initializeOrchestrator(cfg *store.Config, reg interfaces.SessionRegistry, ka *keepalive.Service, monitor *poller.Poller) *orchestrator.Orchestrator {
	return orchestrator.New(reg, ka, monitor, orchestrator.Config{
		UserID:                 cfg.Runner.UserID,
		Debounce:               cfg.ReconcileDebounce(),
		Interval:               cfg.ReconcileInterval(),
		AutoResolve:            cfg.Reconcile.AutoResolveMismatch,
		MonitorIntervalSeconds: cfg.Poller.MonitorIntervalSeconds,
	})
}
