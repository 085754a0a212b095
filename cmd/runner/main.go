package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fx-forward-runner/internal/hub"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/orchestrator"
	"fx-forward-runner/internal/poller"
	"fx-forward-runner/internal/server"
	"fx-forward-runner/internal/trace"
	"fx-forward-runner/internal/tradelog"
	"fx-forward-runner/internal/types"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

type runnerStatus struct {
	Mode       string                `json:"mode"`
	Active     bool                  `json:"active"`
	Belief     orchestrator.Belief   `json:"belief"`
	Strategy   string                `json:"strategyId,omitempty"`
	Connection types.ConnectionState `json:"connection"`
	Monitor    poller.Status         `json:"monitor"`
	AutoTest   poller.Status         `json:"autoTest"`
	Hub        int                   `json:"wsClients"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	must(initializeSystem())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = trace.Shutdown(shutdownCtx)
	}()

	cfg, err := loadConfig(ctx, *configPath)
	must(err)
	compressOldLogs(ctx, cfg)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	brk := initializeBroker(ctx, cfg)
	reg, err := initializeRegistry(ctx, cfg)
	must(err)

	h := hub.NewHub()
	go h.Run(ctx)

	ka := initializeKeepalive(cfg, brk)
	monitor, autoTest := initializePollers(cfg, brk, h)
	orch := initializeOrchestrator(cfg, reg, ka, monitor)

	orch.SelectStrategy(cfg.Strategy)
	if err := orch.SetCredential(ctx, cfg.Credential()); err != nil {
		logger.ErrorWithErr(ctx, "Failed to start keepalive", err)
	}

	go orch.RunReconciler(ctx)

	if cfg.Runner.AutoStart {
		if _, err := orch.Reconcile(ctx); err != nil {
			logger.Warn(ctx, "Initial reconcile failed", "error", err)
		}
		if !orch.IsActive() {
			if _, err := orch.Toggle(ctx, cfg.Strategy, cfg.Credential()); err != nil {
				logger.ErrorWithErr(ctx, "Failed to start forward testing", err)
			}
		}
	}

	if cfg.Poller.AutoTestIntervalSeconds > 0 && cfg.Credential().Valid() {
		trades := tradelog.New(cfg.TradeLog.Dir)
		err := autoTest.Start(ctx, cfg.Credential(), cfg.Strategy, cfg.Poller.AutoTestIntervalSeconds, func(sig types.Signal) {
			logger.Signal(ctx, cfg.Strategy.Symbol, string(sig.Type), sig.Confidence, sig.Price, "poller", poller.KindAutoTest)
			if err := trades.AppendSignal(tradelog.SignalEntry{
				Instrument: sig.Symbol,
				Signal:     string(sig.Type),
				Reason:     "auto test",
				Price:      sig.Price,
			}); err != nil {
				logger.Warn(ctx, "Failed to append signal log", "error", err)
			}
		})
		if err != nil {
			logger.Warn(ctx, "Auto test not started", "error", err)
		}
	}

	status := func() any {
		bound, _ := orch.BoundStrategy()
		return runnerStatus{
			Mode:       cfg.Mode,
			Active:     orch.IsActive(),
			Belief:     orch.Belief(),
			Strategy:   bound.ID,
			Connection: ka.State(),
			Monitor:    monitor.Status(),
			AutoTest:   autoTest.Status(),
			Hub:        h.Clients(),
		}
	}
	srv := &http.Server{
		Addr:              cfg.Runner.StatusAddr,
		Handler:           server.StatusRouter(status, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info(ctx, "Status server listening", "addr", cfg.Runner.StatusAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(ctx, "Status server failed", err)
		}
	}()

	logger.Info(ctx, "Runner started", "user_id", cfg.Runner.UserID, "strategy_id", cfg.Strategy.ID)
	<-sigc
	logger.Info(ctx, "Shutting down...")

	autoTest.Stop()
	monitor.Stop()
	ka.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}
