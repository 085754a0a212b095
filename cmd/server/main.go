package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fx-forward-runner/internal/broker/brokerobs"
	"fx-forward-runner/internal/broker/oanda"
	"fx-forward-runner/internal/db"
	"fx-forward-runner/internal/eod"
	"fx-forward-runner/internal/eod/eodobs"
	"fx-forward-runner/internal/hub"
	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/job"
	"fx-forward-runner/internal/job/jobobs"
	"fx-forward-runner/internal/joblock"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/registry"
	"fx-forward-runner/internal/server"
	"fx-forward-runner/internal/store"
	"fx-forward-runner/internal/trace"
	"fx-forward-runner/internal/tradelog"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	issueFor := flag.String("issue-token", "", "print a bearer token for this user id and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of an issued token")
	flag.Parse()

	_ = godotenv.Load()
	must(logger.Init())
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := store.LoadConfig(*configPath)
	must(err)
	if cfg.Server.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	if *issueFor != "" {
		token, err := server.IssueToken([]byte(cfg.Server.JWTSecret), *issueFor, *tokenTTL)
		must(err)
		fmt.Println(token)
		return
	}

	gdb, err := db.Connect(cfg.Database.URL)
	must(err)
	must(registry.Migrate(gdb, *cfg.Server.EnforceSingleActive))
	reg := registry.NewGormRegistry(gdb, registry.Options{EnforceSingleActive: *cfg.Server.EnforceSingleActive})

	h := hub.NewHub()
	go h.Run(ctx)

	trades := tradelog.New(cfg.TradeLog.Dir)
	if cfg.TradeLog.RetentionDays > 0 {
		if err := trades.CompressOlder(cfg.TradeLog.RetentionDays); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
	summarizer := eodobs.Wrap(eod.New(trades))
	go runDailySummary(ctx, summarizer)

	runner := jobobs.Wrap(job.New(job.ConfigFrom(cfg), job.Deps{
		Broker:     initializeBroker(cfg),
		Credential: cfg.Credential(),
		Store:      reg,
		Lock:       initializeLock(ctx, cfg),
		Trades:     trades,
	}))

	router := server.SetupRouter(server.Deps{
		Store:         reg,
		Job:           runner,
		Hub:           h,
		JWTSecret:     []byte(cfg.Server.JWTSecret),
		TriggerSecret: cfg.Server.TriggerSecret,
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", server.TriggerHeader},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Registry server listening", "addr", cfg.Server.Addr, "single_active", *cfg.Server.EnforceSingleActive)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Shutting down server...")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(ctx, "Server forced to shutdown", err)
	}
	_ = trace.Shutdown(shutdownCtx)
}

// runDailySummary writes the order summary once per day after rollover.
func runDailySummary(ctx context.Context, s interfaces.EodSummarizer) {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if ok, _ := s.ShouldRunNow(); ok {
				_, _ = s.SummarizeToday()
			}
		}
	}
}

func initializeBroker(cfg *store.Config) interfaces.Broker {
	opts := []oanda.Option{oanda.WithTimeout(cfg.BrokerTimeout()), oanda.WithCompleteOnly(true)}
	if cfg.Broker.BaseURL != "" {
		opts = append(opts, oanda.WithBaseURL(cfg.Broker.BaseURL))
	}
	return brokerobs.Wrap(oanda.New(opts...))
}

// initializeLock uses redis when configured so overlapping triggers across
// replicas run once. Without redis each process runs every trigger.
func initializeLock(ctx context.Context, cfg *store.Config) interfaces.Lock {
	if cfg.Job.Lock.RedisURL == "" {
		return joblock.Noop{}
	}
	client, err := db.ConnectRedis(ctx, cfg.Job.Lock.RedisURL)
	if err != nil {
		logger.Warn(ctx, "Redis unavailable, job runs are not locked", "error", err)
		return joblock.Noop{}
	}
	return joblock.NewRedis(client)
}
