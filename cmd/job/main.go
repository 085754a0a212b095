// Command job runs the strategy check once and exits, for cron style
// schedulers. With -sessions it runs every active registry session instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"fx-forward-runner/internal/broker/brokerobs"
	"fx-forward-runner/internal/broker/oanda"
	"fx-forward-runner/internal/db"
	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/job"
	"fx-forward-runner/internal/job/jobobs"
	"fx-forward-runner/internal/joblock"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/registry"
	"fx-forward-runner/internal/store"
	"fx-forward-runner/internal/trace"
	"fx-forward-runner/internal/tradelog"

	"github.com/joho/godotenv"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	sessions := flag.Bool("sessions", false, "run all active sessions from the database")
	timeout := flag.Duration("timeout", 50*time.Second, "overall deadline for the run")
	flag.Parse()

	_ = godotenv.Load()
	must(logger.Init())
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	defer func() { _ = trace.Shutdown(context.Background()) }()

	cfg, err := store.LoadConfig(*configPath)
	must(err)

	opts := []oanda.Option{oanda.WithTimeout(cfg.BrokerTimeout()), oanda.WithCompleteOnly(true)}
	if cfg.Broker.BaseURL != "" {
		opts = append(opts, oanda.WithBaseURL(cfg.Broker.BaseURL))
	}
	deps := job.Deps{
		Broker:     brokerobs.Wrap(oanda.New(opts...)),
		Credential: cfg.Credential(),
		Lock:       joblock.Noop{},
		Trades:     tradelog.New(cfg.TradeLog.Dir),
	}
	if cfg.Job.Lock.RedisURL != "" {
		client, err := db.ConnectRedis(ctx, cfg.Job.Lock.RedisURL)
		must(err)
		deps.Lock = joblock.NewRedis(client)
	}
	if *sessions {
		gdb, err := db.Connect(cfg.Database.URL)
		must(err)
		deps.Store = registry.NewGormRegistry(gdb, registry.Options{EnforceSingleActive: *cfg.Server.EnforceSingleActive})
	}

	var runner interfaces.Job = jobobs.Wrap(job.New(job.ConfigFrom(cfg), deps))

	var out any
	if *sessions {
		out, err = runner.RunSessions(ctx)
	} else {
		out, err = runner.Run(ctx)
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Job failed", err)
		os.Exit(1)
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}
