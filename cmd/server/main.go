package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/api"
	"github.com/kjannette/trahn-marketdata/internal/app"
	"github.com/kjannette/trahn-marketdata/internal/config"
	"github.com/kjannette/trahn-marketdata/internal/pipeline"
	"github.com/kjannette/trahn-marketdata/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║      TRAHN Market Data ETL v0.3      ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	cfg.LogSummary(logger)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		a.Close()
		logger.Info("store closed")
	}()

	// 1. API server
	srv := api.NewServer(a.Query, a.Store.Runs, a.DB, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server error", "error", err)
			os.Exit(1)
		}
	}()

	// 2. ETL scheduler
	sched := scheduler.NewETLScheduler(a.Runner, scheduler.ETLSchedulerConfig{
		Interval:   cfg.ScheduleInterval,
		RunOnStart: true,
		OnRunComplete: func(run *pipeline.Run, err error) {
			if run == nil {
				return
			}
			logger.Info("scheduled run finished",
				"run_id", run.ID, "status", run.Status, "prices_changed", run.PricesChanged)
		},
	}, logger)
	sched.Start()

	logger.Info("all services started", "api_port", cfg.APIPort, "schedule_interval", cfg.ScheduleInterval)

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gracefully")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
