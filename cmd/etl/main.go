package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kjannette/trahn-marketdata/internal/app"
	"github.com/kjannette/trahn-marketdata/internal/config"
	"github.com/kjannette/trahn-marketdata/internal/models"
	"github.com/kjannette/trahn-marketdata/internal/report"
)

func main() {
	os.Exit(run())
}

func run() int {
	skipRun := flag.Bool("report-only", false, "skip the pipeline run and only build the report")
	noReport := flag.Bool("no-report", false, "run the pipeline without building a report")
	topPairs := flag.Int("pairs", 3, "number of most and least correlated pairs in the report")
	drawdown := flag.String("drawdown", "BTC", "symbol to include a drawdown series for")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	cfg.LogSummary(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.Close()

	code := 0
	if !*skipRun {
		r, err := a.Runner.Run(ctx)
		if err != nil {
			logger.Error("etl run failed", "error", err)
			code = 1
		}
		if r != nil && r.Status == models.RunPartial {
			code = 2
		}
	}
	if *noReport {
		return code
	}

	rep, err := report.Build(ctx, a.Engine, report.Options{
		Window:         cfg.MetricsWindow,
		TopN:           *topPairs,
		DrawdownSymbol: *drawdown,
		DrawdownDays:   cfg.Pipeline.Days,
	})
	if errors.Is(err, report.ErrNoData) {
		logger.Warn("no data to report on")
		return code
	}
	if err != nil {
		logger.Error("report build failed", "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Error("write report", "error", err)
		return 1
	}
	return code
}
