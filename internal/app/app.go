package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kjannette/trahn-marketdata/internal/analytics"
	"github.com/kjannette/trahn-marketdata/internal/cache"
	"github.com/kjannette/trahn-marketdata/internal/config"
	"github.com/kjannette/trahn-marketdata/internal/db"
	"github.com/kjannette/trahn-marketdata/internal/etl"
	"github.com/kjannette/trahn-marketdata/internal/external"
	"github.com/kjannette/trahn-marketdata/internal/httputil"
	"github.com/kjannette/trahn-marketdata/internal/notifications"
	"github.com/kjannette/trahn-marketdata/internal/pipeline"
	"github.com/kjannette/trahn-marketdata/internal/quality"
	"github.com/kjannette/trahn-marketdata/internal/repository"
)

// App is the wired set of services shared by the binaries.
type App struct {
	DB     *db.Handle
	Store  *repository.Store
	Engine *analytics.Engine
	Query  *analytics.QueryService
	Runner *pipeline.Runner
	Notify *notifications.Sender
}

// New opens the store, ensures the schema and wires the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	h, err := db.Open(cfg.DBDriver, cfg.DSN(), cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.EnsureSchema(ctx, h); err != nil {
		h.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if now, err := db.TestConnection(ctx, h); err == nil {
		logger.Info("store connected", "driver", cfg.DBDriver, "server_time", now)
	}

	store := repository.New(h)
	store.Batches.SetChunkSize(cfg.Pipeline.ChunkSize)

	p := cfg.Pipeline
	loc := cfg.Location()

	var policy cache.Policy = cache.CalendarDay{Location: loc}
	if p.CachePolicy == config.CachePolicyRolling {
		policy = cache.Rolling{TTL: p.CacheTTL}
	}
	disk, err := cache.NewDisk(p.CacheDir, policy, cache.WithLogger(logger))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	client := external.NewCoinGeckoClient(external.Options{
		BaseURL:     cfg.CoinGeckoBaseURL,
		APIKey:      cfg.CoinGeckoAPIKey,
		Timeout:     cfg.RequestTimeout,
		MinInterval: cfg.MinRequestInterval,
		Retry: httputil.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Multiplier:  2,
		},
		Logger: logger,
	})

	extractor := etl.NewExtractor(client, disk, etl.ExtractConfig{
		TopN:                      p.TopN,
		Days:                      p.Days,
		VsCurrency:                p.VsCurrency,
		ExcludeSymbols:            p.ExcludeSymbols,
		ExcludeStablecoinCategory: p.ExcludeStablecoinCategory,
		MaxPages:                  p.MaxPages,
		Concurrency:               p.Concurrency,
	}, logger)

	engine := analytics.NewEngine(store.Prices, store.Assets, store.Metrics, logger)
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, logger)

	var postLoad []pipeline.PostLoadFunc
	if p.RefreshMetrics {
		window := cfg.MetricsWindow
		postLoad = append(postLoad, func(ctx context.Context, _ *pipeline.Run) error {
			_, err := engine.Refresh(ctx, window)
			return err
		})
	}

	runner := pipeline.NewRunner(pipeline.Options{
		Runs:        store.Runs,
		Extractor:   extractor,
		Transformer: etl.NewTransformer(loc, logger),
		Loader:      etl.NewLoader(store.Batches, logger),
		Gate:        quality.NewGate(quality.Limits{MinAssets: p.MinAssets, MaxRejectRatio: p.MaxRejectRatio}),
		PostLoad:    postLoad,
		Notifier:    notify,
		Logger:      logger,
	})

	return &App{
		DB:     h,
		Store:  store,
		Engine: engine,
		Query:  analytics.NewQueryService(engine, store.Assets, store.Prices, store.Metrics),
		Runner: runner,
		Notify: notify,
	}, nil
}

func (a *App) Close() {
	a.DB.Close()
}
