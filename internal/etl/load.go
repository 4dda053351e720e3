package etl

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

// BatchWriter applies a whole batch in one transaction.
type BatchWriter interface {
	UpsertBatch(ctx context.Context, assets []models.Asset, prices []models.PricePoint) (models.LoadCounts, error)
}

type Loader struct {
	store  BatchWriter
	logger *slog.Logger
}

func NewLoader(store BatchWriter, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, logger: logger.With("component", "loader")}
}

// Load upserts assets by symbol and prices by (asset, date). Any failure
// rolls the batch back and is returned as *LoadError.
func (l *Loader) Load(ctx context.Context, assets []models.Asset, prices []models.PricePoint) (models.LoadCounts, error) {
	counts, err := l.store.UpsertBatch(ctx, assets, prices)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return models.LoadCounts{}, err
		}
		return models.LoadCounts{}, &LoadError{Stage: "transaction", Err: err}
	}

	l.logger.Info("batch committed",
		"assets", counts.AssetsUpserted,
		"prices", counts.PricesUpserted,
		"assets_changed", counts.AssetsChanged,
		"prices_changed", counts.PricesChanged,
	)
	return counts, nil
}
