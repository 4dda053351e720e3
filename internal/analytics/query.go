package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

const (
	DefaultAssetLimit = 20
	MaxAssetLimit     = 250
	DefaultPriceLimit = 400
	MaxPriceLimit     = 2000
	DefaultPriceDays  = 30
	DefaultWindow     = 30
	MinWindow         = 2
	MaxWindow         = 365
)

// ErrInvalidQuery marks a request the caller must fix.
var ErrInvalidQuery = errors.New("invalid query")

type PriceRangeReader interface {
	Range(ctx context.Context, symbol string, start, end time.Time, limit int) ([]models.PricePoint, error)
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

type MetricsReader interface {
	List(ctx context.Context, symbol string, window int, from, to time.Time) ([]models.MetricPoint, error)
}

// QueryService is the read-only accessor surface over the store.
type QueryService struct {
	engine  *Engine
	assets  AssetReader
	prices  PriceRangeReader
	metrics MetricsReader
}

func NewQueryService(engine *Engine, assets AssetReader, prices PriceRangeReader, metrics MetricsReader) *QueryService {
	return &QueryService{engine: engine, assets: assets, prices: prices, metrics: metrics}
}

func (q *QueryService) Engine() *Engine { return q.engine }

func (q *QueryService) GetAssets(ctx context.Context, limit int) ([]models.Asset, error) {
	return q.assets.List(ctx, clamp(limit, DefaultAssetLimit, MaxAssetLimit))
}

func (q *QueryService) GetAsset(ctx context.Context, symbol string) (*models.Asset, error) {
	sym := normalize(symbol)
	a, err := q.assets.GetBySymbol(ctx, sym)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%s: %w", sym, ErrAssetNotFound)
	}
	return a, nil
}

// GetPrices returns prices in [start, end], oldest first. A missing end is
// the latest stored date and a missing start is DefaultPriceDays before end.
func (q *QueryService) GetPrices(ctx context.Context, symbol string, start, end time.Time, limit int) ([]models.PricePoint, error) {
	a, err := q.GetAsset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if start.IsZero() || end.IsZero() {
		if end.IsZero() {
			latest, ok, err := q.prices.LatestDate(ctx, a.Symbol)
			if err != nil {
				return nil, err
			}
			if !ok {
				return []models.PricePoint{}, nil
			}
			end = latest
		}
		if start.IsZero() {
			start = end.AddDate(0, 0, -DefaultPriceDays)
		}
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidQuery, models.FormatDate(start), models.FormatDate(end))
	}
	return q.prices.Range(ctx, a.Symbol, start, end, clamp(limit, DefaultPriceLimit, MaxPriceLimit))
}

// GetMetrics computes window metrics for the window days ending at asOf,
// which defaults to the latest stored date of the asset.
func (q *QueryService) GetMetrics(ctx context.Context, symbol string, window int, asOf time.Time) ([]models.MetricPoint, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	s, err := q.engine.Series(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		last, ok := s.Last()
		if !ok {
			return []models.MetricPoint{}, nil
		}
		asOf = last
	}
	return s.Metrics(window, asOf.AddDate(0, 0, -window), asOf), nil
}

// StoredMetrics reads the refreshed metric cache instead of recomputing.
func (q *QueryService) StoredMetrics(ctx context.Context, symbol string, window int, from, to time.Time) ([]models.MetricPoint, error) {
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	if q.metrics == nil {
		return nil, fmt.Errorf("%w: metric cache not configured", ErrInvalidQuery)
	}
	a, err := q.GetAsset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return q.metrics.List(ctx, a.Symbol, window, from, to)
}

// GetCorrelation correlates two distinct assets. A zero asOf means the
// latest date both assets have stored.
// LatestMetrics computes one MetricPoint per asset priced on asOf, ordered by
// symbol. A zero asOf means the latest date stored for any asset.
func (q *QueryService) LatestMetrics(ctx context.Context, window int, asOf time.Time, limit int) ([]models.MetricPoint, time.Time, error) {
	if err := checkWindow(window); err != nil {
		return nil, time.Time{}, err
	}
	series, err := q.engine.Universe(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	if asOf.IsZero() {
		latest, ok := LatestDate(series)
		if !ok {
			return []models.MetricPoint{}, time.Time{}, nil
		}
		asOf = latest
	}
	asOf = day(asOf)

	out := []models.MetricPoint{}
	for _, s := range series {
		out = append(out, s.Metrics(window, asOf, asOf)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	if n := clamp(limit, DefaultAssetLimit, MaxAssetLimit); len(out) > n {
		out = out[:n]
	}
	return out, asOf, nil
}

func (q *QueryService) GetCorrelation(ctx context.Context, a, b string, window int, asOf time.Time) (CorrelationResult, error) {
	a, b = normalize(a), normalize(b)
	if a == b {
		return CorrelationResult{}, fmt.Errorf("%w: assets must differ, got %s twice", ErrInvalidQuery, a)
	}
	if err := checkWindow(window); err != nil {
		return CorrelationResult{}, err
	}
	sa, err := q.engine.Series(ctx, a)
	if err != nil {
		return CorrelationResult{}, err
	}
	sb, err := q.engine.Series(ctx, b)
	if err != nil {
		return CorrelationResult{}, err
	}
	if asOf.IsZero() {
		la, okA := sa.Last()
		lb, okB := sb.Last()
		if !okA || !okB {
			return CorrelationResult{AssetA: a, AssetB: b, Window: window}, &InsufficientDataError{
				Symbol: a + "/" + b, Metric: "correlation", Reason: "no price data for one or both assets",
			}
		}
		asOf = la
		if lb.Before(la) {
			asOf = lb
		}
	}
	return Correlate(sa, sb, window, asOf)
}

func checkWindow(window int) error {
	if window < MinWindow || window > MaxWindow {
		return fmt.Errorf("%w: window must be between %d and %d, got %d", ErrInvalidQuery, MinWindow, MaxWindow, window)
	}
	return nil
}

func clamp(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
