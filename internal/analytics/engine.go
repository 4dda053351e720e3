package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

type PriceReader interface {
	Series(ctx context.Context, symbol string) ([]models.PricePoint, error)
}

type AssetReader interface {
	List(ctx context.Context, limit int) ([]models.Asset, error)
	GetBySymbol(ctx context.Context, symbol string) (*models.Asset, error)
}

type MetricsWriter interface {
	Upsert(ctx context.Context, points []models.MetricPoint) (int, error)
}

// Engine computes metrics from the persisted price history. It never writes
// prices or assets; the only write is the optional metrics cache refresh.
type Engine struct {
	prices  PriceReader
	assets  AssetReader
	metrics MetricsWriter
	logger  *slog.Logger
}

func NewEngine(prices PriceReader, assets AssetReader, metrics MetricsWriter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		prices:  prices,
		assets:  assets,
		metrics: metrics,
		logger:  logger.With("component", "analytics"),
	}
}

// Series loads the full history of symbol. An unknown symbol is
// ErrAssetNotFound; a known one with no prices is an empty series.
func (e *Engine) Series(ctx context.Context, symbol string) (*Series, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	points, err := e.prices.Series(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load %s prices: %w", symbol, err)
	}
	if len(points) == 0 {
		a, err := e.assets.GetBySymbol(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", symbol, err)
		}
		if a == nil {
			return nil, fmt.Errorf("%s: %w", symbol, ErrAssetNotFound)
		}
		s := NewSeries(symbol, nil)
		s.AssetID = a.ID
		return s, nil
	}
	return NewSeries(symbol, points), nil
}

func (e *Engine) DailyReturn(ctx context.Context, symbol string, date time.Time) (float64, error) {
	s, err := e.Series(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return s.DailyReturn(date)
}

func (e *Engine) CumulativeReturn(ctx context.Context, symbol string, window int, asOf time.Time) (float64, error) {
	s, err := e.Series(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return s.CumulativeReturn(window, asOf)
}

func (e *Engine) RollingVolatility(ctx context.Context, symbol string, window int, asOf time.Time) (float64, error) {
	s, err := e.Series(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return s.Volatility(window, asOf)
}

func (e *Engine) Correlation(ctx context.Context, a, b string, window int, asOf time.Time) (CorrelationResult, error) {
	sa, err := e.Series(ctx, a)
	if err != nil {
		return CorrelationResult{}, err
	}
	sb, err := e.Series(ctx, b)
	if err != nil {
		return CorrelationResult{}, err
	}
	return Correlate(sa, sb, window, asOf)
}

func (e *Engine) Metrics(ctx context.Context, symbol string, window int, from, to time.Time) ([]models.MetricPoint, error) {
	s, err := e.Series(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return s.Metrics(window, from, to), nil
}

func (e *Engine) Drawdown(ctx context.Context, symbol string, from, to time.Time) ([]DrawdownPoint, error) {
	s, err := e.Series(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return s.Drawdown(from, to), nil
}

// Universe loads the series of every stored asset, ordered by symbol.
func (e *Engine) Universe(ctx context.Context) ([]*Series, error) {
	assets, err := e.assets.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]*Series, 0, len(assets))
	for _, a := range assets {
		s, err := e.Series(ctx, a.Symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LatestDate is the most recent date stored for any asset of the universe.
func LatestDate(series []*Series) (time.Time, bool) {
	var latest time.Time
	for _, s := range series {
		if d, ok := s.Last(); ok && d.After(latest) {
			latest = d
		}
	}
	return latest, !latest.IsZero()
}

func (e *Engine) CorrelationMatrix(ctx context.Context, symbols []string, window int, asOf time.Time) (*Matrix, error) {
	var series []*Series
	if len(symbols) == 0 {
		all, err := e.Universe(ctx)
		if err != nil {
			return nil, err
		}
		series = all
	} else {
		for _, sym := range symbols {
			s, err := e.Series(ctx, sym)
			if err != nil {
				return nil, err
			}
			series = append(series, s)
		}
	}
	if asOf.IsZero() {
		latest, ok := LatestDate(series)
		if !ok {
			return &Matrix{Window: window}, nil
		}
		asOf = latest
	}
	return BuildMatrix(series, window, asOf), nil
}

// Ranking is one asset's trailing-window performance at a date.
type Ranking struct {
	Symbol           string   `json:"symbol"`
	CumulativeReturn *float64 `json:"cumulativeReturn"`
	Volatility       *float64 `json:"volatility"`
}

// Rankings returns every asset's window metrics at asOf (latest stored date
// when zero), best cumulative return first. Undefined returns sort last.
func (e *Engine) Rankings(ctx context.Context, window int, asOf time.Time) ([]Ranking, time.Time, error) {
	series, err := e.Universe(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	if asOf.IsZero() {
		latest, ok := LatestDate(series)
		if !ok {
			return nil, time.Time{}, nil
		}
		asOf = latest
	}
	out := make([]Ranking, 0, len(series))
	for _, s := range series {
		r := Ranking{Symbol: s.Symbol}
		if v, err := s.CumulativeReturn(window, asOf); err == nil {
			r.CumulativeReturn = &v
		}
		if v, err := s.Volatility(window, asOf); err == nil {
			r.Volatility = &v
		}
		out = append(out, r)
	}
	SortRankings(out, func(r Ranking) *float64 { return r.CumulativeReturn })
	return out, day(asOf), nil
}

// SortRankings orders by key descending with undefined keys last and ties
// broken by symbol.
func SortRankings(rs []Ranking, key func(Ranking) *float64) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := key(rs[i]), key(rs[j])
		switch {
		case a == nil && b == nil:
			return rs[i].Symbol < rs[j].Symbol
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a > *b
		default:
			return rs[i].Symbol < rs[j].Symbol
		}
	})
}

// Refresh recomputes the metric cache for every asset and returns how many
// rows changed. Re-running it on an unchanged store changes nothing.
func (e *Engine) Refresh(ctx context.Context, window int) (int, error) {
	if e.metrics == nil {
		return 0, fmt.Errorf("refresh: no metrics store configured")
	}
	series, err := e.Universe(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, s := range series {
		points := s.Metrics(window, time.Time{}, time.Time{})
		n, err := e.metrics.Upsert(ctx, points)
		if err != nil {
			return changed, fmt.Errorf("refresh %s: %w", s.Symbol, err)
		}
		changed += n
	}
	e.logger.Info("metrics refreshed", "assets", len(series), "window", window, "changed", changed)
	return changed, nil
}
