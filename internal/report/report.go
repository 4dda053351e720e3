package report

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/analytics"
)

type Options struct {
	Window         int
	AsOf           time.Time
	TopN           int
	DrawdownSymbol string
	DrawdownDays   int
}

// Outlier is the asset least correlated with the rest of the universe.
type Outlier struct {
	Symbol         string  `json:"symbol"`
	AvgCorrelation float64 `json:"avgCorrelation"`
}

// Report is the set of plain tables derived from one analytics snapshot.
type Report struct {
	GeneratedAt  time.Time                 `json:"generatedAt"`
	AsOf         time.Time                 `json:"asOf"`
	Window       int                       `json:"window"`
	ByReturn     []analytics.Ranking       `json:"byReturn"`
	ByVolatility []analytics.Ranking       `json:"byVolatility"`
	Matrix       *analytics.Matrix         `json:"correlation"`
	TopPairs     []analytics.Pair          `json:"topPairs"`
	BottomPairs  []analytics.Pair          `json:"bottomPairs"`
	Outlier      *Outlier                  `json:"outlier"`
	Drawdown     []analytics.DrawdownPoint `json:"drawdown,omitempty"`
	DrawdownOf   string                    `json:"drawdownSymbol,omitempty"`
}

// ErrNoData is returned when the store holds no prices to report on.
var ErrNoData = errors.New("no price data to report on")

func Build(ctx context.Context, engine *analytics.Engine, opts Options) (*Report, error) {
	if opts.Window <= 0 {
		opts.Window = analytics.DefaultWindow
	}
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	if opts.DrawdownDays <= 0 {
		opts.DrawdownDays = 60
	}

	byReturn, asOf, err := engine.Rankings(ctx, opts.Window, opts.AsOf)
	if err != nil {
		return nil, fmt.Errorf("rankings: %w", err)
	}
	if asOf.IsZero() {
		return nil, ErrNoData
	}

	byVol := slices.Clone(byReturn)
	analytics.SortRankings(byVol, func(r analytics.Ranking) *float64 { return r.Volatility })

	matrix, err := engine.CorrelationMatrix(ctx, nil, opts.Window, asOf)
	if err != nil {
		return nil, fmt.Errorf("correlation matrix: %w", err)
	}

	pairs := matrix.Pairs()
	rep := &Report{
		GeneratedAt:  time.Now().UTC(),
		AsOf:         asOf,
		Window:       opts.Window,
		ByReturn:     byReturn,
		ByVolatility: byVol,
		Matrix:       matrix,
		TopPairs:     pairs[:min(opts.TopN, len(pairs))],
		BottomPairs:  bottom(pairs, opts.TopN),
		Outlier:      outlier(matrix),
	}

	if opts.DrawdownSymbol != "" {
		dd, err := engine.Drawdown(ctx, opts.DrawdownSymbol, asOf.AddDate(0, 0, -opts.DrawdownDays), asOf)
		switch {
		case errors.Is(err, analytics.ErrAssetNotFound):
		case err != nil:
			return nil, fmt.Errorf("drawdown: %w", err)
		default:
			rep.Drawdown, rep.DrawdownOf = dd, opts.DrawdownSymbol
		}
	}
	return rep, nil
}

// bottom returns the n least correlated pairs, least first.
func bottom(pairs []analytics.Pair, n int) []analytics.Pair {
	out := make([]analytics.Pair, 0, min(n, len(pairs)))
	for i := len(pairs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, pairs[i])
	}
	return out
}

func outlier(m *analytics.Matrix) *Outlier {
	var best *Outlier
	avgs := m.AverageCorrelation()
	for _, sym := range m.Symbols {
		avg, ok := avgs[sym]
		if !ok {
			continue
		}
		if best == nil || avg < best.AvgCorrelation {
			best = &Outlier{Symbol: sym, AvgCorrelation: avg}
		}
	}
	return best
}
