package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

// Series is one asset's price history indexed by calendar date. Days follow
// the crypto calendar: every date trades, so the trading day before t is
// always t minus one day.
type Series struct {
	Symbol  string
	AssetID int64
	dates   []time.Time
	prices  map[time.Time]float64
}

func NewSeries(symbol string, points []models.PricePoint) *Series {
	s := &Series{Symbol: symbol, prices: make(map[time.Time]float64, len(points))}
	for _, p := range points {
		d := day(p.Date)
		if _, ok := s.prices[d]; !ok {
			s.dates = append(s.dates, d)
		}
		s.prices[d] = p.Price
		if p.AssetID != 0 {
			s.AssetID = p.AssetID
		}
	}
	sort.Slice(s.dates, func(i, j int) bool { return s.dates[i].Before(s.dates[j]) })
	return s
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Series) Len() int { return len(s.dates) }

func (s *Series) Dates() []time.Time { return s.dates }

func (s *Series) Last() (time.Time, bool) {
	if len(s.dates) == 0 {
		return time.Time{}, false
	}
	return s.dates[len(s.dates)-1], true
}

func (s *Series) Price(d time.Time) (float64, bool) {
	p, ok := s.prices[day(d)]
	return p, ok
}

// DailyReturn is price_t / price_{t-1} - 1. Both days must be stored.
func (s *Series) DailyReturn(d time.Time) (float64, error) {
	d = day(d)
	cur, ok := s.prices[d]
	if !ok {
		return 0, s.insufficient("daily_return", d, 2, 0, "no price on date")
	}
	prev, ok := s.prices[d.AddDate(0, 0, -1)]
	if !ok {
		return 0, s.insufficient("daily_return", d, 2, 1, "no price on previous day")
	}
	return cur/prev - 1, nil
}

// trailingReturns returns the n consecutive daily returns ending at asOf,
// oldest first.
func (s *Series) trailingReturns(metric string, n int, asOf time.Time) ([]float64, error) {
	asOf = day(asOf)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		d := asOf.AddDate(0, 0, -i)
		r, err := s.DailyReturn(d)
		if err != nil {
			return nil, s.insufficient(metric, asOf, n+1, s.consecutiveEnding(asOf), "gap in price history")
		}
		out[n-1-i] = r
	}
	return out, nil
}

// consecutiveEnding counts stored days in the unbroken run ending at d.
func (s *Series) consecutiveEnding(d time.Time) int {
	n := 0
	for {
		if _, ok := s.prices[d.AddDate(0, 0, -n)]; !ok {
			return n
		}
		n++
	}
}

// CumulativeReturn compounds the trailing n daily returns: prod(1+r) - 1.
func (s *Series) CumulativeReturn(n int, asOf time.Time) (float64, error) {
	if n < 1 {
		return 0, s.insufficient("cumulative_return", asOf, 0, 0, "window must be at least 1")
	}
	rets, err := s.trailingReturns("cumulative_return", n, asOf)
	if err != nil {
		return 0, err
	}
	acc := 1.0
	for _, r := range rets {
		acc *= 1 + r
	}
	return acc - 1, nil
}

// Volatility is the sample standard deviation (n-1 denominator) of the
// trailing n daily returns.
func (s *Series) Volatility(n int, asOf time.Time) (float64, error) {
	if n < 2 {
		return 0, s.insufficient("volatility", asOf, 0, 0, "window must be at least 2")
	}
	rets, err := s.trailingReturns("volatility", n, asOf)
	if err != nil {
		return 0, err
	}
	return sampleStd(rets), nil
}

// Returns lists every defined daily return between from and to inclusive.
// Zero bounds are open.
func (s *Series) Returns(from, to time.Time) map[time.Time]float64 {
	out := make(map[time.Time]float64)
	for _, d := range s.dates {
		if !from.IsZero() && d.Before(day(from)) {
			continue
		}
		if !to.IsZero() && d.After(day(to)) {
			break
		}
		if r, err := s.DailyReturn(d); err == nil {
			out[d] = r
		}
	}
	return out
}

// Metrics computes a MetricPoint for every stored date in [from, to].
// Undefined values are left nil.
func (s *Series) Metrics(window int, from, to time.Time) []models.MetricPoint {
	var out []models.MetricPoint
	for _, d := range s.dates {
		if !from.IsZero() && d.Before(day(from)) {
			continue
		}
		if !to.IsZero() && d.After(day(to)) {
			break
		}
		m := models.MetricPoint{AssetID: s.AssetID, Symbol: s.Symbol, Date: d, Window: window}
		if r, err := s.DailyReturn(d); err == nil {
			m.DailyReturn = &r
		}
		if c, err := s.CumulativeReturn(window, d); err == nil {
			m.CumulativeReturn = &c
		}
		if v, err := s.Volatility(window, d); err == nil {
			m.Volatility = &v
		}
		out = append(out, m)
	}
	return out
}

type DrawdownPoint struct {
	Date     time.Time `json:"date"`
	Price    float64   `json:"price"`
	Peak     float64   `json:"peak"`
	Drawdown float64   `json:"drawdown"`
}

// Drawdown is price / running peak - 1 over the stored dates in [from, to].
func (s *Series) Drawdown(from, to time.Time) []DrawdownPoint {
	var out []DrawdownPoint
	peak := 0.0
	for _, d := range s.dates {
		if !from.IsZero() && d.Before(day(from)) {
			continue
		}
		if !to.IsZero() && d.After(day(to)) {
			break
		}
		p := s.prices[d]
		peak = math.Max(peak, p)
		out = append(out, DrawdownPoint{Date: d, Price: p, Peak: peak, Drawdown: p/peak - 1})
	}
	return out
}

func (s *Series) insufficient(metric string, asOf time.Time, need, have int, reason string) error {
	return &InsufficientDataError{Symbol: s.Symbol, Metric: metric, AsOf: day(asOf), Need: need, Have: have, Reason: reason}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// pearson returns the correlation of x and y and false when it is undefined
// (fewer than two pairs or a constant side).
func pearson(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}
	mx, my := mean(x), mean(y)
	var num, dx, dy float64
	for i := range x {
		a, b := x[i]-mx, y[i]-my
		num += a * b
		dx += a * a
		dy += b * b
	}
	if dx <= 0 || dy <= 0 {
		return 0, false
	}
	r := num / math.Sqrt(dx*dy)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}
