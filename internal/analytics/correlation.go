package analytics

import (
	"sort"
	"time"
)

// CorrelationResult is the Pearson correlation of two aligned daily return
// series.
type CorrelationResult struct {
	AssetA      string    `json:"assetA"`
	AssetB      string    `json:"assetB"`
	Window      int       `json:"window"`
	AsOf        time.Time `json:"asOf"`
	Overlap     int       `json:"overlap"`
	Start       time.Time `json:"start,omitzero"`
	End         time.Time `json:"end,omitzero"`
	Coefficient float64   `json:"correlation"`
}

// Correlate aligns the daily returns of a and b dated within the window
// days ending at asOf. Only dates where both returns are defined are used.
func Correlate(a, b *Series, window int, asOf time.Time) (CorrelationResult, error) {
	asOf = day(asOf)
	res := CorrelationResult{AssetA: a.Symbol, AssetB: b.Symbol, Window: window, AsOf: asOf}
	from := asOf.AddDate(0, 0, -(window - 1))

	ra := a.Returns(from, asOf)
	rb := b.Returns(from, asOf)
	var common []time.Time
	for d := range ra {
		if _, ok := rb[d]; ok {
			common = append(common, d)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })

	res.Overlap = len(common)
	if len(common) > 0 {
		res.Start, res.End = common[0], common[len(common)-1]
	}
	insufficient := &InsufficientDataError{
		Symbol: a.Symbol + "/" + b.Symbol, Metric: "correlation", AsOf: asOf,
		Need: 2, Have: len(common),
	}
	if len(common) < 2 {
		insufficient.Reason = "too few overlapping returns"
		return res, insufficient
	}

	x := make([]float64, len(common))
	y := make([]float64, len(common))
	for i, d := range common {
		x[i], y[i] = ra[d], rb[d]
	}
	r, ok := pearson(x, y)
	if !ok {
		insufficient.Reason = "constant return series"
		insufficient.Need = 0
		return res, insufficient
	}
	res.Coefficient = r
	return res, nil
}

// Matrix holds pairwise correlations. Values[i][j] is nil where the pair is
// undefined.
type Matrix struct {
	Symbols []string     `json:"symbols"`
	Window  int          `json:"window"`
	AsOf    time.Time    `json:"asOf"`
	Values  [][]*float64 `json:"values"`
	Overlap [][]int      `json:"overlap"`
}

func BuildMatrix(series []*Series, window int, asOf time.Time) *Matrix {
	n := len(series)
	m := &Matrix{
		Symbols: make([]string, n),
		Window:  window,
		AsOf:    day(asOf),
		Values:  make([][]*float64, n),
		Overlap: make([][]int, n),
	}
	for i, s := range series {
		m.Symbols[i] = s.Symbol
		m.Values[i] = make([]*float64, n)
		m.Overlap[i] = make([]int, n)
	}
	for i := 0; i < n; i++ {
		one := 1.0
		m.Values[i][i] = &one
		m.Overlap[i][i] = len(series[i].Returns(asOf.AddDate(0, 0, -(window-1)), asOf))
		for j := i + 1; j < n; j++ {
			res, err := Correlate(series[i], series[j], window, asOf)
			m.Overlap[i][j], m.Overlap[j][i] = res.Overlap, res.Overlap
			if err != nil {
				continue
			}
			v := res.Coefficient
			m.Values[i][j], m.Values[j][i] = &v, &v
		}
	}
	return m
}

type Pair struct {
	AssetA      string  `json:"assetA"`
	AssetB      string  `json:"assetB"`
	Correlation float64 `json:"correlation"`
	Overlap     int     `json:"overlap"`
}

// Pairs lists every defined off-diagonal pair, most correlated first.
func (m *Matrix) Pairs() []Pair {
	var out []Pair
	for i := range m.Symbols {
		for j := i + 1; j < len(m.Symbols); j++ {
			if v := m.Values[i][j]; v != nil {
				out = append(out, Pair{AssetA: m.Symbols[i], AssetB: m.Symbols[j], Correlation: *v, Overlap: m.Overlap[i][j]})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Correlation > out[j].Correlation })
	return out
}

// AverageCorrelation is the mean defined off-diagonal correlation of each
// symbol. Symbols with no defined pair are absent.
func (m *Matrix) AverageCorrelation() map[string]float64 {
	out := make(map[string]float64)
	for i, sym := range m.Symbols {
		var vals []float64
		for j, v := range m.Values[i] {
			if i != j && v != nil {
				vals = append(vals, *v)
			}
		}
		if len(vals) > 0 {
			out[sym] = mean(vals)
		}
	}
	return out
}
