package api

import (
	"net/http"
	"strings"

	"github.com/kjannette/trahn-marketdata/internal/analytics"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

type metricJSON struct {
	Symbol           string   `json:"symbol"`
	Date             string   `json:"date"`
	Window           int      `json:"window"`
	DailyReturn      *float64 `json:"dailyReturn"`
	CumulativeReturn *float64 `json:"cumulativeReturn"`
	Volatility       *float64 `json:"volatility"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asOf, err := parseDateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	symbol := r.PathValue("symbol")
	var metrics []models.MetricPoint
	if r.URL.Query().Get("source") == "stored" {
		from := asOf
		if !asOf.IsZero() {
			from = asOf.AddDate(0, 0, -window)
		}
		metrics, err = s.query.StoredMetrics(r.Context(), symbol, window, from, asOf)
	} else {
		metrics, err = s.query.GetMetrics(r.Context(), symbol, window, asOf)
	}
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMetricJSON(metrics))
}

func toMetricJSON(metrics []models.MetricPoint) []metricJSON {
	out := make([]metricJSON, len(metrics))
	for i, m := range metrics {
		out[i] = metricJSON{
			Symbol: m.Symbol, Date: models.FormatDate(m.Date), Window: m.Window,
			DailyReturn: m.DailyReturn, CumulativeReturn: m.CumulativeReturn, Volatility: m.Volatility,
		}
	}
	return out
}

// handleLatestMetrics lists every asset's metrics on one date.
func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asOf, err := parseDateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, _, err := s.query.LatestMetrics(r.Context(), window, asOf, parseLimit(r, analytics.DefaultAssetLimit))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMetricJSON(metrics))
}

type correlationJSON struct {
	Asset1      string   `json:"asset1"`
	Asset2      string   `json:"asset2"`
	Window      int      `json:"window"`
	AsOf        string   `json:"asOf,omitempty"`
	Points      int      `json:"nPoints"`
	Correlation *float64 `json:"correlation"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// handleCorrelation answers 200 with a null correlation and a note when the
// pair is undefined for the window.
func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, b := q.Get("asset1"), q.Get("asset2")
	if a == "" || b == "" {
		writeError(w, http.StatusBadRequest, "asset1 and asset2 are required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asOf, err := parseDateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.query.GetCorrelation(r.Context(), a, b, window, asOf)
	out := correlationJSON{
		Asset1: strings.ToUpper(a), Asset2: strings.ToUpper(b), Window: window,
		Points: res.Overlap,
	}
	if !res.AsOf.IsZero() {
		out.AsOf = models.FormatDate(res.AsOf)
	}
	if !res.Start.IsZero() {
		out.StartDate, out.EndDate = models.FormatDate(res.Start), models.FormatDate(res.End)
	}
	switch {
	case analytics.IsInsufficient(err):
		out.Note = err.Error()
	case err != nil:
		s.writeQueryError(w, r, err)
		return
	default:
		c := res.Coefficient
		out.Correlation = &c
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCorrelationMatrix(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if window < analytics.MinWindow || window > analytics.MaxWindow {
		writeError(w, http.StatusUnprocessableEntity, "window out of range")
		return
	}
	asOf, err := parseDateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var symbols []string
	if v := r.URL.Query().Get("symbols"); v != "" {
		symbols = strings.Split(v, ",")
	}

	m, err := s.query.Engine().CorrelationMatrix(r.Context(), symbols, window, asOf)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
