package api

import (
	"net/http"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

type runJSON struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt"`
	AssetsLoaded   int        `json:"assetsLoaded"`
	PricesLoaded   int        `json:"pricesLoaded"`
	PricesRejected int        `json:"pricesRejected"`
	AssetsSkipped  int        `json:"assetsSkipped"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
}

func toRunJSON(r models.EtlRun) runJSON {
	return runJSON{
		ID: r.ID, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt,
		AssetsLoaded: r.AssetsLoaded, PricesLoaded: r.PricesLoaded,
		PricesRejected: r.PricesRejected, AssetsSkipped: r.AssetsSkipped,
		Status: string(r.Status), Error: r.Error,
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context(), parseLimit(r, 20))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	out := make([]runJSON, len(runs))
	for i, run := range runs {
		out[i] = toRunJSON(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, toRunJSON(*run))
}
