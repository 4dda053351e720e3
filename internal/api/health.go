package api

import (
	"net/http"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
	LastRun   *runJSON       `json:"lastRun,omitempty"`
}

type healthServices struct {
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := s.db.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
	}

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus},
	}
	if dbStatus == "connected" {
		if runs, err := s.runs.List(r.Context(), 1); err == nil && len(runs) > 0 {
			last := toRunJSON(runs[0])
			resp.LastRun = &last
			if runs[0].Status == models.RunFailed {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
