package api

import (
	"net/http"

	"github.com/kjannette/trahn-marketdata/internal/analytics"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.query.GetAssets(r.Context(), parseLimit(r, analytics.DefaultAssetLimit))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	if assets == nil {
		assets = []models.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.query.GetAsset(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}
