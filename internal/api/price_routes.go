package api

import (
	"net/http"

	"github.com/kjannette/trahn-marketdata/internal/analytics"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

type priceJSON struct {
	Symbol    string   `json:"symbol"`
	Date      string   `json:"date"`
	Price     float64  `json:"price"`
	MarketCap *float64 `json:"marketCap"`
	Volume    *float64 `json:"volume"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	start, err := parseDateParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDateParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prices, err := s.query.GetPrices(r.Context(), r.PathValue("symbol"), start, end, parseLimit(r, analytics.DefaultPriceLimit))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	out := make([]priceJSON, len(prices))
	for i, p := range prices {
		out[i] = priceJSON{
			Symbol: p.Symbol, Date: models.FormatDate(p.Date),
			Price: p.Price, MarketCap: p.MarketCap, Volume: p.Volume,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
