package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// PriceHistoryResponse is the body for GET /api/assets/{asset}/prices.
type PriceHistoryResponse struct {
	AssetAddress string                 `json:"assetAddress"`
	From         string                 `json:"from"`
	To           string                 `json:"to"`
	Prices       []models.PriceSnapshot `json:"prices"`
}

// handleGetAssetPrices handles GET /api/assets/{asset}/prices
// Optional query parameters from and to are YYYY-MM-DD dates; the default
// range is the trailing 30 days.
func (s *Server) handleGetAssetPrices(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetAddress := vars["asset"]

	to := types.Today()
	from := to.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must be a YYYY-MM-DD date", nil)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "to must be a YYYY-MM-DD date", nil)
			return
		}
		to = parsed
	}
	if to.Before(from) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "to must not precede from", nil)
		return
	}

	prices, err := s.priceHistory.GetPriceRange(r.Context(), assetAddress, from, to)
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, PriceHistoryResponse{
		AssetAddress: assetAddress,
		From:         from.Format("2006-01-02"),
		To:           to.Format("2006-01-02"),
		Prices:       prices,
	})
}
