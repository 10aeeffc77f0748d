package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// parseWindowDays reads the optional ?days= query parameter. Zero means
// "use the service default".
func parseWindowDays(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

// handleGetPortfolioYield handles GET /api/users/{id}/yield
func (s *Server) handleGetPortfolioYield(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	days, ok := parseWindowDays(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "days must be a positive integer", nil)
		return
	}

	summary, err := s.yieldService.GetPortfolioYield(r.Context(), userID, days)
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleGetPositionYield handles GET /api/users/{id}/yield/positions/{pool}/{asset}
func (s *Server) handleGetPositionYield(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]
	poolID := vars["pool"]
	assetAddress := vars["asset"]

	days, ok := parseWindowDays(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "days must be a positive integer", nil)
		return
	}

	breakdown, err := s.yieldService.GetPositionYield(r.Context(), userID, poolID, assetAddress, days)
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, breakdown)
}

// handleGetBorrowCost handles GET /api/users/{id}/borrow-cost
func (s *Server) handleGetBorrowCost(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]

	days, ok := parseWindowDays(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "days must be a positive integer", nil)
		return
	}

	summary, err := s.yieldService.GetBorrowCost(r.Context(), userID, days)
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
