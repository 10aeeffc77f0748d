package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/yield-scanner/internal/storage"
)

// UpsertPoolRequest is the body for PUT /api/pools.
type UpsertPoolRequest struct {
	PoolID          string  `json:"poolId"`
	Name            string  `json:"name"`
	OracleAddress   *string `json:"oracleAddress,omitempty"`
	BackstopAddress *string `json:"backstopAddress,omitempty"`
	LpTokenAddress  *string `json:"lpTokenAddress,omitempty"`
}

// handleListPools handles GET /api/pools
func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.pools.List(r.Context())
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}
	if pools == nil {
		pools = []storage.Pool{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
}

// handleGetPool handles GET /api/pools/{pool}
func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	pool, err := s.pools.GetByPoolID(r.Context(), vars["pool"])
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}
	if pool == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown pool", nil)
		return
	}
	respondJSON(w, http.StatusOK, pool)
}

// handleUpsertPool handles PUT /api/pools. Like the indexer webhook this is
// a trusted-upstream surface; it refreshes pool metadata idempotently.
func (s *Server) handleUpsertPool(w http.ResponseWriter, r *http.Request) {
	var req UpsertPoolRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	req.PoolID = strings.TrimSpace(req.PoolID)
	req.Name = strings.TrimSpace(req.Name)
	if req.PoolID == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "poolId and name are required", nil)
		return
	}

	pool := &storage.Pool{
		PoolID:          req.PoolID,
		Name:            req.Name,
		OracleAddress:   req.OracleAddress,
		BackstopAddress: req.BackstopAddress,
		LpTokenAddress:  req.LpTokenAddress,
	}
	if err := s.pools.Upsert(r.Context(), pool); err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}
	respondJSON(w, http.StatusOK, pool)
}
