package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// CreateUserRequest is the body for POST /api/users.
type CreateUserRequest struct {
	Email string `json:"email"`
	Tier  string `json:"tier,omitempty"`
}

// handleCreateUser handles POST /api/users
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "A valid email is required", nil)
		return
	}

	exists, err := s.userStore.ExistsByEmail(r.Context(), req.Email)
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}
	if exists {
		respondError(w, http.StatusConflict, "CONFLICT", "A user with this email already exists", nil)
		return
	}

	tier := types.UserTier(req.Tier)
	if tier == "" {
		tier = types.TierFree
	}

	user := &models.User{
		Email: req.Email,
		Tier:  tier,
	}
	if err := s.userStore.Create(r.Context(), user); err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// handleGetUser handles GET /api/users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	user, err := s.userStore.GetByID(r.Context(), vars["id"])
	if err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, user)
}
