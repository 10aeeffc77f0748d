package api

import (
	"net/http"
	"time"

	"github.com/yield-scanner/internal/logging"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// IndexerEvent is one ledger entry in the webhook payload.
type IndexerEvent struct {
	UserID        string    `json:"userId"`
	PoolID        string    `json:"poolId"`
	AssetAddress  string    `json:"assetAddress"`
	Kind          string    `json:"kind"`
	TokenAmount   float64   `json:"tokenAmount"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transactionId"`
	AssetSymbol   string    `json:"assetSymbol,omitempty"`
	Decimals      int       `json:"decimals,omitempty"`
}

// IndexerEventsRequest is the body for POST /indexer/events.
type IndexerEventsRequest struct {
	Events []IndexerEvent `json:"events"`
}

// IndexerEventsResponse reports how much of the batch was accepted.
type IndexerEventsResponse struct {
	Accepted int `json:"accepted"`
}

// handleIndexerEvents handles POST /indexer/events. The upstream indexer
// pushes batches of ledger events here; the handler appends them, registers
// any newly-seen positions, and invalidates the affected users' cached
// summaries. Redelivered batches are safe: the ledger dedupes on its key.
func (s *Server) handleIndexerEvents(w http.ResponseWriter, r *http.Request) {
	var req IndexerEventsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if len(req.Events) == 0 {
		respondJSON(w, http.StatusOK, IndexerEventsResponse{Accepted: 0})
		return
	}

	events := make([]models.PositionEvent, 0, len(req.Events))
	for i := range req.Events {
		ev := &req.Events[i]
		kind := types.EventKind(ev.Kind)
		if !kind.IsValid() {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Unknown event kind: "+ev.Kind, map[string]interface{}{
				"transactionId": ev.TransactionID,
			})
			return
		}
		if ev.UserID == "" || ev.PoolID == "" || ev.AssetAddress == "" || ev.TransactionID == "" {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Event is missing required fields", map[string]interface{}{
				"transactionId": ev.TransactionID,
			})
			return
		}
		if ev.TokenAmount <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Token amount must be positive", map[string]interface{}{
				"transactionId": ev.TransactionID,
			})
			return
		}
		events = append(events, models.PositionEvent{
			UserID:        ev.UserID,
			PoolID:        ev.PoolID,
			AssetAddress:  ev.AssetAddress,
			Kind:          kind,
			TokenAmount:   ev.TokenAmount,
			Timestamp:     ev.Timestamp,
			TransactionID: ev.TransactionID,
		})
	}

	if err := s.eventIngest.SaveEvents(r.Context(), events); err != nil {
		status, code, message := mapServiceError(err)
		respondError(w, status, code, message, nil)
		return
	}

	s.registerPositions(r, req.Events)
	s.invalidateUsers(r, events)

	respondJSON(w, http.StatusOK, IndexerEventsResponse{Accepted: len(events)})
}

// registerPositions upserts registry rows for every position the batch
// touches. Claim events change no balance and register nothing.
func (s *Server) registerPositions(r *http.Request, events []IndexerEvent) {
	seen := make(map[string]bool)
	for i := range events {
		ev := &events[i]
		side, ok := sideForKind(types.EventKind(ev.Kind))
		if !ok {
			continue
		}
		key := ev.UserID + ":" + ev.PoolID + ":" + ev.AssetAddress + ":" + string(side)
		if seen[key] {
			continue
		}
		seen[key] = true

		decimals := ev.Decimals
		if decimals == 0 {
			decimals = 18
		}
		pos := &models.TrackedPosition{
			UserID:       ev.UserID,
			PoolID:       ev.PoolID,
			AssetAddress: ev.AssetAddress,
			Side:         side,
			AssetSymbol:  ev.AssetSymbol,
			Decimals:     decimals,
		}
		if err := s.registry.Upsert(r.Context(), pos); err != nil {
			logging.WithError(err).WithFields(map[string]interface{}{
				"userId":       ev.UserID,
				"poolId":       ev.PoolID,
				"assetAddress": ev.AssetAddress,
			}).Error("Failed to register position from webhook")
		}
	}
}

// invalidateUsers drops cached summaries for every user in the batch.
func (s *Server) invalidateUsers(r *http.Request, events []models.PositionEvent) {
	if s.cache == nil {
		return
	}
	seen := make(map[string]bool)
	for i := range events {
		userID := events[i].UserID
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if err := s.cache.InvalidateUser(r.Context(), userID); err != nil {
			logging.WithError(err).WithField("userId", userID).Warn("Failed to invalidate cached summaries")
		}
	}
}

// sideForKind maps an event kind to the position side it belongs to.
func sideForKind(kind types.EventKind) (types.PositionSide, bool) {
	switch kind {
	case types.EventSupply, types.EventWithdraw:
		return types.SideSupply, true
	case types.EventBorrow, types.EventRepay:
		return types.SideBorrow, true
	case types.EventBackstopDeposit, types.EventBackstopWithdraw:
		return types.SideBackstop, true
	default:
		return "", false
	}
}
