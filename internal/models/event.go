// Package models provides data models for the yield scanner system.
package models

import (
	"time"

	"github.com/yield-scanner/internal/types"
)

// PositionEvent is one entry in the append-only position ledger. Events are
// created by the upstream indexer and never mutated or deleted here.
// TokenAmount is always positive; Kind implies the direction.
type PositionEvent struct {
	UserID        string          `json:"userId"`
	PoolID        string          `json:"poolId"`
	AssetAddress  string          `json:"assetAddress"`
	Kind          types.EventKind `json:"kind"`
	TokenAmount   float64         `json:"tokenAmount"`
	Timestamp     time.Time       `json:"timestamp"`
	TransactionID string          `json:"transactionId"`
}

// Date returns the event's UTC calendar date.
func (e *PositionEvent) Date() time.Time {
	return types.DateOnly(e.Timestamp)
}

// EventFilter narrows an event ledger query. Zero values mean "no filter".
type EventFilter struct {
	PoolID       string
	AssetAddress string
	Kinds        []types.EventKind
	FromDate     time.Time
	ToDate       time.Time
	Limit        int
}
