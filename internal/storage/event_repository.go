package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// EventRepository handles the append-only position event ledger in
// ClickHouse. Events are written by the indexer webhook and never updated;
// the table's ReplacingMergeTree key (user, pool, asset, kind, tx) absorbs
// webhook redelivery.
type EventRepository struct {
	db *ClickHouseDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *ClickHouseDB) *EventRepository {
	return &EventRepository{db: db}
}

// SaveEvents appends a batch of ledger events.
func (r *EventRepository) SaveEvents(ctx context.Context, events []models.PositionEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO position_events (user_id, pool_id, asset_address, kind, token_amount, timestamp, transaction_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event batch: %w", err)
	}

	for i := range events {
		ev := &events[i]
		if !ev.Kind.IsValid() {
			return &types.ServiceError{
				Code:    "INVALID_EVENT_KIND",
				Message: fmt.Sprintf("unknown event kind: %s", ev.Kind),
				Details: map[string]interface{}{"kind": string(ev.Kind), "transactionId": ev.TransactionID},
			}
		}
		err := batch.Append(
			ev.UserID,
			ev.PoolID,
			strings.ToLower(ev.AssetAddress),
			string(ev.Kind),
			ev.TokenAmount,
			ev.Timestamp,
			ev.TransactionID,
		)
		if err != nil {
			return fmt.Errorf("failed to append event to batch: %w", err)
		}
	}

	return batch.Send()
}

// GetEvents reads a user's ledger entries matching the filter, oldest
// first.
func (r *EventRepository) GetEvents(ctx context.Context, userID string, filter models.EventFilter) ([]models.PositionEvent, error) {
	query := `
		SELECT user_id, pool_id, asset_address, kind, token_amount, timestamp, transaction_id
		FROM position_events
		WHERE user_id = ?
	`
	args := []interface{}{userID}

	if filter.PoolID != "" {
		query += " AND pool_id = ?"
		args = append(args, filter.PoolID)
	}
	if filter.AssetAddress != "" {
		query += " AND asset_address = ?"
		args = append(args, strings.ToLower(filter.AssetAddress))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		query += " AND kind IN (?)"
		args = append(args, kinds)
	}
	if !filter.FromDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, types.DateOnly(filter.FromDate))
	}
	if !filter.ToDate.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, types.DateOnly(filter.ToDate).AddDate(0, 0, 1))
	}

	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.PositionEvent
	for rows.Next() {
		var ev models.PositionEvent
		var kind string
		err := rows.Scan(
			&ev.UserID,
			&ev.PoolID,
			&ev.AssetAddress,
			&kind,
			&ev.TokenAmount,
			&ev.Timestamp,
			&ev.TransactionID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = types.EventKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CountEvents returns the number of ledger entries for a user.
func (r *EventRepository) CountEvents(ctx context.Context, userID string) (uint64, error) {
	var count uint64
	err := r.db.Conn().QueryRow(ctx,
		`SELECT count() FROM position_events WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
