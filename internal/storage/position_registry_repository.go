package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// PositionRegistryRepository handles the tracked-position registry in
// Postgres. The registry enumerates the (user, pool, asset, side) keys the
// yield engine evaluates; rows are upserted by the indexer webhook.
type PositionRegistryRepository struct {
	db *PostgresDB
}

// NewPositionRegistryRepository creates a new position registry repository
func NewPositionRegistryRepository(db *PostgresDB) *PositionRegistryRepository {
	return &PositionRegistryRepository{db: db}
}

// Upsert registers a position, refreshing updated_at when it already
// exists.
func (r *PositionRegistryRepository) Upsert(ctx context.Context, pos *models.TrackedPosition) error {
	if err := validateSide(pos.Side); err != nil {
		return err
	}

	now := time.Now()
	if pos.FirstSeenAt.IsZero() {
		pos.FirstSeenAt = now
	}
	pos.UpdatedAt = now

	query := `
		INSERT INTO tracked_positions (user_id, pool_id, asset_address, side, asset_symbol, decimals, first_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, pool_id, asset_address, side)
		DO UPDATE SET asset_symbol = EXCLUDED.asset_symbol, decimals = EXCLUDED.decimals, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		pos.UserID,
		pos.PoolID,
		strings.ToLower(pos.AssetAddress),
		pos.Side,
		pos.AssetSymbol,
		pos.Decimals,
		pos.FirstSeenAt,
		pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tracked position: %w", err)
	}

	return nil
}

// ListByUser returns all tracked positions for one user.
func (r *PositionRegistryRepository) ListByUser(ctx context.Context, userID string) ([]models.TrackedPosition, error) {
	query := `
		SELECT user_id, pool_id, asset_address, side, asset_symbol, decimals, first_seen_at, updated_at
		FROM tracked_positions
		WHERE user_id = $1
		ORDER BY pool_id, asset_address, side
	`
	return r.list(ctx, query, userID)
}

// ListAll returns every tracked position across all users. Used by the
// snapshot worker.
func (r *PositionRegistryRepository) ListAll(ctx context.Context) ([]models.TrackedPosition, error) {
	query := `
		SELECT user_id, pool_id, asset_address, side, asset_symbol, decimals, first_seen_at, updated_at
		FROM tracked_positions
		ORDER BY user_id, pool_id, asset_address, side
	`
	return r.list(ctx, query)
}

func (r *PositionRegistryRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.TrackedPosition, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked positions: %w", err)
	}
	defer rows.Close()

	var positions []models.TrackedPosition
	for rows.Next() {
		var p models.TrackedPosition
		err := rows.Scan(
			&p.UserID,
			&p.PoolID,
			&p.AssetAddress,
			&p.Side,
			&p.AssetSymbol,
			&p.Decimals,
			&p.FirstSeenAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracked positions: %w", err)
	}

	return positions, nil
}

// AssetDecimals returns the decimals registered for each asset address.
// The RPC reader uses this to convert raw contract amounts to display
// units.
func (r *PositionRegistryRepository) AssetDecimals(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT DISTINCT asset_address, decimals
		FROM tracked_positions
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset decimals: %w", err)
	}
	defer rows.Close()

	decimals := make(map[string]int)
	for rows.Next() {
		var asset string
		var d int
		if err := rows.Scan(&asset, &d); err != nil {
			return nil, fmt.Errorf("failed to scan asset decimals: %w", err)
		}
		decimals[asset] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset decimals: %w", err)
	}

	return decimals, nil
}

// Delete removes one tracked position.
func (r *PositionRegistryRepository) Delete(ctx context.Context, userID, poolID, assetAddress string, side types.PositionSide) error {
	query := `
		DELETE FROM tracked_positions
		WHERE user_id = $1 AND pool_id = $2 AND asset_address = $3 AND side = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, userID, poolID, strings.ToLower(assetAddress), side)
	if err != nil {
		return fmt.Errorf("failed to delete tracked position: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &types.ServiceError{
			Code:    "POSITION_NOT_FOUND",
			Message: fmt.Sprintf("no tracked position %s:%s for user", poolID, assetAddress),
			Details: map[string]interface{}{
				"poolId":       poolID,
				"assetAddress": assetAddress,
				"side":         string(side),
			},
		}
	}

	return nil
}

// validateSide validates that the side is one of the allowed values
func validateSide(side types.PositionSide) error {
	switch side {
	case types.SideSupply, types.SideBorrow, types.SideBackstop:
		return nil
	default:
		return &types.ServiceError{
			Code:    "INVALID_PARAMETER",
			Message: fmt.Sprintf("invalid position side: %s", side),
			Details: map[string]interface{}{"side": string(side)},
		}
	}
}
