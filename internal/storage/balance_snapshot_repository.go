package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// BalanceSnapshotRepository handles the end-of-day balance history in
// ClickHouse. At most one row exists per (user, pool, asset, date); the
// table's ReplacingMergeTree keeps the last write when the snapshot worker
// reruns a day.
type BalanceSnapshotRepository struct {
	db *ClickHouseDB
}

// NewBalanceSnapshotRepository creates a new balance snapshot repository
func NewBalanceSnapshotRepository(db *ClickHouseDB) *BalanceSnapshotRepository {
	return &BalanceSnapshotRepository{db: db}
}

// SaveBalanceSnapshots writes a batch of end-of-day balance rows.
func (r *BalanceSnapshotRepository) SaveBalanceSnapshots(ctx context.Context, snapshots []models.BalanceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO balance_snapshots (user_id, pool_id, asset_address, snapshot_date, supply_balance, collateral_balance, liability_balance)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot batch: %w", err)
	}

	for i := range snapshots {
		s := &snapshots[i]
		err := batch.Append(
			s.UserID,
			s.PoolID,
			strings.ToLower(s.AssetAddress),
			types.DateOnly(s.SnapshotDate),
			s.SupplyBalance,
			s.CollateralBalance,
			s.LiabilityBalance,
		)
		if err != nil {
			return fmt.Errorf("failed to append snapshot to batch: %w", err)
		}
	}

	return batch.Send()
}

// GetSnapshots reads a user's balance history for one asset from fromDate
// onward, across all pools.
func (r *BalanceSnapshotRepository) GetSnapshots(ctx context.Context, userID, assetAddress string, fromDate time.Time) ([]models.BalanceSnapshot, error) {
	query := `
		SELECT user_id, pool_id, asset_address, snapshot_date, supply_balance, collateral_balance, liability_balance
		FROM balance_snapshots
		WHERE user_id = ? AND asset_address = ? AND snapshot_date >= ?
		ORDER BY snapshot_date ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, userID, strings.ToLower(assetAddress), types.DateOnly(fromDate))
	if err != nil {
		return nil, fmt.Errorf("failed to query balance snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.BalanceSnapshot
	for rows.Next() {
		var s models.BalanceSnapshot
		err := rows.Scan(
			&s.UserID,
			&s.PoolID,
			&s.AssetAddress,
			&s.SnapshotDate,
			&s.SupplyBalance,
			&s.CollateralBalance,
			&s.LiabilityBalance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance snapshots: %w", err)
	}

	return snapshots, nil
}

// DeleteOldSnapshots prunes a user's rows older than retentionDays.
func (r *BalanceSnapshotRepository) DeleteOldSnapshots(ctx context.Context, userID string, retentionDays int) error {
	cutoff := types.Today().AddDate(0, 0, -retentionDays)
	query := `
		ALTER TABLE balance_snapshots DELETE
		WHERE user_id = ? AND snapshot_date < ?
	`
	if err := r.db.Exec(ctx, query, userID, cutoff); err != nil {
		return fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return nil
}
