package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// PriceRepository handles the daily asset price history in ClickHouse.
// Rows only exist for dates the snapshot worker ran; gaps are expected and
// handled by the resolver's fallback chain, not here.
type PriceRepository struct {
	db *ClickHouseDB
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *ClickHouseDB) *PriceRepository {
	return &PriceRepository{db: db}
}

// SavePriceSnapshots writes a batch of daily price rows.
func (r *PriceRepository) SavePriceSnapshots(ctx context.Context, snapshots []models.PriceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO price_snapshots (asset_address, price_date, usd_price)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare price batch: %w", err)
	}

	for i := range snapshots {
		s := &snapshots[i]
		if s.UsdPrice <= 0 {
			continue
		}
		err := batch.Append(
			strings.ToLower(s.AssetAddress),
			types.DateOnly(s.PriceDate),
			s.UsdPrice,
		)
		if err != nil {
			return fmt.Errorf("failed to append price to batch: %w", err)
		}
	}

	return batch.Send()
}

// GetPrice returns the price row for the exact date, or nil when no row
// exists for that date.
func (r *PriceRepository) GetPrice(ctx context.Context, assetAddress string, date time.Time) (*models.PriceSnapshot, error) {
	query := `
		SELECT asset_address, price_date, usd_price
		FROM price_snapshots
		WHERE asset_address = ? AND price_date = ?
		LIMIT 1
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(assetAddress), types.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query price: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var snap models.PriceSnapshot
	if err := rows.Scan(&snap.AssetAddress, &snap.PriceDate, &snap.UsdPrice); err != nil {
		return nil, fmt.Errorf("failed to scan price: %w", err)
	}
	return &snap, nil
}

// GetLatestBefore returns the most recent price row strictly before date,
// scanning back at most maxLookbackDays. Nil result means no row in range.
func (r *PriceRepository) GetLatestBefore(ctx context.Context, assetAddress string, date time.Time, maxLookbackDays int) (*models.PriceSnapshot, error) {
	date = types.DateOnly(date)
	earliest := date.AddDate(0, 0, -maxLookbackDays)

	query := `
		SELECT asset_address, price_date, usd_price
		FROM price_snapshots
		WHERE asset_address = ? AND price_date < ? AND price_date >= ?
		ORDER BY price_date DESC
		LIMIT 1
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(assetAddress), date, earliest)
	if err != nil {
		return nil, fmt.Errorf("failed to query prior prices: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var snap models.PriceSnapshot
	if err := rows.Scan(&snap.AssetAddress, &snap.PriceDate, &snap.UsdPrice); err != nil {
		return nil, fmt.Errorf("failed to scan price: %w", err)
	}
	return &snap, nil
}

// GetPriceRange returns the ordered price history for an asset between two
// dates, inclusive.
func (r *PriceRepository) GetPriceRange(ctx context.Context, assetAddress string, from, to time.Time) ([]models.PriceSnapshot, error) {
	query := `
		SELECT asset_address, price_date, usd_price
		FROM price_snapshots
		WHERE asset_address = ? AND price_date >= ? AND price_date <= ?
		ORDER BY price_date ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(assetAddress), types.DateOnly(from), types.DateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query price range: %w", err)
	}
	defer rows.Close()

	var snapshots []models.PriceSnapshot
	for rows.Next() {
		var s models.PriceSnapshot
		if err := rows.Scan(&s.AssetAddress, &s.PriceDate, &s.UsdPrice); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}

	return snapshots, nil
}
