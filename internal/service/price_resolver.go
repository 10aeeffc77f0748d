package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// PriceStore is the read-only price history contract the resolver needs.
// A nil snapshot with a nil error means "no price recorded for that date".
type PriceStore interface {
	GetPrice(ctx context.Context, assetAddress string, date time.Time) (*models.PriceSnapshot, error)
	GetLatestBefore(ctx context.Context, assetAddress string, date time.Time, maxLookbackDays int) (*models.PriceSnapshot, error)
}

// DefaultPriceLookbackDays bounds the backward scan of the forward-fill tier.
const DefaultPriceLookbackDays = 365

// PriceResolver resolves an effective USD price for an asset at a date,
// applying the fallback chain: exact date, most recent prior date, live price.
type PriceResolver struct {
	prices       PriceStore
	lookbackDays int
	// now is swapped out in tests; defaults to types.Today.
	now func() time.Time
}

// NewPriceResolver creates a new price resolver.
func NewPriceResolver(prices PriceStore) *PriceResolver {
	return &PriceResolver{
		prices:       prices,
		lookbackDays: DefaultPriceLookbackDays,
		now:          types.Today,
	}
}

// ResolvePrice returns the effective price for the asset at the given date
// and the fallback tier that produced it.
//
// A date on or after today always resolves to the live price: today's row
// may not be written yet and the oracle is authoritative for "now". A live
// fallback with livePrice <= 0 is a hard failure; callers must skip the
// position rather than divide by zero or fabricate a price.
func (r *PriceResolver) ResolvePrice(ctx context.Context, assetAddress string, date time.Time, livePrice float64) (float64, types.PriceSource, error) {
	date = types.DateOnly(date)

	if !date.Before(r.now()) {
		return r.liveFallback(assetAddress, date, livePrice)
	}

	snap, err := r.prices.GetPrice(ctx, assetAddress, date)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read price for %s at %s: %w", assetAddress, date.Format("2006-01-02"), err)
	}
	if snap != nil && snap.UsdPrice > 0 {
		return snap.UsdPrice, types.PriceSourceExact, nil
	}

	snap, err = r.prices.GetLatestBefore(ctx, assetAddress, date, r.lookbackDays)
	if err != nil {
		return 0, "", fmt.Errorf("failed to scan prior prices for %s before %s: %w", assetAddress, date.Format("2006-01-02"), err)
	}
	if snap != nil && snap.UsdPrice > 0 {
		return snap.UsdPrice, types.PriceSourceForwardFill, nil
	}

	return r.liveFallback(assetAddress, date, livePrice)
}

func (r *PriceResolver) liveFallback(assetAddress string, date time.Time, livePrice float64) (float64, types.PriceSource, error) {
	if livePrice <= 0 {
		return 0, "", &types.ServiceError{
			Code:    "NO_USABLE_PRICE",
			Message: fmt.Sprintf("no price available for asset %s", assetAddress),
			Details: map[string]interface{}{
				"assetAddress": assetAddress,
				"date":         date.Format("2006-01-02"),
			},
		}
	}
	return livePrice, types.PriceSourceLiveFallback, nil
}
