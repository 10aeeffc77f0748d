package models

import "time"

// BalanceSnapshot is one end-of-day balance record for a (user, pool, asset)
// key. It represents the balance as of the end of SnapshotDate: the snapshot
// for day D is state after day D's events. Balances are in display units
// (raw amounts divided by 10^decimals upstream). At most one snapshot exists
// per key per date.
type BalanceSnapshot struct {
	UserID            string    `json:"userId"`
	PoolID            string    `json:"poolId"`
	AssetAddress      string    `json:"assetAddress"`
	SnapshotDate      time.Time `json:"snapshotDate"`
	SupplyBalance     float64   `json:"supplyBalance"`
	CollateralBalance float64   `json:"collateralBalance"`
	LiabilityBalance  float64   `json:"liabilityBalance"`
}

// SuppliedTotal returns supply + collateral, both "supplied" capital from
// the user's perspective.
func (s *BalanceSnapshot) SuppliedTotal() float64 {
	return s.SupplyBalance + s.CollateralBalance
}

// PriceSnapshot is one end-of-day USD price for an asset. UsdPrice is
// always > 0 when a row exists; a missing date is valid and handled by the
// resolver's fallback chain.
type PriceSnapshot struct {
	AssetAddress string    `json:"assetAddress"`
	PriceDate    time.Time `json:"priceDate"`
	UsdPrice     float64   `json:"usdPrice"`
}
