package models

import (
	"time"

	"github.com/yield-scanner/internal/types"
)

// TrackedPosition is a registry row naming one (user, pool, asset) key the
// yield engine should evaluate. Rows are upserted by the indexer webhook
// when a user first touches a pool/asset pair.
type TrackedPosition struct {
	UserID       string             `json:"userId" db:"user_id"`
	PoolID       string             `json:"poolId" db:"pool_id"`
	AssetAddress string             `json:"assetAddress" db:"asset_address"`
	Side         types.PositionSide `json:"side" db:"side"`
	AssetSymbol  string             `json:"assetSymbol" db:"asset_symbol"`
	Decimals     int                `json:"decimals" db:"decimals"`
	FirstSeenAt  time.Time          `json:"firstSeenAt" db:"first_seen_at"`
	UpdatedAt    time.Time          `json:"updatedAt" db:"updated_at"`
}

// Key returns the position's composite key.
func (p *TrackedPosition) Key() types.PositionKey {
	return types.PositionKey{PoolID: p.PoolID, AssetAddress: p.AssetAddress}
}
