// Package adapter provides access to live on-chain state through the
// lending protocol's contracts. The live reader is treated as an opaque,
// possibly-stale oracle: it supplies the "now" side of every yield
// computation and nothing else.
package adapter

import (
	"context"
)

// PositionState is the current on-chain view of one (user, pool, asset)
// position, in display units.
type PositionState struct {
	SupplyTokens    float64 `json:"supplyTokens"`    // supplied + collateralized, incl. queued withdrawals
	LiabilityTokens float64 `json:"liabilityTokens"` // outstanding debt
	BackstopTokens  float64 `json:"backstopTokens"`  // backstop LP tokens, incl. Q4W
	AssetPriceUsd   float64 `json:"assetPriceUsd"`   // live oracle price, 0 when unavailable
	LpTokenPriceUsd float64 `json:"lpTokenPriceUsd"` // live LP token price, 0 when unavailable
}

// LiveStateReader reads current position state from the chain.
type LiveStateReader interface {
	// GetPositionState returns the live state for one position key. A zero
	// PositionState with nil error is valid: the position is closed.
	GetPositionState(ctx context.Context, userID, poolID, assetAddress string) (*PositionState, error)
}
