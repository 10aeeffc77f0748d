// Package types provides common type definitions for the yield scanner system.
package types

import "time"

// UserTier represents the service tier level
type UserTier string

const (
	// TierFree represents the free service tier with limited features
	TierFree UserTier = "free"
	// TierPaid represents the paid service tier with full features
	TierPaid UserTier = "paid"
)

// EventKind represents the kind of a position-changing ledger event.
// Token amounts are always recorded positive; the kind implies direction.
type EventKind string

const (
	// EventSupply represents tokens supplied to a lending pool
	EventSupply EventKind = "supply"
	// EventWithdraw represents tokens withdrawn from a lending pool
	EventWithdraw EventKind = "withdraw"
	// EventBorrow represents tokens borrowed against collateral
	EventBorrow EventKind = "borrow"
	// EventRepay represents borrowed tokens repaid
	EventRepay EventKind = "repay"
	// EventBackstopDeposit represents LP tokens deposited into the backstop
	EventBackstopDeposit EventKind = "backstop_deposit"
	// EventBackstopWithdraw represents LP tokens withdrawn from the backstop
	EventBackstopWithdraw EventKind = "backstop_withdraw"
	// EventClaim represents emission rewards claimed
	EventClaim EventKind = "claim"
)

// IsValid reports whether k is a known event kind.
func (k EventKind) IsValid() bool {
	switch k {
	case EventSupply, EventWithdraw, EventBorrow, EventRepay,
		EventBackstopDeposit, EventBackstopWithdraw, EventClaim:
		return true
	}
	return false
}

// PriceSource represents which tier of the price fallback chain resolved a price.
type PriceSource string

const (
	// PriceSourceExact means a price snapshot existed for the exact date
	PriceSourceExact PriceSource = "exact"
	// PriceSourceForwardFill means the most recent prior snapshot was used
	PriceSourceForwardFill PriceSource = "forward_fill"
	// PriceSourceLiveFallback means the live oracle price was used
	PriceSourceLiveFallback PriceSource = "live_fallback"
)

// PositionSide distinguishes the supply-side and debt-side computations.
type PositionSide string

const (
	// SideSupply covers supplied and collateralized balances
	SideSupply PositionSide = "supply"
	// SideBorrow covers liability balances (signs mirrored)
	SideBorrow PositionSide = "borrow"
	// SideBackstop covers backstop/LP token positions
	SideBackstop PositionSide = "backstop"
)

// PositionKey identifies one independently-valued position.
type PositionKey struct {
	PoolID       string `json:"poolId"`
	AssetAddress string `json:"assetAddress"`
}

// String returns poolID:assetAddress, the canonical map/cache key form.
func (k PositionKey) String() string {
	return k.PoolID + ":" + k.AssetAddress
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// DateOnly truncates t to its UTC calendar date. All snapshot and price
// lookups operate on calendar dates with end-of-day semantics.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the server's current UTC calendar date.
func Today() time.Time {
	return DateOnly(time.Now())
}
