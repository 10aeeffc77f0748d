package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// EventNetter computes net token flows of a position within a query window,
// annotating each flow with the price prevailing at the event's own date.
type EventNetter struct {
	resolver *PriceResolver
}

// NewEventNetter creates a new event netter.
func NewEventNetter(resolver *PriceResolver) *EventNetter {
	return &EventNetter{resolver: resolver}
}

// NetEventsInWindow filters events to the (poolID, assetAddress) key and to
// event.date >= windowStart, then classifies them into deposits and
// withdrawals for the given side.
//
// The inclusive >= boundary pairs with BalanceBeforeDate's strict < : the
// start-of-window balance is "strictly before windowStart", so an event on
// windowStart belongs to the window, not the baseline. Matching the two
// conventions is what prevents double counting and gaps.
//
// For SideSupply, Supply counts as deposit and Withdraw as withdrawal; for
// SideBorrow the debt grows on Borrow and shrinks on Repay, so Borrow is
// the "deposit" and Repay the "withdrawal" (formulas are structurally
// identical with signs flipped); for SideBackstop the backstop kinds apply.
func (n *EventNetter) NetEventsInWindow(
	ctx context.Context,
	events []models.PositionEvent,
	poolID, assetAddress string,
	windowStart time.Time,
	side types.PositionSide,
	livePrice float64,
) (WindowFlows, error) {
	windowStart = types.DateOnly(windowStart)
	var flows WindowFlows

	for i := range events {
		ev := &events[i]
		if ev.PoolID != poolID || ev.AssetAddress != assetAddress {
			continue
		}
		if ev.Date().Before(windowStart) {
			continue
		}

		direction, ok := classify(ev.Kind, side)
		if !ok {
			continue
		}

		price, source, err := n.resolver.ResolvePrice(ctx, assetAddress, ev.Date(), livePrice)
		if err != nil {
			return WindowFlows{}, fmt.Errorf("failed to price event %s: %w", ev.TransactionID, err)
		}

		flow := Flow{
			Tokens:       ev.TokenAmount,
			Date:         ev.Date(),
			PriceAtEvent: price,
			PriceSource:  source,
		}
		if direction > 0 {
			flows.Deposits = append(flows.Deposits, flow)
		} else {
			flows.Withdrawals = append(flows.Withdrawals, flow)
		}
	}

	return flows, nil
}

// classify maps an event kind to a flow direction for the given side.
// Returns +1 for deposit-like, -1 for withdrawal-like, ok=false when the
// kind does not belong to the side (including Claim, which changes no
// position balance).
func classify(kind types.EventKind, side types.PositionSide) (int, bool) {
	switch side {
	case types.SideSupply:
		switch kind {
		case types.EventSupply:
			return 1, true
		case types.EventWithdraw:
			return -1, true
		}
	case types.SideBorrow:
		switch kind {
		case types.EventBorrow:
			return 1, true
		case types.EventRepay:
			return -1, true
		}
	case types.SideBackstop:
		switch kind {
		case types.EventBackstopDeposit:
			return 1, true
		case types.EventBackstopWithdraw:
			return -1, true
		}
	}
	return 0, false
}
