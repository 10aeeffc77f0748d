package service

import (
	"context"
	"testing"
	"time"

	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

func supplyEvent(kind types.EventKind, day string, tokens float64) models.PositionEvent {
	return models.PositionEvent{
		UserID:        "user-1",
		PoolID:        "pool-a",
		AssetAddress:  "0xusdc",
		Kind:          kind,
		TokenAmount:   tokens,
		Timestamp:     date(day).Add(14 * time.Hour),
		TransactionID: "tx-" + day,
	}
}

func netterWithPrices(t *testing.T, prices map[string][]models.PriceSnapshot) *EventNetter {
	t.Helper()
	r := testResolver(&mockPriceStore{prices: prices}, "2026-02-01")
	return NewEventNetter(r)
}

func TestNetEventsInWindow_BoundaryInclusive(t *testing.T) {
	netter := netterWithPrices(t, nil)
	events := []models.PositionEvent{
		// Day before windowStart: part of the baseline, not the window.
		supplyEvent(types.EventSupply, "2026-01-09", 10),
		// Exactly windowStart: belongs to the window.
		supplyEvent(types.EventSupply, "2026-01-10", 20),
		supplyEvent(types.EventWithdraw, "2026-01-15", 5),
	}

	flows, err := netter.NetEventsInWindow(context.Background(), events, "pool-a", "0xusdc", date("2026-01-10"), types.SideSupply, 1.0)
	if err != nil {
		t.Fatalf("NetEventsInWindow() error = %v", err)
	}
	if len(flows.Deposits) != 1 || flows.Deposits[0].Tokens != 20 {
		t.Errorf("Deposits = %+v, want one deposit of 20 (windowStart inclusive, prior day excluded)", flows.Deposits)
	}
	if len(flows.Withdrawals) != 1 || flows.Withdrawals[0].Tokens != 5 {
		t.Errorf("Withdrawals = %+v, want one withdrawal of 5", flows.Withdrawals)
	}
	if got := flows.NetDeposited(); got != 15 {
		t.Errorf("NetDeposited() = %v, want 15", got)
	}
}

func TestNetEventsInWindow_SideClassification(t *testing.T) {
	tests := []struct {
		name            string
		side            types.PositionSide
		kind            types.EventKind
		wantDeposits    int
		wantWithdrawals int
	}{
		{"supply on supply side", types.SideSupply, types.EventSupply, 1, 0},
		{"withdraw on supply side", types.SideSupply, types.EventWithdraw, 0, 1},
		{"borrow grows debt", types.SideBorrow, types.EventBorrow, 1, 0},
		{"repay shrinks debt", types.SideBorrow, types.EventRepay, 0, 1},
		{"backstop deposit", types.SideBackstop, types.EventBackstopDeposit, 1, 0},
		{"backstop withdraw", types.SideBackstop, types.EventBackstopWithdraw, 0, 1},
		{"borrow ignored on supply side", types.SideSupply, types.EventBorrow, 0, 0},
		{"supply ignored on borrow side", types.SideBorrow, types.EventSupply, 0, 0},
		{"claim never a flow", types.SideSupply, types.EventClaim, 0, 0},
	}

	netter := netterWithPrices(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []models.PositionEvent{supplyEvent(tt.kind, "2026-01-15", 10)}
			flows, err := netter.NetEventsInWindow(context.Background(), events, "pool-a", "0xusdc", date("2026-01-10"), tt.side, 1.0)
			if err != nil {
				t.Fatalf("NetEventsInWindow() error = %v", err)
			}
			if len(flows.Deposits) != tt.wantDeposits {
				t.Errorf("deposits = %d, want %d", len(flows.Deposits), tt.wantDeposits)
			}
			if len(flows.Withdrawals) != tt.wantWithdrawals {
				t.Errorf("withdrawals = %d, want %d", len(flows.Withdrawals), tt.wantWithdrawals)
			}
		})
	}
}

func TestNetEventsInWindow_PricesAtEventDate(t *testing.T) {
	netter := netterWithPrices(t, map[string][]models.PriceSnapshot{
		"0xusdc": {
			{AssetAddress: "0xusdc", PriceDate: date("2026-01-12"), UsdPrice: 0.98},
			{AssetAddress: "0xusdc", PriceDate: date("2026-01-20"), UsdPrice: 1.02},
		},
	})
	events := []models.PositionEvent{
		supplyEvent(types.EventSupply, "2026-01-12", 100),
		supplyEvent(types.EventSupply, "2026-01-20", 100),
	}

	flows, err := netter.NetEventsInWindow(context.Background(), events, "pool-a", "0xusdc", date("2026-01-10"), types.SideSupply, 1.0)
	if err != nil {
		t.Fatalf("NetEventsInWindow() error = %v", err)
	}
	if len(flows.Deposits) != 2 {
		t.Fatalf("deposits = %d, want 2", len(flows.Deposits))
	}
	if flows.Deposits[0].PriceAtEvent != 0.98 || flows.Deposits[1].PriceAtEvent != 1.02 {
		t.Errorf("event prices = %v, %v; want 0.98 and 1.02 (each flow priced at its own date)",
			flows.Deposits[0].PriceAtEvent, flows.Deposits[1].PriceAtEvent)
	}
	if flows.Deposits[0].PriceSource != types.PriceSourceExact {
		t.Errorf("source = %v, want %v", flows.Deposits[0].PriceSource, types.PriceSourceExact)
	}
}

func TestNetEventsInWindow_FiltersByKey(t *testing.T) {
	netter := netterWithPrices(t, nil)
	other := supplyEvent(types.EventSupply, "2026-01-15", 10)
	other.PoolID = "pool-b"
	events := []models.PositionEvent{
		other,
		supplyEvent(types.EventSupply, "2026-01-15", 7),
	}

	flows, err := netter.NetEventsInWindow(context.Background(), events, "pool-a", "0xusdc", date("2026-01-10"), types.SideSupply, 1.0)
	if err != nil {
		t.Fatalf("NetEventsInWindow() error = %v", err)
	}
	if len(flows.Deposits) != 1 || flows.Deposits[0].Tokens != 7 {
		t.Errorf("Deposits = %+v, want only pool-a's deposit of 7", flows.Deposits)
	}
}

func TestNetEventsInWindow_UnpriceableEventFails(t *testing.T) {
	netter := netterWithPrices(t, nil)
	events := []models.PositionEvent{supplyEvent(types.EventSupply, "2026-01-15", 10)}

	_, err := netter.NetEventsInWindow(context.Background(), events, "pool-a", "0xusdc", date("2026-01-10"), types.SideSupply, 0)
	if err == nil {
		t.Fatal("NetEventsInWindow() expected error when an in-window event has no usable price")
	}
}
