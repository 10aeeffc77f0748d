package service

import (
	"math"
	"testing"

	"github.com/yield-scanner/internal/types"
)

func TestAggregate_AdditiveTotals(t *testing.T) {
	breakdowns := []YieldBreakdown{
		{
			Key:              types.PositionKey{PoolID: "pool-a", AssetAddress: "0xusdc"},
			Side:             types.SideSupply,
			ValueAtStart:     1000,
			ValueNow:         1050,
			ProtocolYieldUsd: 30,
			PriceChangeUsd:   20,
			TotalEarnedUsd:   50,
			PriceSource:      types.PriceSourceExact,
		},
		{
			Key:              types.PositionKey{PoolID: "pool-a", AssetAddress: "0xweth"},
			Side:             types.SideSupply,
			ValueAtStart:     2000,
			ValueNow:         1900,
			ProtocolYieldUsd: 10,
			PriceChangeUsd:   -110,
			TotalEarnedUsd:   -100,
			PriceSource:      types.PriceSourceForwardFill,
		},
	}

	s := Aggregate(breakdowns)
	if s.Totals.ValueAtStart != 3000 || s.Totals.ValueNow != 2950 {
		t.Errorf("value totals = %v / %v, want 3000 / 2950", s.Totals.ValueAtStart, s.Totals.ValueNow)
	}
	if s.Totals.ProtocolYieldUsd != 40 {
		t.Errorf("ProtocolYieldUsd = %v, want 40", s.Totals.ProtocolYieldUsd)
	}
	if s.Totals.PriceChangeUsd != -90 {
		t.Errorf("PriceChangeUsd = %v, want -90", s.Totals.PriceChangeUsd)
	}
	if s.Totals.TotalEarnedUsd != -50 {
		t.Errorf("TotalEarnedUsd = %v, want -50", s.Totals.TotalEarnedUsd)
	}
	// -50 / 3000 * 100
	if math.Abs(s.Totals.TotalEarnedPercent-(-50.0/3000*100)) > 1e-9 {
		t.Errorf("TotalEarnedPercent = %v", s.Totals.TotalEarnedPercent)
	}
	if s.PriceSourceCounts[types.PriceSourceExact] != 1 || s.PriceSourceCounts[types.PriceSourceForwardFill] != 1 {
		t.Errorf("PriceSourceCounts = %v", s.PriceSourceCounts)
	}
}

func TestAggregate_BackstopSeparated(t *testing.T) {
	breakdowns := []YieldBreakdown{
		{
			Key:  types.PositionKey{PoolID: "pool-a", AssetAddress: "0xusdc"},
			Side: types.SideSupply, ValueAtStart: 100, TotalEarnedUsd: 1,
		},
		{
			Key:  types.PositionKey{PoolID: "pool-a", AssetAddress: "0xlp"},
			Side: types.SideBackstop, ValueAtStart: 200, TotalEarnedUsd: 2,
		},
	}

	s := Aggregate(breakdowns)
	if len(s.ByAsset) != 1 {
		t.Errorf("ByAsset = %v, want one supply entry", s.ByAsset)
	}
	if len(s.ByBackstop) != 1 {
		t.Errorf("ByBackstop = %v, want one backstop entry", s.ByBackstop)
	}
	if _, ok := s.ByBackstop["pool-a:0xlp"]; !ok {
		t.Errorf("ByBackstop keys = %v, want pool-a:0xlp", s.ByBackstop)
	}
	// Backstop still contributes to the combined totals.
	if s.Totals.TotalEarnedUsd != 3 {
		t.Errorf("TotalEarnedUsd = %v, want 3", s.Totals.TotalEarnedUsd)
	}
}

func TestAggregate_SamePairOnTwoSides(t *testing.T) {
	// One (pool, asset) pair tracked as both a supply and a backstop
	// position must contribute two entries, not overwrite one.
	breakdowns := []YieldBreakdown{
		{
			Key:  types.PositionKey{PoolID: "pool-a", AssetAddress: "0xtok"},
			Side: types.SideSupply, ValueAtStart: 100, TotalEarnedUsd: 1,
		},
		{
			Key:  types.PositionKey{PoolID: "pool-a", AssetAddress: "0xtok"},
			Side: types.SideBackstop, ValueAtStart: 200, TotalEarnedUsd: 2,
		},
	}

	s := Aggregate(breakdowns)
	if _, ok := s.ByAsset["pool-a:0xtok"]; !ok {
		t.Errorf("ByAsset keys = %v, want pool-a:0xtok", s.ByAsset)
	}
	if _, ok := s.ByBackstop["pool-a:0xtok"]; !ok {
		t.Errorf("ByBackstop keys = %v, want pool-a:0xtok", s.ByBackstop)
	}
	if s.Totals.ValueAtStart != 300 || s.Totals.TotalEarnedUsd != 3 {
		t.Errorf("Totals = %+v, want both sides summed", s.Totals)
	}
}

func TestAggregate_ZeroStartValue(t *testing.T) {
	breakdowns := []YieldBreakdown{
		{
			Key:  types.PositionKey{PoolID: "pool-a", AssetAddress: "0xusdc"},
			Side: types.SideSupply, ValueAtStart: 0, ValueNow: 50, TotalEarnedUsd: 50,
		},
	}

	s := Aggregate(breakdowns)
	if s.Totals.TotalEarnedPercent != 0 {
		t.Errorf("TotalEarnedPercent = %v, want 0 when start value is 0", s.Totals.TotalEarnedPercent)
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)
	if len(s.ByAsset) != 0 || len(s.ByBackstop) != 0 {
		t.Errorf("expected empty maps, got %v / %v", s.ByAsset, s.ByBackstop)
	}
	if s.Totals != (PortfolioTotals{}) {
		t.Errorf("Totals = %+v, want zero value", s.Totals)
	}
}
