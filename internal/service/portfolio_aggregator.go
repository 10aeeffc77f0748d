package service

import (
	"github.com/yield-scanner/internal/types"
)

// PortfolioTotals holds the additive portfolio-level sums.
type PortfolioTotals struct {
	ValueAtStart       float64 `json:"valueAtStart"`
	ValueNow           float64 `json:"valueNow"`
	ProtocolYieldUsd   float64 `json:"protocolYieldUsd"`
	PriceChangeUsd     float64 `json:"priceChangeUsd"`
	TotalEarnedUsd     float64 `json:"totalEarnedUsd"`
	TotalEarnedPercent float64 `json:"totalEarnedPercent"`
}

// PortfolioSummary is the aggregate the API returns: per-asset and backstop
// breakdowns, portfolio totals, and price-resolution diagnostics. Positions
// that could not be priced or read are listed in Skipped and are absent
// from ByAsset/ByBackstop; totals reflect only included positions.
type PortfolioSummary struct {
	ByAsset    map[string]YieldBreakdown `json:"byAsset"`
	ByBackstop map[string]YieldBreakdown `json:"byBackstop"`
	Totals     PortfolioTotals           `json:"totals"`

	// PriceSourceCounts tracks how many positions resolved their price via
	// each fallback tier, so callers can communicate partial coverage.
	PriceSourceCounts map[types.PriceSource]int `json:"priceSourceCounts"`
	Skipped           []PositionDiagnostic      `json:"skipped,omitempty"`
}

// Aggregate sums per-position breakdowns into portfolio totals. Each
// breakdown carries its own key and side, so the same (pool, asset) pair
// tracked on two sides contributes two entries. All sums are commutative,
// so input order is irrelevant.
func Aggregate(breakdowns []YieldBreakdown) PortfolioSummary {
	summary := PortfolioSummary{
		ByAsset:           make(map[string]YieldBreakdown),
		ByBackstop:        make(map[string]YieldBreakdown),
		PriceSourceCounts: make(map[types.PriceSource]int),
	}

	for _, b := range breakdowns {
		if b.Side == types.SideBackstop {
			summary.ByBackstop[b.Key.String()] = b
		} else {
			summary.ByAsset[b.Key.String()] = b
		}

		summary.Totals.ValueAtStart += b.ValueAtStart
		summary.Totals.ValueNow += b.ValueNow
		summary.Totals.ProtocolYieldUsd += b.ProtocolYieldUsd
		summary.Totals.PriceChangeUsd += b.PriceChangeUsd
		summary.Totals.TotalEarnedUsd += b.TotalEarnedUsd

		summary.PriceSourceCounts[b.PriceSource]++
	}

	if summary.Totals.ValueAtStart > 0 {
		summary.Totals.TotalEarnedPercent = summary.Totals.TotalEarnedUsd / summary.Totals.ValueAtStart * 100
	}

	return summary
}
