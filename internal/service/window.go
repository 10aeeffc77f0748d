package service

import (
	"time"

	"github.com/yield-scanner/internal/types"
)

// Flow is one deposit or withdrawal inside the query window, priced at the
// time the action happened. Cost basis must reflect the price prevailing at
// the event date, not at query time.
type Flow struct {
	Tokens       float64           `json:"tokens"`
	Date         time.Time         `json:"date"`
	PriceAtEvent float64           `json:"priceAtEvent"`
	PriceSource  types.PriceSource `json:"priceSource"`
}

// WindowFlows holds the netted deposits and withdrawals of one position for
// one query window.
type WindowFlows struct {
	Deposits    []Flow `json:"deposits"`
	Withdrawals []Flow `json:"withdrawals"`
}

// NetDeposited returns sum(deposits) - sum(withdrawals) in tokens.
func (f WindowFlows) NetDeposited() float64 {
	net := 0.0
	for _, d := range f.Deposits {
		net += d.Tokens
	}
	for _, w := range f.Withdrawals {
		net -= w.Tokens
	}
	return net
}

// PositionWindow is the unit the decomposer operates on. Constructed fresh
// per request, never persisted.
type PositionWindow struct {
	Key             types.PositionKey  `json:"key"`
	Side            types.PositionSide `json:"side"`
	PeriodStartDate time.Time          `json:"periodStartDate"`
	TokensAtStart   float64            `json:"tokensAtStart"`
	TokensNow       float64            `json:"tokensNow"`
	Flows           WindowFlows        `json:"flows"`
	PriceAtStart    float64            `json:"priceAtStart"`
	PriceNow        float64            `json:"priceNow"`
	PriceSource     types.PriceSource  `json:"priceSource"`
	// PriceNowIsHistorical marks a closed position whose "current" price
	// had to be substituted from the historical store.
	PriceNowIsHistorical bool `json:"priceNowIsHistorical"`
}

// YieldBreakdown is the per-position output: the decomposition of value
// change into protocol yield versus market price movement. Derived, never
// persisted; it depends on "now".
type YieldBreakdown struct {
	Key                  types.PositionKey  `json:"key"`
	Side                 types.PositionSide `json:"side"`
	InterestEarnedTokens float64            `json:"interestEarnedTokens"`
	ProtocolYieldUsd     float64            `json:"protocolYieldUsd"`
	PriceChangeUsd       float64            `json:"priceChangeUsd"`
	TotalEarnedUsd       float64            `json:"totalEarnedUsd"`
	ValueAtStart         float64            `json:"valueAtStart"`
	ValueNow             float64            `json:"valueNow"`
	PriceSource          types.PriceSource  `json:"priceSource"`
	PriceNowIsHistorical bool               `json:"priceNowIsHistorical"`
}

// PositionDiagnostic records why a position was excluded from an aggregate.
type PositionDiagnostic struct {
	Key    types.PositionKey `json:"key"`
	Reason string            `json:"reason"`
}

// Exclusion reasons reported in PortfolioSummary diagnostics.
const (
	ReasonEmptyPosition = "empty_position"
	ReasonNoUsablePrice = "no_usable_price"
	ReasonReadFailed    = "read_failed"
)
