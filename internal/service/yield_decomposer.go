package service

import (
	"math"

	"github.com/yield-scanner/internal/logging"
)

// Decompose splits a position's value change over the window into protocol
// yield (token-count growth at fixed price) and price change (market
// movement at fixed token flows), per the cost-basis model:
//
//	interestEarnedTokens = tokensNow - tokensAtStart - netDeposited
//	protocolYieldUsd     = interestEarnedTokens * priceNow
//	priceChangeUsd       = tokensAtStart * (priceNow - priceAtStart)
//	                     + sum_d deposits[d].tokens * (priceNow - deposits[d].priceAtEvent)
//	                     - sum_w withdrawals[w].tokens * (priceNow - withdrawals[w].priceAtEvent)
//	totalEarnedUsd       = protocolYieldUsd + priceChangeUsd
//
// interestEarnedTokens isolates the protocol's token-denominated accrual by
// holding price fixed; priceChangeUsd isolates market movement by holding
// token flows fixed at their own transaction-time prices. The two totals
// are exactly additive with no double count; that identity holds for every
// input this function accepts.
func Decompose(w PositionWindow) YieldBreakdown {
	tokensAtStart := w.TokensAtStart
	tokensNow := w.TokensNow

	// Negative balances cannot occur by construction (snapshot balances are
	// non-negative). A negative value reaching this point is a data bug:
	// log it and clamp rather than let it poison USD totals.
	if tokensAtStart < 0 || tokensNow < 0 {
		logging.WithFields(map[string]interface{}{
			"poolId":        w.Key.PoolID,
			"assetAddress":  w.Key.AssetAddress,
			"tokensAtStart": tokensAtStart,
			"tokensNow":     tokensNow,
		}).Error("Negative token balance reached decomposer; clamping")
		tokensAtStart = math.Max(tokensAtStart, 0)
		tokensNow = math.Max(tokensNow, 0)
	}

	netDeposited := w.Flows.NetDeposited()
	interestEarnedTokens := tokensNow - tokensAtStart - netDeposited
	protocolYieldUsd := interestEarnedTokens * w.PriceNow

	priceChangeUsd := tokensAtStart * (w.PriceNow - w.PriceAtStart)
	for _, d := range w.Flows.Deposits {
		priceChangeUsd += d.Tokens * (w.PriceNow - d.PriceAtEvent)
	}
	for _, wd := range w.Flows.Withdrawals {
		priceChangeUsd -= wd.Tokens * (w.PriceNow - wd.PriceAtEvent)
	}

	return YieldBreakdown{
		Key:                  w.Key,
		Side:                 w.Side,
		InterestEarnedTokens: interestEarnedTokens,
		ProtocolYieldUsd:     protocolYieldUsd,
		PriceChangeUsd:       priceChangeUsd,
		TotalEarnedUsd:       protocolYieldUsd + priceChangeUsd,
		ValueAtStart:         tokensAtStart * w.PriceAtStart,
		ValueNow:             tokensNow * w.PriceNow,
		PriceSource:          w.PriceSource,
		PriceNowIsHistorical: w.PriceNowIsHistorical,
	}
}

// ShouldExclude reports whether the position never existed in or around the
// window (tokensNow <= 0 and tokensAtStart <= 0 with no flows). Excluded
// positions are a normal filter, not an error.
func ShouldExclude(w PositionWindow) bool {
	return w.TokensNow <= 0 && w.TokensAtStart <= 0 &&
		len(w.Flows.Deposits) == 0 && len(w.Flows.Withdrawals) == 0
}
