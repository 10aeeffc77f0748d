package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yield-scanner/internal/logging"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// ConsistencyChecker verifies that the snapshot history agrees with the
// event ledger: the balance change between two consecutive snapshots must
// be explained by the netted events of that span plus interest accrual.
// A balance that fell further than its withdrawals explain means events
// went missing upstream, which silently corrupts yield attribution.
type ConsistencyChecker struct {
	events EventReader
	snaps  SnapshotStore
	reg    PositionRegistry
}

// NewConsistencyChecker creates a new consistency checker.
func NewConsistencyChecker(events EventReader, snaps SnapshotStore, reg PositionRegistry) *ConsistencyChecker {
	return &ConsistencyChecker{events: events, snaps: snaps, reg: reg}
}

// PositionConsistencyResult is the audit outcome for one position.
type PositionConsistencyResult struct {
	Key             types.PositionKey  `json:"key"`
	Side            types.PositionSide `json:"side"`
	FromDate        time.Time          `json:"fromDate"`
	ToDate          time.Time          `json:"toDate"`
	BalanceBefore   float64            `json:"balanceBefore"`
	BalanceAfter    float64            `json:"balanceAfter"`
	NetFlowTokens   float64            `json:"netFlowTokens"`
	DriftTokens     float64            `json:"driftTokens"`
	Consistent      bool               `json:"consistent"`
	Inconsistencies []string           `json:"inconsistencies,omitempty"`
}

// ConsistencyReport aggregates one user's audit.
type ConsistencyReport struct {
	UserID    string                      `json:"userId"`
	CheckedAt time.Time                   `json:"checkedAt"`
	Positions []PositionConsistencyResult `json:"positions"`
	Clean     bool                        `json:"clean"`
}

// driftTolerance absorbs float accumulation noise in display-unit balances.
const driftTolerance = 1e-6

// CheckUser audits every tracked position of one user over the span between
// its two most recent snapshots. Positions with fewer than two snapshots
// are skipped; there is nothing to reconcile yet.
func (cc *ConsistencyChecker) CheckUser(ctx context.Context, userID string, lookbackDays int) (*ConsistencyReport, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	positions, err := cc.reg.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for user %s: %w", userID, err)
	}

	report := &ConsistencyReport{
		UserID:    userID,
		CheckedAt: time.Now().UTC(),
		Clean:     true,
	}

	from := types.Today().AddDate(0, 0, -lookbackDays)
	for i := range positions {
		pos := &positions[i]
		result, err := cc.checkPosition(ctx, userID, pos, from)
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}
		if !result.Consistent {
			report.Clean = false
			logging.WithFields(map[string]interface{}{
				"userId":       userID,
				"poolId":       pos.PoolID,
				"assetAddress": pos.AssetAddress,
				"side":         pos.Side,
				"drift":        result.DriftTokens,
			}).Error("Ledger does not explain snapshot balance change")
		}
		report.Positions = append(report.Positions, *result)
	}

	return report, nil
}

func (cc *ConsistencyChecker) checkPosition(ctx context.Context, userID string, pos *models.TrackedPosition, from time.Time) (*PositionConsistencyResult, error) {
	snapshots, err := cc.snaps.GetSnapshots(ctx, userID, pos.AssetAddress, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots for %s: %w", pos.AssetAddress, err)
	}

	var inPool []models.BalanceSnapshot
	for _, s := range snapshots {
		if s.PoolID == pos.PoolID {
			inPool = append(inPool, s)
		}
	}
	if len(inPool) < 2 {
		return nil, nil
	}
	sort.Slice(inPool, func(i, j int) bool {
		return inPool[i].SnapshotDate.Before(inPool[j].SnapshotDate)
	})
	prev := inPool[len(inPool)-2]
	last := inPool[len(inPool)-1]

	events, err := cc.events.GetEvents(ctx, userID, models.EventFilter{
		PoolID:       pos.PoolID,
		AssetAddress: pos.AssetAddress,
		FromDate:     prev.SnapshotDate.AddDate(0, 0, 1),
		ToDate:       last.SnapshotDate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read events for %s: %w", pos.AssetAddress, err)
	}

	netFlow := 0.0
	for i := range events {
		direction, ok := classify(events[i].Kind, pos.Side)
		if !ok {
			continue
		}
		netFlow += float64(direction) * events[i].TokenAmount
	}

	balanceOf := func(s *models.BalanceSnapshot) float64 {
		if pos.Side == types.SideBorrow {
			return s.LiabilityBalance
		}
		return s.SuppliedTotal()
	}
	before := balanceOf(&prev)
	after := balanceOf(&last)

	result := &PositionConsistencyResult{
		Key:           pos.Key(),
		Side:          pos.Side,
		FromDate:      prev.SnapshotDate,
		ToDate:        last.SnapshotDate,
		BalanceBefore: before,
		BalanceAfter:  after,
		NetFlowTokens: netFlow,
		// Positive drift is interest accrued over the span; negative drift
		// means tokens vanished without a matching ledger event.
		DriftTokens: after - before - netFlow,
		Consistent:  true,
	}

	tol := driftTolerance * math.Max(1, math.Abs(before))
	if result.DriftTokens < -tol {
		result.Consistent = false
		result.Inconsistencies = append(result.Inconsistencies,
			fmt.Sprintf("balance fell by %.8f tokens more than withdrawals explain", -result.DriftTokens))
	}
	if after < 0 || before < 0 {
		result.Consistent = false
		result.Inconsistencies = append(result.Inconsistencies, "negative snapshot balance")
	}

	return result, nil
}
