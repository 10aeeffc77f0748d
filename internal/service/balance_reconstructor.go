package service

import (
	"time"

	"github.com/yield-scanner/internal/models"
)

// BalanceBeforeDate finds the position's supplied balance immediately
// preceding targetDate within the given pool.
//
// Snapshots use an end-of-day convention: the snapshot for day D represents
// state after day D's events, so "balance at the start of targetDate" is
// the snapshot of the latest day strictly before targetDate. Events on
// targetDate itself belong to the window (see NetEventsInWindow), which
// keeps the two boundaries complementary.
//
// Returns 0 when no qualifying snapshot exists: the position did not exist
// before the window, which is a valid and common case, not an error.
func BalanceBeforeDate(snapshots []models.BalanceSnapshot, targetDate time.Time, poolID string) float64 {
	best := latestBefore(snapshots, targetDate, poolID)
	if best == nil {
		return 0
	}
	return best.SuppliedTotal()
}

// LiabilityBeforeDate is the debt-side mirror of BalanceBeforeDate: same
// strict-before selection, returning the liability balance.
func LiabilityBeforeDate(snapshots []models.BalanceSnapshot, targetDate time.Time, poolID string) float64 {
	best := latestBefore(snapshots, targetDate, poolID)
	if best == nil {
		return 0
	}
	return best.LiabilityBalance
}

func latestBefore(snapshots []models.BalanceSnapshot, targetDate time.Time, poolID string) *models.BalanceSnapshot {
	var best *models.BalanceSnapshot
	for i := range snapshots {
		s := &snapshots[i]
		if s.PoolID != poolID {
			continue
		}
		if !s.SnapshotDate.Before(targetDate) {
			continue
		}
		if best == nil || s.SnapshotDate.After(best.SnapshotDate) {
			best = s
		}
	}
	return best
}
