package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yield-scanner/internal/adapter"
	"github.com/yield-scanner/internal/logging"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// SnapshotWriter persists the daily balance rows the snapshot worker
// produces and prunes old ones.
type SnapshotWriter interface {
	SaveBalanceSnapshots(ctx context.Context, snapshots []models.BalanceSnapshot) error
	DeleteOldSnapshots(ctx context.Context, userID string, retentionDays int) error
}

// PriceWriter persists daily price rows.
type PriceWriter interface {
	SavePriceSnapshots(ctx context.Context, snapshots []models.PriceSnapshot) error
}

// PositionLister enumerates every tracked position across all users.
type PositionLister interface {
	ListAll(ctx context.Context) ([]models.TrackedPosition, error)
}

// UserReader looks up users for tier-based retention.
type UserReader interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

// SnapshotService materializes end-of-day balance and price snapshots by
// reading live protocol state for every tracked position. It runs once per
// day at midnight UTC; the snapshot written at midnight of day D+1 records
// the state after day D's events, which is the end-of-day convention the
// yield pipeline depends on.
type SnapshotService struct {
	snapshots SnapshotWriter
	prices    PriceWriter
	registry  PositionLister
	users     UserReader
	live      adapter.LiveStateReader

	stopChan chan struct{}
	ticker   *time.Ticker
	running  bool
}

// NewSnapshotService creates a new snapshot service.
func NewSnapshotService(
	snapshots SnapshotWriter,
	prices PriceWriter,
	registry PositionLister,
	users UserReader,
	live adapter.LiveStateReader,
) *SnapshotService {
	return &SnapshotService{
		snapshots: snapshots,
		prices:    prices,
		registry:  registry,
		users:     users,
		live:      live,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the snapshot scheduler. The first run fires at the next
// midnight UTC, then every 24 hours.
func (s *SnapshotService) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	s.running = true

	now := time.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	untilMidnight := nextMidnight.Sub(now)

	logging.WithFields(map[string]interface{}{
		"nextRun": nextMidnight.Format(time.RFC3339),
		"in":      untilMidnight.String(),
	}).Info("Snapshot scheduler starting")

	go func() {
		select {
		case <-time.After(untilMidnight):
			if err := s.CaptureAllSnapshots(ctx); err != nil {
				logging.WithError(err).Error("Midnight snapshot capture failed")
			}
		case <-s.stopChan:
			return
		}

		s.ticker = time.NewTicker(24 * time.Hour)
		defer s.ticker.Stop()

		for {
			select {
			case <-s.ticker.C:
				if err := s.CaptureAllSnapshots(ctx); err != nil {
					logging.WithError(err).Error("Daily snapshot capture failed")
				}
			case <-s.stopChan:
				logging.Info("Snapshot scheduler stopped")
				return
			}
		}
	}()

	return nil
}

// Stop gracefully stops the snapshot scheduler.
func (s *SnapshotService) Stop() error {
	if !s.running {
		return fmt.Errorf("snapshot scheduler is not running")
	}

	close(s.stopChan)
	s.running = false

	if s.ticker != nil {
		s.ticker.Stop()
	}

	return nil
}

// IsRunning returns whether the scheduler is currently running.
func (s *SnapshotService) IsRunning() bool {
	return s.running
}

// CaptureAllSnapshots reads live state for every tracked position and
// writes balance snapshots for the just-completed day, plus one price
// snapshot per distinct asset. A position whose read fails is skipped and
// retried at the next run; the day's other rows still land.
func (s *SnapshotService) CaptureAllSnapshots(ctx context.Context) error {
	// Running at midnight of day D+1, the rows record the end of day D.
	snapshotDate := types.Today().AddDate(0, 0, -1)
	logger := logging.WithField("snapshotDate", snapshotDate.Format("2006-01-02"))
	logger.Info("Starting daily snapshot capture")

	positions, err := s.registry.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tracked positions: %w", err)
	}
	if len(positions) == 0 {
		logger.Info("No tracked positions to snapshot")
		return nil
	}

	var balances []models.BalanceSnapshot
	assetPrices := make(map[string]float64)
	errorCount := 0

	for i := range positions {
		pos := &positions[i]
		state, err := s.live.GetPositionState(ctx, pos.UserID, pos.PoolID, pos.AssetAddress)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"userId":       pos.UserID,
				"poolId":       pos.PoolID,
				"assetAddress": pos.AssetAddress,
				"error":        err.Error(),
			}).Error("Live state read failed, skipping position snapshot")
			errorCount++
			continue
		}

		supply := state.SupplyTokens
		if pos.Side == types.SideBackstop {
			// Backstop LP tokens land in the supply column.
			supply = state.BackstopTokens
		}
		balances = append(balances, models.BalanceSnapshot{
			UserID:           pos.UserID,
			PoolID:           pos.PoolID,
			AssetAddress:     pos.AssetAddress,
			SnapshotDate:     snapshotDate,
			SupplyBalance:    supply,
			LiabilityBalance: state.LiabilityTokens,
		})

		price := state.AssetPriceUsd
		if pos.Side == types.SideBackstop {
			price = state.LpTokenPriceUsd
		}
		if price > 0 {
			assetPrices[pos.AssetAddress] = price
		}
	}

	if len(balances) > 0 {
		if err := s.snapshots.SaveBalanceSnapshots(ctx, balances); err != nil {
			return fmt.Errorf("failed to save balance snapshots: %w", err)
		}
	}

	priceRows := make([]models.PriceSnapshot, 0, len(assetPrices))
	for asset, price := range assetPrices {
		priceRows = append(priceRows, models.PriceSnapshot{
			AssetAddress: asset,
			PriceDate:    snapshotDate,
			UsdPrice:     price,
		})
	}
	if len(priceRows) > 0 {
		if err := s.prices.SavePriceSnapshots(ctx, priceRows); err != nil {
			return fmt.Errorf("failed to save price snapshots: %w", err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"balances": len(balances),
		"prices":   len(priceRows),
		"errors":   errorCount,
	}).Info("Snapshot capture complete")
	return nil
}

// ApplyRetentionPolicy prunes a user's snapshots beyond their tier's
// retention period. Paid tier is unlimited.
func (s *SnapshotService) ApplyRetentionPolicy(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	var retentionDays int
	switch user.Tier {
	case types.TierFree:
		retentionDays = 90
	case types.TierPaid:
		return nil
	default:
		retentionDays = 90
	}

	if err := s.snapshots.DeleteOldSnapshots(ctx, userID, retentionDays); err != nil {
		return fmt.Errorf("failed to delete old snapshots: %w", err)
	}

	logging.WithFields(map[string]interface{}{
		"userId":        userID,
		"retentionDays": retentionDays,
	}).Info("Applied snapshot retention policy")
	return nil
}
