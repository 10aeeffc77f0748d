package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/yield-scanner/internal/adapter"
	"github.com/yield-scanner/internal/logging"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// EventReader is the event-ledger read contract the yield service needs.
type EventReader interface {
	GetEvents(ctx context.Context, userID string, filter models.EventFilter) ([]models.PositionEvent, error)
}

// SnapshotStore reads historical balance snapshots for one user and asset.
// fromDate is inclusive; implementations return rows ordered or unordered,
// the service does not rely on order.
type SnapshotStore interface {
	GetSnapshots(ctx context.Context, userID, assetAddress string, fromDate time.Time) ([]models.BalanceSnapshot, error)
}

// PositionRegistry lists the (pool, asset, side) keys tracked for a user.
type PositionRegistry interface {
	ListByUser(ctx context.Context, userID string) ([]models.TrackedPosition, error)
}

// SummaryCache caches computed portfolio summaries. A nil cache disables
// caching; a cache miss is (nil, nil).
type SummaryCache interface {
	GetPortfolioSummary(ctx context.Context, userID string, side types.PositionSide, windowDays int) (*PortfolioSummary, error)
	SetPortfolioSummary(ctx context.Context, userID string, side types.PositionSide, windowDays int, summary *PortfolioSummary) error
}

// DefaultWindowDays is the attribution window used when the caller does not
// specify one.
const DefaultWindowDays = 30

// DefaultMaxConcurrency bounds the per-request position fan-out.
const DefaultMaxConcurrency = 8

// YieldServiceConfig tunes the yield service. Zero values fall back to the
// package defaults.
type YieldServiceConfig struct {
	DefaultWindowDays int // window applied when the caller passes 0
	PriceLookbackDays int // forward-fill scan bound, also the snapshot fetch depth
	MaxConcurrency    int // per-request position fan-out
}

// YieldService orchestrates the per-position yield pipeline: live state
// read, balance baseline, event netting, price resolution, decomposition,
// aggregation. It holds no mutable state of its own; every computation is
// derived fresh from the stores and the live reader.
type YieldService struct {
	events   EventReader
	snaps    SnapshotStore
	registry PositionRegistry
	live     adapter.LiveStateReader
	cache    SummaryCache

	resolver *PriceResolver
	netter   *EventNetter
	pool     pond.Pool

	defaultWindowDays int
	lookbackDays      int

	// now is swapped out in tests; defaults to types.Today.
	now func() time.Time
}

// NewYieldService creates a new yield service. cache may be nil.
func NewYieldService(
	events EventReader,
	snaps SnapshotStore,
	registry PositionRegistry,
	live adapter.LiveStateReader,
	prices PriceStore,
	cache SummaryCache,
	cfg YieldServiceConfig,
) *YieldService {
	if cfg.DefaultWindowDays <= 0 {
		cfg.DefaultWindowDays = DefaultWindowDays
	}
	if cfg.PriceLookbackDays <= 0 {
		cfg.PriceLookbackDays = DefaultPriceLookbackDays
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	resolver := NewPriceResolver(prices)
	resolver.lookbackDays = cfg.PriceLookbackDays
	return &YieldService{
		events:            events,
		snaps:             snaps,
		registry:          registry,
		live:              live,
		cache:             cache,
		resolver:          resolver,
		netter:            NewEventNetter(resolver),
		pool:              pond.NewPool(cfg.MaxConcurrency),
		defaultWindowDays: cfg.DefaultWindowDays,
		lookbackDays:      cfg.PriceLookbackDays,
		now:               types.Today,
	}
}

// Close releases the worker pool. Safe to call once during shutdown.
func (s *YieldService) Close() {
	s.pool.StopAndWait()
}

// GetPortfolioYield computes the earning-side summary (supply and backstop
// positions) for a user over the trailing windowDays window.
func (s *YieldService) GetPortfolioYield(ctx context.Context, userID string, windowDays int) (*PortfolioSummary, error) {
	return s.portfolioSummary(ctx, userID, windowDays, func(side types.PositionSide) bool {
		return side == types.SideSupply || side == types.SideBackstop
	}, types.SideSupply)
}

// GetBorrowCost computes the debt-side summary. The decomposition formulas
// are identical to the supply side; the resulting totals read as cost of
// borrowing (interest accrued on the debt) rather than earnings.
func (s *YieldService) GetBorrowCost(ctx context.Context, userID string, windowDays int) (*PortfolioSummary, error) {
	return s.portfolioSummary(ctx, userID, windowDays, func(side types.PositionSide) bool {
		return side == types.SideBorrow
	}, types.SideBorrow)
}

func (s *YieldService) portfolioSummary(
	ctx context.Context,
	userID string,
	windowDays int,
	include func(types.PositionSide) bool,
	cacheSide types.PositionSide,
) (*PortfolioSummary, error) {
	if windowDays <= 0 {
		windowDays = s.defaultWindowDays
	}

	if s.cache != nil {
		cached, err := s.cache.GetPortfolioSummary(ctx, userID, cacheSide, windowDays)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Summary cache read failed, computing fresh")
		} else if cached != nil {
			return cached, nil
		}
	}

	positions, err := s.registry.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for user %s: %w", userID, err)
	}

	windowStart := s.windowStart(windowDays)

	var breakdowns []YieldBreakdown
	var skipped []PositionDiagnostic
	var mu sync.Mutex

	group := s.pool.NewGroupContext(ctx)
	for i := range positions {
		pos := positions[i]
		if !include(pos.Side) {
			continue
		}
		group.Submit(func() {
			b, diag := s.buildBreakdown(ctx, userID, pos, windowStart)
			mu.Lock()
			defer mu.Unlock()
			if diag != nil {
				skipped = append(skipped, *diag)
				return
			}
			breakdowns = append(breakdowns, *b)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, fmt.Errorf("position fan-out failed for user %s: %w", userID, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	summary := Aggregate(breakdowns)
	summary.Skipped = skipped

	if s.cache != nil {
		if err := s.cache.SetPortfolioSummary(ctx, userID, cacheSide, windowDays, &summary); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Summary cache write failed")
		}
	}

	return &summary, nil
}

// GetPositionYield computes the breakdown for a single tracked position.
// Unlike the portfolio path, a skip condition here is surfaced as an error
// so the caller learns why the position has no breakdown.
func (s *YieldService) GetPositionYield(ctx context.Context, userID, poolID, assetAddress string, windowDays int) (*YieldBreakdown, error) {
	if windowDays <= 0 {
		windowDays = s.defaultWindowDays
	}

	positions, err := s.registry.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for user %s: %w", userID, err)
	}

	// The same pair can be tracked on the borrow side too; the yield
	// endpoint reports earnings, so an earning-side row wins.
	var found *models.TrackedPosition
	for i := range positions {
		if positions[i].PoolID != poolID || positions[i].AssetAddress != assetAddress {
			continue
		}
		if found == nil || (found.Side == types.SideBorrow && positions[i].Side != types.SideBorrow) {
			found = &positions[i]
		}
	}
	if found == nil {
		return nil, &types.ServiceError{
			Code:    "POSITION_NOT_FOUND",
			Message: fmt.Sprintf("no tracked position %s:%s for user", poolID, assetAddress),
			Details: map[string]interface{}{
				"poolId":       poolID,
				"assetAddress": assetAddress,
			},
		}
	}

	b, diag := s.buildBreakdown(ctx, userID, *found, s.windowStart(windowDays))
	if diag != nil {
		return nil, &types.ServiceError{
			Code:    "POSITION_EXCLUDED",
			Message: fmt.Sprintf("position excluded from attribution: %s", diag.Reason),
			Details: map[string]interface{}{
				"poolId":       poolID,
				"assetAddress": assetAddress,
				"reason":       diag.Reason,
			},
		}
	}
	return b, nil
}

// windowStart returns the first calendar date inside the window. A 30 day
// window queried today covers the 30 dates ending yesterday's end of day,
// so the window starts today minus windowDays.
func (s *YieldService) windowStart(windowDays int) time.Time {
	return s.now().AddDate(0, 0, -windowDays)
}

// buildBreakdown runs the full pipeline for one position. It returns either
// a breakdown or a diagnostic; an excluded position never fails the whole
// portfolio.
func (s *YieldService) buildBreakdown(
	ctx context.Context,
	userID string,
	pos models.TrackedPosition,
	windowStart time.Time,
) (*YieldBreakdown, *PositionDiagnostic) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":       userID,
		"poolId":       pos.PoolID,
		"assetAddress": pos.AssetAddress,
		"side":         pos.Side,
	})

	state, err := s.live.GetPositionState(ctx, userID, pos.PoolID, pos.AssetAddress)
	if err != nil {
		logger.WithError(err).Error("Live state read failed, excluding position")
		return nil, &PositionDiagnostic{Key: pos.Key(), Reason: ReasonReadFailed}
	}

	tokensNow, livePrice := sideState(state, pos.Side)

	// The balance baseline needs the latest snapshot strictly before the
	// window; fetch far enough back that a sparsely-snapshotted position
	// still finds one.
	snapFrom := windowStart.AddDate(0, 0, -s.lookbackDays)
	snapshots, err := s.snaps.GetSnapshots(ctx, userID, pos.AssetAddress, snapFrom)
	if err != nil {
		logger.WithError(err).Error("Snapshot read failed, excluding position")
		return nil, &PositionDiagnostic{Key: pos.Key(), Reason: ReasonReadFailed}
	}

	var tokensAtStart float64
	switch pos.Side {
	case types.SideBorrow:
		tokensAtStart = LiabilityBeforeDate(snapshots, windowStart, pos.PoolID)
	default:
		// Backstop snapshots record LP tokens in the supply column.
		tokensAtStart = BalanceBeforeDate(snapshots, windowStart, pos.PoolID)
	}

	events, err := s.events.GetEvents(ctx, userID, models.EventFilter{
		PoolID:       pos.PoolID,
		AssetAddress: pos.AssetAddress,
		FromDate:     windowStart,
	})
	if err != nil {
		logger.WithError(err).Error("Event ledger read failed, excluding position")
		return nil, &PositionDiagnostic{Key: pos.Key(), Reason: ReasonReadFailed}
	}

	flows, err := s.netter.NetEventsInWindow(ctx, events, pos.PoolID, pos.AssetAddress, windowStart, pos.Side, livePrice)
	if err != nil {
		return nil, s.priceDiagnostic(logger, pos, err)
	}

	priceAtStart, source, err := s.resolver.ResolvePrice(ctx, pos.AssetAddress, windowStart, livePrice)
	if err != nil {
		return nil, s.priceDiagnostic(logger, pos, err)
	}

	priceNow := livePrice
	priceNowIsHistorical := false
	if priceNow <= 0 {
		// Closed position: the oracle returns nothing, so substitute the
		// resolved price at the window start and flag the substitution.
		priceNow, _, err = s.resolver.ResolvePrice(ctx, pos.AssetAddress, windowStart, 0)
		if err != nil {
			return nil, s.priceDiagnostic(logger, pos, err)
		}
		priceNowIsHistorical = true
	}

	window := PositionWindow{
		Key:                  pos.Key(),
		Side:                 pos.Side,
		PeriodStartDate:      windowStart,
		TokensAtStart:        tokensAtStart,
		TokensNow:            tokensNow,
		Flows:                flows,
		PriceAtStart:         priceAtStart,
		PriceNow:             priceNow,
		PriceSource:          source,
		PriceNowIsHistorical: priceNowIsHistorical,
	}

	if ShouldExclude(window) {
		return nil, &PositionDiagnostic{Key: pos.Key(), Reason: ReasonEmptyPosition}
	}

	b := Decompose(window)
	return &b, nil
}

// priceDiagnostic distinguishes "no usable price" (expected, skip quietly)
// from infrastructure failures (log loudly, still skip).
func (s *YieldService) priceDiagnostic(logger *logging.Logger, pos models.TrackedPosition, err error) *PositionDiagnostic {
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) && svcErr.Code == "NO_USABLE_PRICE" {
		logger.Warn("No usable price on any fallback tier, excluding position")
		return &PositionDiagnostic{Key: pos.Key(), Reason: ReasonNoUsablePrice}
	}
	logger.WithError(err).Error("Price resolution failed, excluding position")
	return &PositionDiagnostic{Key: pos.Key(), Reason: ReasonReadFailed}
}

// sideState picks the token balance and live price relevant to the side.
func sideState(state *adapter.PositionState, side types.PositionSide) (tokens, price float64) {
	switch side {
	case types.SideBorrow:
		return state.LiabilityTokens, state.AssetPriceUsd
	case types.SideBackstop:
		return state.BackstopTokens, state.LpTokenPriceUsd
	default:
		return state.SupplyTokens, state.AssetPriceUsd
	}
}
