package service

import (
	"context"
	"errors"
	"testing"

	"github.com/yield-scanner/internal/adapter"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/types"
)

// Mock writers for testing

type mockSnapshotWriter struct {
	saved   []models.BalanceSnapshot
	deletes []int
}

func (m *mockSnapshotWriter) SaveBalanceSnapshots(ctx context.Context, snapshots []models.BalanceSnapshot) error {
	m.saved = append(m.saved, snapshots...)
	return nil
}

func (m *mockSnapshotWriter) DeleteOldSnapshots(ctx context.Context, userID string, retentionDays int) error {
	m.deletes = append(m.deletes, retentionDays)
	return nil
}

type mockPriceWriter struct {
	saved []models.PriceSnapshot
}

func (m *mockPriceWriter) SavePriceSnapshots(ctx context.Context, snapshots []models.PriceSnapshot) error {
	m.saved = append(m.saved, snapshots...)
	return nil
}

type mockPositionLister struct {
	positions []models.TrackedPosition
}

func (m *mockPositionLister) ListAll(ctx context.Context) ([]models.TrackedPosition, error) {
	return m.positions, nil
}

type mockUserReader struct {
	users map[string]*models.User
}

func (m *mockUserReader) GetByID(ctx context.Context, userID string) (*models.User, error) {
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, &types.ServiceError{Code: "USER_NOT_FOUND", Message: "user not found"}
}

type statefulLiveReader struct {
	states map[string]*adapter.PositionState
	errFor map[string]error
}

func (m *statefulLiveReader) GetPositionState(ctx context.Context, userID, poolID, assetAddress string) (*adapter.PositionState, error) {
	key := poolID + ":" + assetAddress
	if err := m.errFor[key]; err != nil {
		return nil, err
	}
	if s, ok := m.states[key]; ok {
		return s, nil
	}
	return &adapter.PositionState{}, nil
}

func TestCaptureAllSnapshots(t *testing.T) {
	snapWriter := &mockSnapshotWriter{}
	priceWriter := &mockPriceWriter{}
	lister := &mockPositionLister{positions: []models.TrackedPosition{
		{UserID: "user-1", PoolID: "pool-a", AssetAddress: "0xusdc", Side: types.SideSupply},
		{UserID: "user-2", PoolID: "pool-a", AssetAddress: "0xusdc", Side: types.SideSupply},
		{UserID: "user-1", PoolID: "pool-a", AssetAddress: "0xlp", Side: types.SideBackstop},
	}}
	live := &statefulLiveReader{states: map[string]*adapter.PositionState{
		"pool-a:0xusdc": {SupplyTokens: 100, LiabilityTokens: 10, AssetPriceUsd: 1.0},
		"pool-a:0xlp":   {BackstopTokens: 40, LpTokenPriceUsd: 0.5},
	}}

	svc := NewSnapshotService(snapWriter, priceWriter, lister, &mockUserReader{}, live)
	if err := svc.CaptureAllSnapshots(context.Background()); err != nil {
		t.Fatalf("CaptureAllSnapshots() error = %v", err)
	}

	if len(snapWriter.saved) != 3 {
		t.Fatalf("saved %d balance snapshots, want 3", len(snapWriter.saved))
	}
	wantDate := types.Today().AddDate(0, 0, -1)
	for _, s := range snapWriter.saved {
		if !s.SnapshotDate.Equal(wantDate) {
			t.Errorf("SnapshotDate = %v, want %v (just-completed day)", s.SnapshotDate, wantDate)
		}
	}

	var lpRow *models.BalanceSnapshot
	for i := range snapWriter.saved {
		if snapWriter.saved[i].AssetAddress == "0xlp" {
			lpRow = &snapWriter.saved[i]
		}
	}
	if lpRow == nil || lpRow.SupplyBalance != 40 {
		t.Errorf("backstop row = %+v, want LP tokens 40 in supply column", lpRow)
	}

	// One price row per distinct asset, not per position.
	if len(priceWriter.saved) != 2 {
		t.Errorf("saved %d price snapshots, want 2", len(priceWriter.saved))
	}
}

func TestCaptureAllSnapshots_ReadFailureSkipsPosition(t *testing.T) {
	snapWriter := &mockSnapshotWriter{}
	lister := &mockPositionLister{positions: []models.TrackedPosition{
		{UserID: "user-1", PoolID: "pool-a", AssetAddress: "0xusdc", Side: types.SideSupply},
		{UserID: "user-1", PoolID: "pool-b", AssetAddress: "0xweth", Side: types.SideSupply},
	}}
	live := &statefulLiveReader{
		states: map[string]*adapter.PositionState{
			"pool-a:0xusdc": {SupplyTokens: 100, AssetPriceUsd: 1.0},
		},
		errFor: map[string]error{
			"pool-b:0xweth": errors.New("rpc timeout"),
		},
	}

	svc := NewSnapshotService(snapWriter, &mockPriceWriter{}, lister, &mockUserReader{}, live)
	if err := svc.CaptureAllSnapshots(context.Background()); err != nil {
		t.Fatalf("CaptureAllSnapshots() error = %v, want partial success", err)
	}
	if len(snapWriter.saved) != 1 {
		t.Errorf("saved %d snapshots, want 1 (failed read skipped)", len(snapWriter.saved))
	}
}

func TestApplyRetentionPolicy(t *testing.T) {
	tests := []struct {
		name        string
		tier        types.UserTier
		wantDeletes int
	}{
		{"free tier prunes at 90 days", types.TierFree, 1},
		{"paid tier keeps everything", types.TierPaid, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapWriter := &mockSnapshotWriter{}
			users := &mockUserReader{users: map[string]*models.User{
				"user-1": {ID: "user-1", Tier: tt.tier},
			}}
			svc := NewSnapshotService(snapWriter, &mockPriceWriter{}, &mockPositionLister{}, users, &statefulLiveReader{})

			if err := svc.ApplyRetentionPolicy(context.Background(), "user-1"); err != nil {
				t.Fatalf("ApplyRetentionPolicy() error = %v", err)
			}
			if len(snapWriter.deletes) != tt.wantDeletes {
				t.Errorf("deletes = %d, want %d", len(snapWriter.deletes), tt.wantDeletes)
			}
			if tt.wantDeletes == 1 && snapWriter.deletes[0] != 90 {
				t.Errorf("retentionDays = %d, want 90", snapWriter.deletes[0])
			}
		})
	}
}

func TestSnapshotScheduler_StartStop(t *testing.T) {
	svc := NewSnapshotService(&mockSnapshotWriter{}, &mockPriceWriter{}, &mockPositionLister{}, &mockUserReader{}, &statefulLiveReader{})

	if svc.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !svc.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := svc.Start(context.Background()); err == nil {
		t.Error("second Start() expected error")
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := svc.Stop(); err == nil {
		t.Error("second Stop() expected error")
	}
}
