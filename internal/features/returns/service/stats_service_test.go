package service

import (
	"context"
	"testing"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatsService_SnapshotAggregatesCountsAndValues verifies the snapshot
// carries both the per-status counts and the summed order values.
func TestStatsService_SnapshotAggregatesCountsAndValues(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&domain.ReturnCase{CaseID: "RR-1", InternalStatus: domain.StatusEligible, TotalOrderValue: decimal.NewFromFloat(19.99)})
	repo.add(&domain.ReturnCase{CaseID: "RR-2", InternalStatus: domain.StatusEligible, TotalOrderValue: decimal.NewFromFloat(5.01)})
	repo.add(&domain.ReturnCase{CaseID: "RR-3", InternalStatus: domain.StatusLabelSubmitted, TotalOrderValue: decimal.NewFromFloat(42)})

	svc := NewStatsService(repo)
	snapshot, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), snapshot.Total)
	assert.Equal(t, int64(2), snapshot.Counts[domain.StatusEligible])
	assert.Equal(t, int64(1), snapshot.Counts[domain.StatusLabelSubmitted])
	assert.True(t, snapshot.Values[domain.StatusEligible].Equal(decimal.NewFromFloat(25)))
	assert.True(t, snapshot.Values[domain.StatusLabelSubmitted].Equal(decimal.NewFromFloat(42)))
	assert.True(t, snapshot.TotalValue.Equal(decimal.NewFromFloat(67)))
	assert.False(t, snapshot.TakenAt.IsZero())
}

// TestStatsService_SnapshotEmptyPipeline verifies zero values on an empty
// database.
func TestStatsService_SnapshotEmptyPipeline(t *testing.T) {
	svc := NewStatsService(newFakeRepo())

	snapshot, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snapshot.Total)
	assert.Empty(t, snapshot.Counts)
	assert.True(t, snapshot.TotalValue.IsZero())
}

// TestStatsService_LogSnapshot verifies logging does not alter the snapshot.
func TestStatsService_LogSnapshot(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&domain.ReturnCase{CaseID: "RR-1", InternalStatus: domain.StatusEligible, TotalOrderValue: decimal.NewFromFloat(10)})

	svc := NewStatsService(repo)
	snapshot, err := svc.LogSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), snapshot.Total)
	assert.True(t, snapshot.TotalValue.Equal(decimal.NewFromFloat(10)))
}
