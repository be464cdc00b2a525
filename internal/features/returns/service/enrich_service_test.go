package service

import (
	"context"
	"testing"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEnrichService_ResolvesRMA verifies the happy path.
func TestEnrichService_ResolvesRMA(t *testing.T) {
	repo := newFakeRepo()
	rc := repo.add(&domain.ReturnCase{CaseID: "RR-1", OrderID: "302-001", InternalStatus: domain.StatusPendingRMA})

	erp := &fakeERP{
		rmas: map[string]string{"302-001": "AU2026-77"},
		orderData: map[string]*ports.ERPOrderData{
			"302-001": {General: &domain.OrderGeneralDetail{InternalOrderNumber: "AU2026-77"}},
		},
	}
	enrichment := newFakeEnrichment()
	svc := NewEnrichService(erp, repo, enrichment)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, domain.StatusRMAReceived, rc.InternalStatus)
	assert.Equal(t, "AU2026-77", rc.InternalRMA)
	assert.Contains(t, enrichment.replaced, rc.ID)
}

// TestEnrichService_NoRMAKeepsCaseInPool verifies retry on the next cycle.
func TestEnrichService_NoRMAKeepsCaseInPool(t *testing.T) {
	repo := newFakeRepo()
	rc := repo.add(&domain.ReturnCase{CaseID: "RR-1", OrderID: "302-001", InternalStatus: domain.StatusPendingRMA})

	svc := NewEnrichService(&fakeERP{rmas: map[string]string{}}, repo, newFakeEnrichment())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unresolved)
	assert.Equal(t, domain.StatusNoRMAFound, rc.InternalStatus)

	// NO_RMA_FOUND cases are picked up again.
	summary, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unresolved)
}

// TestEnrichService_ERPErrorIsolated verifies a lookup error does not change
// the case.
func TestEnrichService_ERPErrorIsolated(t *testing.T) {
	repo := newFakeRepo()
	rc := repo.add(&domain.ReturnCase{CaseID: "RR-1", OrderID: "302-001", InternalStatus: domain.StatusPendingRMA})

	svc := NewEnrichService(&fakeERP{lookupErr: assert.AnError}, repo, newFakeEnrichment())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.StatusPendingRMA, rc.InternalStatus)
}
