package service

import (
	"context"
	"testing"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddressService_FetchesMissingAddress verifies address storage.
func TestAddressService_FetchesMissingAddress(t *testing.T) {
	repo := newFakeRepo()
	rc := repo.add(&domain.ReturnCase{CaseID: "RR-1", OrderID: "302-001", InternalStatus: domain.StatusRMAReceived})

	portal := &fakePortal{routing: map[string]*ports.RoutingDetails{
		"RR-1": {Name: "Jane Doe", LineOne: "Musterstraße 12", City: "Berlin", PostalCode: "10115", CountryCode: "DE"},
	}}
	svc := NewAddressService(portal, repo, newTestRetry())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Fetched)
	require.NotNil(t, rc.Address)
	assert.Equal(t, "Berlin", rc.Address.City)
	assert.True(t, rc.Address.Usable())
}

// TestAddressService_FetchesBeforeRMAResolution verifies freshly ingested
// cases get their address right after ingestion, ahead of the RMA lookup.
func TestAddressService_FetchesBeforeRMAResolution(t *testing.T) {
	repo := newFakeRepo()
	rc := repo.add(&domain.ReturnCase{CaseID: "RR-2", OrderID: "302-002", InternalStatus: domain.StatusPendingRMA})

	portal := &fakePortal{routing: map[string]*ports.RoutingDetails{
		"RR-2": {Name: "Max Mustermann", LineOne: "Hauptstraße 1", City: "Hamburg", PostalCode: "20095", CountryCode: "DE"},
	}}
	svc := NewAddressService(portal, repo, newTestRetry())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Fetched)
	require.NotNil(t, rc.Address)
	assert.Equal(t, "Hamburg", rc.Address.City)
}

// TestAddressService_SkipsCasesWithAddress verifies only missing addresses
// are fetched.
func TestAddressService_SkipsCasesWithAddress(t *testing.T) {
	repo := newFakeRepo()
	rc := repo.add(&domain.ReturnCase{CaseID: "RR-1", InternalStatus: domain.StatusRMAReceived})
	rc.Address = &domain.ReturnAddress{ReturnCaseID: rc.ID, Name: "Jane Doe"}

	portal := &fakePortal{routing: map[string]*ports.RoutingDetails{}}
	svc := NewAddressService(portal, repo, newTestRetry())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

// TestAddressService_PermanentErrorRecordedOnCase verifies the error sink.
func TestAddressService_PermanentErrorRecordedOnCase(t *testing.T) {
	repo := newFakeRepo()
	rc := repo.add(&domain.ReturnCase{CaseID: "RR-1", InternalStatus: domain.StatusRMAReceived})

	portal := &fakePortal{routingErr: &resilience.DataError{Op: "routing", Msg: "malformed response"}}
	svc := NewAddressService(portal, repo, newTestRetry())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.StatusProcessingError, rc.InternalStatus)
	assert.NotEmpty(t, rc.LastError)
}
