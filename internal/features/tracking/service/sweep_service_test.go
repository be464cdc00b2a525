package service

import (
	"context"
	"testing"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrackingRepo is an in-memory TrackingRepository.
type fakeTrackingRepo struct {
	shipments []*domain.ShipmentTracking
	events    map[uint][]domain.TrackingEvent
	proofs    map[uint]*domain.ProofOfDelivery
	synced    int
}

func newFakeTrackingRepo(shipments ...*domain.ShipmentTracking) *fakeTrackingRepo {
	for i, s := range shipments {
		s.ID = uint(i + 1)
	}
	return &fakeTrackingRepo{
		shipments: shipments,
		events:    make(map[uint][]domain.TrackingEvent),
		proofs:    make(map[uint]*domain.ProofOfDelivery),
	}
}

func (r *fakeTrackingRepo) SyncFromLabels(_ context.Context) (int, error) {
	return r.synced, nil
}

func (r *fakeTrackingRepo) ListSweepable(_ context.Context) ([]*domain.ShipmentTracking, error) {
	var out []*domain.ShipmentTracking
	for _, s := range r.shipments {
		if !s.State.Terminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeTrackingRepo) Save(_ context.Context, _ *domain.ShipmentTracking) error {
	return nil
}

func (r *fakeTrackingRepo) ReplaceEvents(_ context.Context, shipmentID uint, events []domain.TrackingEvent) error {
	r.events[shipmentID] = append([]domain.TrackingEvent(nil), events...)
	return nil
}

func (r *fakeTrackingRepo) MergeEvents(_ context.Context, shipmentID uint, events []domain.TrackingEvent) (int, error) {
	known := make(map[string]bool)
	for i := range r.events[shipmentID] {
		known[r.events[shipmentID][i].Key()] = true
	}
	added := 0
	for _, ev := range events {
		if known[ev.Key()] {
			continue
		}
		r.events[shipmentID] = append(r.events[shipmentID], ev)
		known[ev.Key()] = true
		added++
	}
	return added, nil
}

func (r *fakeTrackingRepo) SaveProof(_ context.Context, proof *domain.ProofOfDelivery) error {
	r.proofs[proof.ShipmentTrackingID] = proof
	return nil
}

// fakeCarrier is a scriptable CarrierAdapter.
type fakeCarrier struct {
	tag       string
	batchSize int
	maxAge    time.Duration
	strategy  ports.EventStrategy

	payloads map[string]*ports.StatusPayload
	fetchErr error
	batches  [][]string

	proof      *domain.ProofOfDelivery
	proofErr   error
	proofCalls int
}

func (c *fakeCarrier) Tag() string                { return c.tag }
func (c *fakeCarrier) Matches(num string) bool    { return true }
func (c *fakeCarrier) BatchSize() int             { return c.batchSize }
func (c *fakeCarrier) MaxTrackingAge() time.Duration {
	if c.maxAge == 0 {
		return 90 * 24 * time.Hour
	}
	return c.maxAge
}
func (c *fakeCarrier) EventStrategy() ports.EventStrategy { return c.strategy }

func (c *fakeCarrier) Fetch(_ context.Context, nums []string) (map[string]*ports.StatusPayload, error) {
	c.batches = append(c.batches, nums)
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	out := make(map[string]*ports.StatusPayload)
	for _, num := range nums {
		if p, ok := c.payloads[num]; ok {
			out[num] = p
		}
	}
	return out, nil
}

func (c *fakeCarrier) FetchProof(_ context.Context, _ string) (*domain.ProofOfDelivery, error) {
	c.proofCalls++
	if c.proofErr != nil {
		return nil, c.proofErr
	}
	return c.proof, nil
}

func activeShipment(num, tag string) *domain.ShipmentTracking {
	shipped := time.Now().Add(-48 * time.Hour)
	return &domain.ShipmentTracking{
		TrackingNumber: num,
		CarrierTag:     tag,
		State:          domain.LifecycleActive,
		ShippedAt:      &shipped,
	}
}

// TestSweepService_MarksDelivered verifies delivery detection and proof fetch.
func TestSweepService_MarksDelivered(t *testing.T) {
	shipment := activeShipment("00340434161094000002", "dhl")
	repo := newFakeTrackingRepo(shipment)

	deliveredAt := time.Date(2026, 8, 20, 11, 30, 0, 0, time.UTC)
	carrier := &fakeCarrier{
		tag:       "dhl",
		batchSize: 20,
		strategy:  ports.EventsReplace,
		payloads: map[string]*ports.StatusPayload{
			"00340434161094000002": {
				Delivered:      true,
				DeliveredAt:    &deliveredAt,
				Status:         "Zustellung erfolgreich",
				ProofAvailable: true,
				Events: []domain.TrackingEvent{
					{Timestamp: deliveredAt, Code: "DLVRD", Status: "Zustellung erfolgreich"},
				},
			},
		},
		proof: &domain.ProofOfDelivery{Image: []byte("GIF89a-proof"), MimeType: "image/gif"},
	}

	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 2, summary.APICalls)

	assert.Equal(t, domain.LifecycleDelivered, shipment.State)
	require.NotNil(t, shipment.DeliveredAt)
	assert.Equal(t, deliveredAt, *shipment.DeliveredAt)
	assert.Len(t, repo.events[shipment.ID], 1)
	assert.Contains(t, repo.proofs, shipment.ID)
}

// TestSweepService_ProofFetchedOnce verifies the proof is not refetched.
func TestSweepService_ProofFetchedOnce(t *testing.T) {
	shipment := activeShipment("00340434161094000002", "dhl")
	shipment.Proof = &domain.ProofOfDelivery{Image: []byte("GIF89a-existing")}
	repo := newFakeTrackingRepo(shipment)

	carrier := &fakeCarrier{
		tag:       "dhl",
		batchSize: 20,
		payloads: map[string]*ports.StatusPayload{
			"00340434161094000002": {Delivered: true, ProofAvailable: true},
		},
	}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, carrier.proofCalls)
}

// TestSweepService_ClosedStatesAreNotSwept verifies that shipments outside
// the active state are never fetched again.
func TestSweepService_ClosedStatesAreNotSwept(t *testing.T) {
	exception := activeShipment("00340434161094000002", "dhl")
	exception.State = domain.LifecycleException
	noData := activeShipment("00340434161094000003", "dhl")
	noData.State = domain.LifecycleNoData
	repo := newFakeTrackingRepo(exception, noData)

	carrier := &fakeCarrier{tag: "dhl", batchSize: 20}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, carrier.batches)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.APICalls)
}

// TestSweepService_StampsStoppedOnce verifies the tracking end stamp is set
// on delivery and never overwritten.
func TestSweepService_StampsStoppedOnce(t *testing.T) {
	shipment := activeShipment("00340434161094000002", "dhl")
	repo := newFakeTrackingRepo(shipment)

	carrier := &fakeCarrier{
		tag:       "dhl",
		batchSize: 20,
		payloads: map[string]*ports.StatusPayload{
			"00340434161094000002": {Delivered: true},
		},
	}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, shipment.StoppedAt)
	first := *shipment.StoppedAt

	shipment.State = domain.LifecycleActive
	_, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, *shipment.StoppedAt)
}

// TestSweepService_MarksException verifies exception detection.
func TestSweepService_MarksException(t *testing.T) {
	shipment := activeShipment("00340434161094000002", "dhl")
	repo := newFakeTrackingRepo(shipment)

	carrier := &fakeCarrier{
		tag:       "dhl",
		batchSize: 20,
		payloads: map[string]*ports.StatusPayload{
			"00340434161094000002": {Exception: true, Status: "Empfänger nicht angetroffen"},
		},
	}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleException, shipment.State)
}

// TestSweepService_MissingDataMarksNoData verifies the no data path.
func TestSweepService_MissingDataMarksNoData(t *testing.T) {
	shipment := activeShipment("01234567890123", "dpd")
	repo := newFakeTrackingRepo(shipment)

	carrier := &fakeCarrier{tag: "dpd", batchSize: 1, payloads: map[string]*ports.StatusPayload{}}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NoData)
	assert.Equal(t, domain.LifecycleNoData, shipment.State)
	assert.Equal(t, 1, shipment.FailureCount)
}

// TestSweepService_ExpiresOldShipments verifies the tracking age window.
func TestSweepService_ExpiresOldShipments(t *testing.T) {
	shipment := activeShipment("00340434161094000002", "dhl")
	shipped := time.Now().Add(-120 * 24 * time.Hour)
	shipment.ShippedAt = &shipped
	repo := newFakeTrackingRepo(shipment)

	carrier := &fakeCarrier{tag: "dhl", batchSize: 20}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.LifecycleExpired, shipment.State)
	assert.NotNil(t, shipment.StoppedAt)
	assert.Equal(t, 1, summary.Updated)
	assert.Empty(t, carrier.batches)
}

// TestSweepService_ProofFailureIsFlagged verifies a failed proof fetch is
// recorded and not attempted again.
func TestSweepService_ProofFailureIsFlagged(t *testing.T) {
	shipment := activeShipment("00340434161094000002", "dhl")
	repo := newFakeTrackingRepo(shipment)

	carrier := &fakeCarrier{
		tag:       "dhl",
		batchSize: 20,
		payloads: map[string]*ports.StatusPayload{
			"00340434161094000002": {Delivered: true, ProofAvailable: true},
		},
		proofErr: assert.AnError,
	}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, shipment.ProofFailed)
	assert.Equal(t, 1, carrier.proofCalls)

	shipment.State = domain.LifecycleActive
	_, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, carrier.proofCalls)
}

// TestSweepService_Batching verifies shipments are fetched in batches.
func TestSweepService_Batching(t *testing.T) {
	var shipments []*domain.ShipmentTracking
	for i := 0; i < 5; i++ {
		shipments = append(shipments, activeShipment(
			"0034043416109400000"+string(rune('0'+i)), "dhl"))
	}
	repo := newFakeTrackingRepo(shipments...)

	carrier := &fakeCarrier{tag: "dhl", batchSize: 2, payloads: map[string]*ports.StatusPayload{}}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, carrier.batches, 3)
	assert.Len(t, carrier.batches[0], 2)
	assert.Len(t, carrier.batches[2], 1)
	assert.Equal(t, 3, summary.APICalls)
}

// TestSweepService_FetchErrorFailsBatch verifies batch error isolation.
func TestSweepService_FetchErrorFailsBatch(t *testing.T) {
	dhl := activeShipment("00340434161094000002", "dhl")
	dpd := activeShipment("01234567890123", "dpd")
	repo := newFakeTrackingRepo(dhl, dpd)

	broken := &fakeCarrier{tag: "dhl", batchSize: 20, fetchErr: assert.AnError}
	working := &fakeCarrier{
		tag:       "dpd",
		batchSize: 1,
		payloads: map[string]*ports.StatusPayload{
			"01234567890123": {Delivered: true},
		},
	}
	svc := NewSweepService(repo, []ports.CarrierAdapter{broken, working})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, domain.LifecycleDelivered, dpd.State)
	assert.Equal(t, domain.LifecycleActive, dhl.State)
}

// TestSweepService_AssignsCarrierByPattern verifies tag assignment for
// shipments created without one.
func TestSweepService_AssignsCarrierByPattern(t *testing.T) {
	shipment := activeShipment("00340434161094000002", "")
	repo := newFakeTrackingRepo(shipment)

	carrier := &fakeCarrier{tag: "dhl", batchSize: 20, payloads: map[string]*ports.StatusPayload{}}
	svc := NewSweepService(repo, []ports.CarrierAdapter{carrier})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dhl", shipment.CarrierTag)
}
