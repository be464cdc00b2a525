package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"
)

// fakeRepo is an in-memory CaseRepository.
type fakeRepo struct {
	cases  map[string]*domain.ReturnCase
	nextID uint

	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{cases: make(map[string]*domain.ReturnCase)}
}

func (r *fakeRepo) add(rc *domain.ReturnCase) *domain.ReturnCase {
	if rc.ID == 0 {
		r.nextID++
		rc.ID = r.nextID
	}
	r.cases[rc.CaseID] = rc
	return rc
}

func (r *fakeRepo) FindByCaseID(_ context.Context, caseID string) (*domain.ReturnCase, error) {
	rc, ok := r.cases[caseID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return rc, nil
}

func (r *fakeRepo) Save(_ context.Context, rc *domain.ReturnCase) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.add(rc)
	return nil
}

func (r *fakeRepo) SaveAddress(_ context.Context, addr *domain.ReturnAddress) error {
	for _, rc := range r.cases {
		if rc.ID == addr.ReturnCaseID {
			rc.Address = addr
			return nil
		}
	}
	return fmt.Errorf("no case with id %d", addr.ReturnCaseID)
}

func (r *fakeRepo) SaveLabel(_ context.Context, label *domain.GeneratedLabel) error {
	for _, rc := range r.cases {
		if rc.ID == label.ReturnCaseID {
			rc.GeneratedLabel = label
			return nil
		}
	}
	return fmt.Errorf("no case with id %d", label.ReturnCaseID)
}

func (r *fakeRepo) ListByStatus(_ context.Context, statuses ...domain.InternalStatus) ([]*domain.ReturnCase, error) {
	var out []*domain.ReturnCase
	for _, rc := range r.cases {
		for _, status := range statuses {
			if rc.InternalStatus == status {
				out = append(out, rc)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) ListComparable(_ context.Context) ([]*domain.ReturnCase, error) {
	out := make([]*domain.ReturnCase, 0, len(r.cases))
	for _, rc := range r.cases {
		out = append(out, rc)
	}
	return out, nil
}

func (r *fakeRepo) ListMissingAddress(_ context.Context) ([]*domain.ReturnCase, error) {
	var out []*domain.ReturnCase
	for _, rc := range r.cases {
		if rc.Address != nil {
			continue
		}
		switch rc.InternalStatus {
		case domain.StatusPendingRMA, domain.StatusRMAReceived, domain.StatusEligible:
			out = append(out, rc)
		}
	}
	return out, nil
}

func (r *fakeRepo) AggregateByStatus(_ context.Context) (map[domain.InternalStatus]ports.StatusAggregate, error) {
	aggregates := make(map[domain.InternalStatus]ports.StatusAggregate)
	for _, rc := range r.cases {
		agg := aggregates[rc.InternalStatus]
		agg.Count++
		agg.Value = agg.Value.Add(rc.TotalOrderValue)
		aggregates[rc.InternalStatus] = agg
	}
	return aggregates, nil
}

// fakeEnrichment records Replace and Purge calls.
type fakeEnrichment struct {
	replaced map[uint]*ports.ERPOrderData
	purged   []uint
}

func newFakeEnrichment() *fakeEnrichment {
	return &fakeEnrichment{replaced: make(map[uint]*ports.ERPOrderData)}
}

func (e *fakeEnrichment) Replace(_ context.Context, caseID uint, data *ports.ERPOrderData) error {
	e.replaced[caseID] = data
	return nil
}

func (e *fakeEnrichment) Purge(_ context.Context, caseID uint) error {
	e.purged = append(e.purged, caseID)
	return nil
}

// fakePortal is a scriptable SellerPortal.
type fakePortal struct {
	returns    []ports.PortalReturn
	returnsErr error

	singleReturns map[string]*ports.PortalReturn

	routing    map[string]*ports.RoutingDetails
	routingErr error

	csrf    string
	csrfErr error

	uploadedSlots   []string
	uploadedData    [][]byte
	registeredDocs  []string
	docVersionID    string
	submittedCases  []string
	submitCarriers  []string
	submitDocIDs    []string
	submitTracking  []string
	submitErr       error
	uploadSlotErr   error
	registerDocErr  error
	fetchReturnErr  error
	uploadBinaryErr error
}

func (p *fakePortal) FetchReturns(_ context.Context, _ int) ([]ports.PortalReturn, error) {
	if p.returnsErr != nil {
		return nil, p.returnsErr
	}
	return p.returns, nil
}

func (p *fakePortal) FetchReturn(_ context.Context, caseID string) (*ports.PortalReturn, error) {
	if p.fetchReturnErr != nil {
		return nil, p.fetchReturnErr
	}
	if pr, ok := p.singleReturns[caseID]; ok {
		return pr, nil
	}
	return nil, fmt.Errorf("unknown case %s", caseID)
}

func (p *fakePortal) FetchRoutingDetails(_ context.Context, caseID string) (*ports.RoutingDetails, error) {
	if p.routingErr != nil {
		return nil, p.routingErr
	}
	if rd, ok := p.routing[caseID]; ok {
		return rd, nil
	}
	return nil, fmt.Errorf("unknown case %s", caseID)
}

func (p *fakePortal) FetchCSRFToken(_ context.Context) (string, error) {
	if p.csrfErr != nil {
		return "", p.csrfErr
	}
	return p.csrf, nil
}

func (p *fakePortal) FetchUploadSlot(_ context.Context, _, caseID, fileName string, _ int) (*ports.UploadSlot, error) {
	if p.uploadSlotErr != nil {
		return nil, p.uploadSlotErr
	}
	p.uploadedSlots = append(p.uploadedSlots, caseID+"/"+fileName)
	return &ports.UploadSlot{URL: "https://upload.example/" + caseID}, nil
}

func (p *fakePortal) UploadBinary(_ context.Context, _ *ports.UploadSlot, data []byte, _ string) error {
	if p.uploadBinaryErr != nil {
		return p.uploadBinaryErr
	}
	p.uploadedData = append(p.uploadedData, data)
	return nil
}

func (p *fakePortal) RegisterDocument(_ context.Context, _, caseID, _ string, _ []byte, _ string) (string, error) {
	if p.registerDocErr != nil {
		return "", p.registerDocErr
	}
	p.registeredDocs = append(p.registeredDocs, caseID)
	return p.docVersionID, nil
}

func (p *fakePortal) SubmitReturn(_ context.Context, _, caseID, trackingNumber, carrier, docVersionID string) error {
	if p.submitErr != nil {
		return p.submitErr
	}
	p.submittedCases = append(p.submittedCases, caseID)
	p.submitTracking = append(p.submitTracking, trackingNumber)
	p.submitCarriers = append(p.submitCarriers, carrier)
	p.submitDocIDs = append(p.submitDocIDs, docVersionID)
	return nil
}

// fakeERP is a scriptable ERPGateway.
type fakeERP struct {
	rmas      map[string]string
	lookupErr error

	orderData map[string]*ports.ERPOrderData
	fetchErr  error
}

func (e *fakeERP) LookupRMA(_ context.Context, orderID string) (string, error) {
	if e.lookupErr != nil {
		return "", e.lookupErr
	}
	return e.rmas[orderID], nil
}

func (e *fakeERP) FetchOrderData(_ context.Context, orderID string) (*ports.ERPOrderData, error) {
	if e.fetchErr != nil {
		return nil, e.fetchErr
	}
	if data, ok := e.orderData[orderID]; ok {
		return data, nil
	}
	return &ports.ERPOrderData{}, nil
}

// fakeTransport is a scriptable LabelTransport.
type fakeTransport struct {
	label    *ports.CreatedLabel
	err      error
	requests []ports.CreateLabelRequest
}

func (t *fakeTransport) CreateReturnLabel(_ context.Context, req ports.CreateLabelRequest) (*ports.CreatedLabel, error) {
	t.requests = append(t.requests, req)
	if t.err != nil {
		return nil, t.err
	}
	return t.label, nil
}

// fakeStore is an in-memory LabelStore.
type fakeStore struct {
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

// passConverter returns the input unchanged as PDF.
type passConverter struct{}

func (passConverter) Convert(pdf []byte) ([]byte, string, error) {
	return pdf, "application/pdf", nil
}

// newTestRetry builds a retry session that fails fast without sleeping.
func newTestRetry() *resilience.RetrySession {
	return resilience.NewRetrySession(
		resilience.NewCircuitBreaker(100, time.Minute),
		nil,
		resilience.RetryConfig{MaxAttempts: 1, BaseWait: time.Millisecond, Multiplier: 2},
		nil,
	)
}

// timePtr returns a pointer to t.
func timePtr(t time.Time) *time.Time {
	return &t
}
