package ports

import (
	"context"
	"errors"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/domain"
)

// ErrNoTrackingData signals that the carrier has never seen the shipment.
var ErrNoTrackingData = errors.New("no tracking data")

// EventStrategy decides how freshly fetched events are persisted.
type EventStrategy int

const (
	// EventsReplace drops the stored events and writes the fetched set.
	EventsReplace EventStrategy = iota
	// EventsMerge appends fetched events that are not stored yet.
	EventsMerge
)

// StatusPayload is the carrier's current view of one shipment.
type StatusPayload struct {
	// Delivered reports arrival at the destination.
	Delivered bool
	// Exception reports a delivery problem.
	Exception bool
	// Status is the carrier's latest status text.
	Status string
	// DeliveredAt is the delivery timestamp when known.
	DeliveredAt *time.Time
	// Events are the scans reported by the carrier, oldest first.
	Events []domain.TrackingEvent
	// ProofAvailable reports that a proof of delivery can be fetched.
	ProofAvailable bool
}

// CarrierAdapter fetches tracking state from one carrier.
type CarrierAdapter interface {
	// Tag returns the carrier identifier stored on shipments.
	Tag() string

	// Matches reports whether the tracking number belongs to this carrier.
	Matches(trackingNumber string) bool

	// BatchSize is the maximum number of shipments per Fetch call.
	BatchSize() int

	// MaxTrackingAge is how long the carrier keeps shipment data.
	MaxTrackingAge() time.Duration

	// EventStrategy decides how fetched events are persisted.
	EventStrategy() EventStrategy

	// Fetch loads the current state for a batch of tracking numbers. A
	// shipment unknown to the carrier maps to ErrNoTrackingData inside
	// the result, not to a batch error.
	Fetch(ctx context.Context, trackingNumbers []string) (map[string]*StatusPayload, error)

	// FetchProof retrieves the proof of delivery for a delivered shipment.
	FetchProof(ctx context.Context, trackingNumber string) (*domain.ProofOfDelivery, error)
}

// TrackingRepository persists shipment tracking state.
type TrackingRepository interface {
	// SyncFromLabels creates tracking rows for submitted labels that have
	// none yet and returns how many were created.
	SyncFromLabels(ctx context.Context) (int, error)

	// ListSweepable loads all shipments in a non-terminal state.
	ListSweepable(ctx context.Context) ([]*domain.ShipmentTracking, error)

	// Save persists the shipment header fields.
	Save(ctx context.Context, s *domain.ShipmentTracking) error

	// ReplaceEvents swaps the stored events with the given set.
	ReplaceEvents(ctx context.Context, shipmentID uint, events []domain.TrackingEvent) error

	// MergeEvents appends events whose key is not stored yet and returns
	// how many were added.
	MergeEvents(ctx context.Context, shipmentID uint, events []domain.TrackingEvent) (int, error)

	// SaveProof stores the proof of delivery for a shipment.
	SaveProof(ctx context.Context, proof *domain.ProofOfDelivery) error
}
