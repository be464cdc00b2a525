package domain

import (
	"strconv"
	"time"
)

// LifecycleState is the tracking lifecycle of a return shipment.
type LifecycleState string

const (
	// LifecycleActive marks shipments still moving through the carrier network.
	LifecycleActive LifecycleState = "active"
	// LifecycleDelivered marks shipments that arrived at the warehouse.
	LifecycleDelivered LifecycleState = "delivered"
	// LifecycleException marks shipments with a delivery problem.
	LifecycleException LifecycleState = "exception"
	// LifecycleExpired marks shipments older than the carrier's tracking window.
	LifecycleExpired LifecycleState = "expired"
	// LifecycleNoData marks shipments the carrier has never seen.
	LifecycleNoData LifecycleState = "no_data"
)

// Terminal reports whether the state excludes the shipment from further
// sweeps. Only active shipments are polled again.
func (s LifecycleState) Terminal() bool {
	return s != LifecycleActive
}

// ShipmentTracking follows one return label through the carrier network.
type ShipmentTracking struct {
	ID uint `gorm:"primaryKey"`

	// TrackingNumber is the carrier's shipment number. Carriers recycle
	// numbers, so identity is the (number, case) pair.
	TrackingNumber string `gorm:"size:100;not null;uniqueIndex:ux_shipment_trackings_number_case"`
	// CarrierTag identifies the carrier adapter responsible, e.g. dhl or dpd.
	CarrierTag string `gorm:"size:20;not null;index"`
	// CaseID links back to the return case the label was generated for.
	CaseID string `gorm:"size:100;uniqueIndex:ux_shipment_trackings_number_case"`

	State      LifecycleState `gorm:"size:20;not null;default:active;index"`
	LastStatus string         `gorm:"size:255"`

	// ShippedAt is when the label was submitted, used for tracking age.
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	LastEventAt *time.Time
	// StoppedAt is when tracking ended, stamped once on delivery or expiry.
	StoppedAt *time.Time

	// FailureCount counts consecutive sweeps without carrier data.
	FailureCount  int
	LastCheckedAt *time.Time
	// ProofFailed marks that the one proof of delivery attempt failed.
	ProofFailed bool

	CreatedAt time.Time
	UpdatedAt time.Time

	Events []TrackingEvent  `gorm:"constraint:OnDelete:CASCADE"`
	Proof  *ProofOfDelivery `gorm:"constraint:OnDelete:CASCADE"`
}

// Age returns the time since the shipment was handed to the carrier.
func (s *ShipmentTracking) Age(now time.Time) time.Duration {
	if s.ShippedAt == nil {
		return now.Sub(s.CreatedAt)
	}
	return now.Sub(*s.ShippedAt)
}

// TrackingEvent is a single scan reported by the carrier.
type TrackingEvent struct {
	ID                 uint `gorm:"primaryKey"`
	ShipmentTrackingID uint `gorm:"not null;index"`

	// Timestamp is when the scan happened.
	Timestamp time.Time `gorm:"not null;index"`
	// Code is the carrier's event code.
	Code string `gorm:"size:20"`
	// Detail is the carrier's event sub code.
	Detail string `gorm:"size:20"`
	// Sequence orders events with identical timestamps.
	Sequence int

	Status      string `gorm:"type:text"`
	Location    string `gorm:"size:255"`
	CountryCode string `gorm:"size:10"`

	CreatedAt time.Time
}

// Key identifies an event for deduplication during incremental merges.
func (e *TrackingEvent) Key() string {
	return e.Timestamp.UTC().Format(time.RFC3339) + "|" + e.Code + "|" + e.Detail + "|" + strconv.Itoa(e.Sequence)
}

// ProofOfDelivery is the delivery document retrieved from the carrier.
type ProofOfDelivery struct {
	ID                 uint `gorm:"primaryKey"`
	ShipmentTrackingID uint `gorm:"not null;uniqueIndex"`

	// Image is the raw proof document, empty when only a URL is available.
	Image []byte `gorm:"type:bytea"`
	// MimeType describes the image payload.
	MimeType string `gorm:"size:50"`
	// DocumentURL points at the carrier hosted proof document.
	DocumentURL string `gorm:"size:1000"`

	RetrievedAt time.Time
}
