package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackingRepository persists shipment tracking state in Postgres.
type TrackingRepository struct {
	db *gorm.DB
}

// NewTrackingRepository creates a repository on the given connection.
func NewTrackingRepository(db *gorm.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// Migrate creates or updates the tracking tables.
func (r *TrackingRepository) Migrate() error {
	return r.db.AutoMigrate(
		&domain.ShipmentTracking{},
		&domain.TrackingEvent{},
		&domain.ProofOfDelivery{},
	)
}

// labelRow is the join row used when syncing new labels into tracking.
type labelRow struct {
	TrackingNumber string     `gorm:"column:tracking_number"`
	CaseID         string     `gorm:"column:case_id"`
	SubmittedAt    *time.Time `gorm:"column:submitted_at"`
}

// SyncFromLabels creates a tracking row for every submitted label that has
// none yet.
func (r *TrackingRepository) SyncFromLabels(ctx context.Context) (int, error) {
	var rows []labelRow
	err := r.db.WithContext(ctx).
		Table("generated_labels").
		Select("generated_labels.tracking_number, return_cases.case_id, generated_labels.submitted_at").
		Joins("JOIN return_cases ON return_cases.id = generated_labels.return_case_id").
		Joins("LEFT JOIN shipment_trackings ON shipment_trackings.tracking_number = generated_labels.tracking_number AND shipment_trackings.case_id = return_cases.case_id").
		Where("generated_labels.state = ?", "SUBMITTED").
		Where("shipment_trackings.id IS NULL").
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find unsynced labels: %w", err)
	}

	created := 0
	for _, row := range rows {
		shipment := &domain.ShipmentTracking{
			TrackingNumber: row.TrackingNumber,
			CaseID:         row.CaseID,
			State:          domain.LifecycleActive,
			ShippedAt:      row.SubmittedAt,
		}
		if err := r.db.WithContext(ctx).Create(shipment).Error; err != nil {
			return created, fmt.Errorf("failed to create tracking row: %w", err)
		}
		created++
	}
	return created, nil
}

// ListSweepable loads all shipments still being polled. Every other state is
// terminal and never revisited.
func (r *TrackingRepository) ListSweepable(ctx context.Context) ([]*domain.ShipmentTracking, error) {
	var shipments []*domain.ShipmentTracking
	err := r.db.WithContext(ctx).
		Preload("Proof").
		Where("state = ?", domain.LifecycleActive).
		Order("id").
		Find(&shipments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sweepable shipments: %w", err)
	}
	return shipments, nil
}

// Save persists the shipment header fields.
func (r *TrackingRepository) Save(ctx context.Context, s *domain.ShipmentTracking) error {
	if err := r.db.WithContext(ctx).Omit("Events", "Proof").Save(s).Error; err != nil {
		return fmt.Errorf("failed to save shipment: %w", err)
	}
	return nil
}

// ReplaceEvents swaps the stored events with the given set.
func (r *TrackingRepository) ReplaceEvents(ctx context.Context, shipmentID uint, events []domain.TrackingEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("shipment_tracking_id = ?", shipmentID).Delete(&domain.TrackingEvent{}).Error; err != nil {
			return fmt.Errorf("failed to clear events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		for i := range events {
			events[i].ID = 0
			events[i].ShipmentTrackingID = shipmentID
		}
		if err := tx.Create(&events).Error; err != nil {
			return fmt.Errorf("failed to store events: %w", err)
		}
		return nil
	})
}

// MergeEvents appends events whose key is not stored yet.
func (r *TrackingRepository) MergeEvents(ctx context.Context, shipmentID uint, events []domain.TrackingEvent) (int, error) {
	var existing []domain.TrackingEvent
	err := r.db.WithContext(ctx).
		Where("shipment_tracking_id = ?", shipmentID).
		Find(&existing).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load events: %w", err)
	}

	known := make(map[string]bool, len(existing))
	for i := range existing {
		known[existing[i].Key()] = true
	}

	added := 0
	for i := range events {
		event := events[i]
		if known[event.Key()] {
			continue
		}
		event.ID = 0
		event.ShipmentTrackingID = shipmentID
		if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
			return added, fmt.Errorf("failed to store event: %w", err)
		}
		known[event.Key()] = true
		added++
	}
	return added, nil
}

// SaveProof stores the proof of delivery, replacing an earlier one.
func (r *TrackingRepository) SaveProof(ctx context.Context, proof *domain.ProofOfDelivery) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shipment_tracking_id"}},
			UpdateAll: true,
		}).
		Create(proof).Error
	if err != nil {
		return fmt.Errorf("failed to save proof of delivery: %w", err)
	}
	return nil
}
