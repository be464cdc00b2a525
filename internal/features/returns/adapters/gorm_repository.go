package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CaseRepository is the gorm backed implementation of ports.CaseRepository.
type CaseRepository struct {
	db *gorm.DB
}

// NewCaseRepository creates a CaseRepository on the worker database.
func NewCaseRepository(db *gorm.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Migrate creates or updates the return tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.ReturnCase{},
		&domain.ReturnItem{},
		&domain.ReturnAddress{},
		&domain.PortalLabel{},
		&domain.GeneratedLabel{},
		&domain.OrderGeneralDetail{},
		&domain.OrderProductDetail{},
		&domain.OrderShipmentInfo{},
	)
}

// FindByCaseID loads a case with all associations.
func (r *CaseRepository) FindByCaseID(ctx context.Context, caseID string) (*domain.ReturnCase, error) {
	var rc domain.ReturnCase
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Address").
		Preload("PortalLabel").
		Preload("GeneratedLabel").
		Where("case_id = ?", caseID).
		First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", caseID, err)
	}
	return &rc, nil
}

// Save creates or updates a case including its associations.
func (r *CaseRepository) Save(ctx context.Context, rc *domain.ReturnCase) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Save(rc).Error
	if err != nil {
		return fmt.Errorf("failed to save case %s: %w", rc.CaseID, err)
	}
	return nil
}

// SaveAddress stores the return address for a case, replacing an existing one.
func (r *CaseRepository) SaveAddress(ctx context.Context, addr *domain.ReturnAddress) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "return_case_id"}},
			UpdateAll: true,
		}).
		Create(addr).Error
	if err != nil {
		return fmt.Errorf("failed to save address for case %d: %w", addr.ReturnCaseID, err)
	}
	return nil
}

// SaveLabel stores a generated label for a case.
func (r *CaseRepository) SaveLabel(ctx context.Context, label *domain.GeneratedLabel) error {
	if err := r.db.WithContext(ctx).Save(label).Error; err != nil {
		return fmt.Errorf("failed to save label for case %d: %w", label.ReturnCaseID, err)
	}
	return nil
}

// ListByStatus loads all cases currently in one of the given statuses.
func (r *CaseRepository) ListByStatus(ctx context.Context, statuses ...domain.InternalStatus) ([]*domain.ReturnCase, error) {
	var cases []*domain.ReturnCase
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Address").
		Preload("PortalLabel").
		Preload("GeneratedLabel").
		Where("internal_status IN ?", statuses).
		Order("id").
		Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cases by status: %w", err)
	}
	return cases, nil
}

// ListComparable loads all cases relevant for duplicate detection. Cases
// already closed as duplicates stay in the set so the pass is idempotent.
func (r *CaseRepository) ListComparable(ctx context.Context) ([]*domain.ReturnCase, error) {
	var cases []*domain.ReturnCase
	err := r.db.WithContext(ctx).
		Preload("Items").
		Order("id").
		Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list comparable cases: %w", err)
	}
	return cases, nil
}

// ListMissingAddress loads actionable cases that have no stored address yet.
func (r *CaseRepository) ListMissingAddress(ctx context.Context) ([]*domain.ReturnCase, error) {
	var cases []*domain.ReturnCase
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("PortalLabel").
		Joins("LEFT JOIN return_addresses ON return_addresses.return_case_id = return_cases.id").
		Where("return_addresses.id IS NULL").
		Where("return_cases.internal_status IN ?", []domain.InternalStatus{
			domain.StatusPendingRMA,
			domain.StatusRMAReceived,
			domain.StatusEligible,
		}).
		Order("return_cases.id").
		Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cases missing address: %w", err)
	}
	return cases, nil
}

// AggregateByStatus returns case counts and order value sums grouped by
// internal status.
func (r *CaseRepository) AggregateByStatus(ctx context.Context) (map[domain.InternalStatus]ports.StatusAggregate, error) {
	type row struct {
		InternalStatus domain.InternalStatus
		Count          int64
		Value          decimal.Decimal
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&domain.ReturnCase{}).
		Select("internal_status, count(*) as count, coalesce(sum(total_order_value), 0) as value").
		Group("internal_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cases by status: %w", err)
	}

	aggregates := make(map[domain.InternalStatus]ports.StatusAggregate, len(rows))
	for _, r := range rows {
		aggregates[r.InternalStatus] = ports.StatusAggregate{Count: r.Count, Value: r.Value}
	}
	return aggregates, nil
}

// EnrichmentRepository is the gorm backed implementation of
// ports.EnrichmentRepository.
type EnrichmentRepository struct {
	db *gorm.DB
}

// NewEnrichmentRepository creates an EnrichmentRepository.
func NewEnrichmentRepository(db *gorm.DB) *EnrichmentRepository {
	return &EnrichmentRepository{db: db}
}

// Replace swaps all enrichment rows of a case with the given data.
func (r *EnrichmentRepository) Replace(ctx context.Context, caseID uint, data *ports.ERPOrderData) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := purgeEnrichment(tx, caseID); err != nil {
			return err
		}

		if data.General != nil {
			general := *data.General
			general.ID = 0
			general.ReturnCaseID = caseID
			if err := tx.Create(&general).Error; err != nil {
				return fmt.Errorf("failed to store order detail for case %d: %w", caseID, err)
			}
		}
		for _, product := range data.Products {
			product.ID = 0
			product.ReturnCaseID = caseID
			if err := tx.Create(&product).Error; err != nil {
				return fmt.Errorf("failed to store product detail for case %d: %w", caseID, err)
			}
		}
		for _, shipment := range data.Shipments {
			shipment.ID = 0
			shipment.ReturnCaseID = caseID
			if err := tx.Create(&shipment).Error; err != nil {
				return fmt.Errorf("failed to store shipment info for case %d: %w", caseID, err)
			}
		}
		return nil
	})
}

// Purge removes all enrichment rows of a case.
func (r *EnrichmentRepository) Purge(ctx context.Context, caseID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return purgeEnrichment(tx, caseID)
	})
}

func purgeEnrichment(tx *gorm.DB, caseID uint) error {
	for _, model := range []any{
		&domain.OrderGeneralDetail{},
		&domain.OrderProductDetail{},
		&domain.OrderShipmentInfo{},
	} {
		if err := tx.Where("return_case_id = ?", caseID).Delete(model).Error; err != nil {
			return fmt.Errorf("failed to purge enrichment for case %d: %w", caseID, err)
		}
	}
	return nil
}
