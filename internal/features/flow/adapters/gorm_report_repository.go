package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/flow/domain"

	"gorm.io/gorm"
)

// ReportRepository is the gorm backed implementation of
// ports.ReportRepository.
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a ReportRepository on the worker database.
func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Migrate creates or updates the cycle report table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.CycleReport{})
}

// Save persists a cycle report.
func (r *ReportRepository) Save(ctx context.Context, report *domain.CycleReport) error {
	if err := r.db.WithContext(ctx).Save(report).Error; err != nil {
		return fmt.Errorf("failed to save cycle report: %w", err)
	}
	return nil
}

// Last loads the most recent cycle report, nil when none exists yet.
func (r *ReportRepository) Last(ctx context.Context) (*domain.CycleReport, error) {
	var report domain.CycleReport
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last cycle report: %w", err)
	}
	return &report, nil
}
