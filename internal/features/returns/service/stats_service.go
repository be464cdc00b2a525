package service

import (
	"context"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusSnapshot is a point in time view of the case pipeline.
type StatusSnapshot struct {
	// Counts holds the number of cases per internal status.
	Counts map[domain.InternalStatus]int64 `json:"counts"`
	// Values holds the summed order value per internal status.
	Values map[domain.InternalStatus]decimal.Decimal `json:"values"`
	// Total is the overall number of cases.
	Total int64 `json:"total"`
	// TotalValue is the order value across all cases.
	TotalValue decimal.Decimal `json:"total_value"`
	// TakenAt is when the snapshot was taken.
	TakenAt time.Time `json:"taken_at"`
}

// StatsService produces pipeline statistics for logging and the admin surface.
type StatsService struct {
	repo   ports.CaseRepository
	logger *zap.Logger
}

// NewStatsService creates a StatsService.
func NewStatsService(repo ports.CaseRepository) *StatsService {
	return &StatsService{
		repo:   repo,
		logger: logger.Get(),
	}
}

// Snapshot aggregates all cases grouped by internal status.
func (s *StatsService) Snapshot(ctx context.Context) (*StatusSnapshot, error) {
	aggregates, err := s.repo.AggregateByStatus(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &StatusSnapshot{
		Counts:  make(map[domain.InternalStatus]int64, len(aggregates)),
		Values:  make(map[domain.InternalStatus]decimal.Decimal, len(aggregates)),
		TakenAt: time.Now().UTC(),
	}
	for status, agg := range aggregates {
		snapshot.Counts[status] = agg.Count
		snapshot.Values[status] = agg.Value
		snapshot.Total += agg.Count
		snapshot.TotalValue = snapshot.TotalValue.Add(agg.Value)
	}
	return snapshot, nil
}

// LogSnapshot takes a snapshot and writes it to the log.
func (s *StatsService) LogSnapshot(ctx context.Context) (*StatusSnapshot, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	fields := make([]zap.Field, 0, len(snapshot.Counts)+2)
	fields = append(fields, zap.Int64("total", snapshot.Total))
	fields = append(fields, zap.String("total_value", snapshot.TotalValue.String()))
	for status, n := range snapshot.Counts {
		fields = append(fields, zap.Int64(string(status), n))
	}
	s.logger.Info("Pipeline statistics", fields...)
	return snapshot, nil
}
