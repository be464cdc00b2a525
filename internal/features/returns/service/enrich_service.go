package service

import (
	"context"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"go.uber.org/zap"
)

// EnrichSummary reports the outcome of one RMA resolution run.
type EnrichSummary struct {
	// Processed is the number of cases inspected.
	Processed int
	// Resolved is the number of cases that received an internal RMA.
	Resolved int
	// Unresolved is the number of cases with no RMA in the ERP yet.
	Unresolved int
	// Failed is the number of cases hitting an ERP error.
	Failed int
}

// EnrichService resolves internal RMA numbers for pending cases against the
// merchandise management mirror and attaches order enrichment rows.
type EnrichService struct {
	erp        ports.ERPGateway
	repo       ports.CaseRepository
	enrichment ports.EnrichmentRepository
	logger     *zap.Logger
}

// NewEnrichService creates an EnrichService.
func NewEnrichService(erp ports.ERPGateway, repo ports.CaseRepository, enrichment ports.EnrichmentRepository) *EnrichService {
	return &EnrichService{
		erp:        erp,
		repo:       repo,
		enrichment: enrichment,
		logger:     logger.Get(),
	}
}

// Run looks up the internal RMA for every case still waiting on one. Cases
// without an RMA stay in the pool and are retried next cycle. ERP errors are
// isolated per case.
func (s *EnrichService) Run(ctx context.Context) (*EnrichSummary, error) {
	cases, err := s.repo.ListByStatus(ctx, domain.StatusPendingRMA, domain.StatusNoRMAFound)
	if err != nil {
		return nil, err
	}

	summary := &EnrichSummary{Processed: len(cases)}

	for _, rc := range cases {
		rma, err := s.erp.LookupRMA(ctx, rc.OrderID)
		if err != nil {
			summary.Failed++
			s.logger.Error("RMA lookup failed",
				zap.String("case_id", rc.CaseID),
				zap.String("order_id", rc.OrderID),
				zap.Error(err),
			)
			continue
		}

		if rma == "" {
			if rc.InternalStatus != domain.StatusNoRMAFound {
				rc.InternalStatus = domain.StatusNoRMAFound
				if err := s.repo.Save(ctx, rc); err != nil {
					summary.Failed++
					s.logger.Error("Failed to store case", zap.String("case_id", rc.CaseID), zap.Error(err))
					continue
				}
			}
			summary.Unresolved++
			continue
		}

		rc.InternalRMA = rma
		rc.InternalStatus = domain.StatusRMAReceived
		rc.LastError = ""

		data, err := s.erp.FetchOrderData(ctx, rc.OrderID)
		if err != nil {
			s.logger.Warn("Order enrichment fetch failed",
				zap.String("case_id", rc.CaseID),
				zap.String("order_id", rc.OrderID),
				zap.Error(err),
			)
		} else if err := s.enrichment.Replace(ctx, rc.ID, data); err != nil {
			s.logger.Warn("Failed to store order enrichment", zap.String("case_id", rc.CaseID), zap.Error(err))
		}

		if err := s.repo.Save(ctx, rc); err != nil {
			summary.Failed++
			s.logger.Error("Failed to store case", zap.String("case_id", rc.CaseID), zap.Error(err))
			continue
		}
		summary.Resolved++
	}

	s.logger.Info("RMA resolution finished",
		zap.Int("processed", summary.Processed),
		zap.Int("resolved", summary.Resolved),
		zap.Int("unresolved", summary.Unresolved),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
