package service

import (
	"context"
	"fmt"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"go.uber.org/zap"
)

// LabelSummary reports the outcome of one label generation run.
type LabelSummary struct {
	// Processed is the number of eligible cases inspected.
	Processed int
	// Generated is the number of labels booked and stored.
	Generated int
	// Failed is the number of cases where booking or storage failed.
	Failed int
}

// LabelService books return labels with the carrier for all eligible cases
// and stores the PDF in the label store.
type LabelService struct {
	transport ports.LabelTransport
	store     ports.LabelStore
	repo      ports.CaseRepository
	logger    *zap.Logger
}

// NewLabelService creates a LabelService.
func NewLabelService(transport ports.LabelTransport, store ports.LabelStore, repo ports.CaseRepository) *LabelService {
	return &LabelService{
		transport: transport,
		store:     store,
		repo:      repo,
		logger:    logger.Get(),
	}
}

// Run books a label for every eligible case. A case that already carries a
// generated label is advanced without booking a second one.
func (s *LabelService) Run(ctx context.Context) (*LabelSummary, error) {
	cases, err := s.repo.ListByStatus(ctx, domain.StatusEligible)
	if err != nil {
		return nil, err
	}

	summary := &LabelSummary{Processed: len(cases)}

	for _, rc := range cases {
		if rc.GeneratedLabel != nil && rc.GeneratedLabel.TrackingNumber != "" {
			rc.InternalStatus = domain.StatusLabelGenerated
			if err := s.repo.Save(ctx, rc); err != nil {
				summary.Failed++
				s.logger.Error("Failed to store case", zap.String("case_id", rc.CaseID), zap.Error(err))
				continue
			}
			summary.Generated++
			continue
		}

		if err := s.generate(ctx, rc); err != nil {
			summary.Failed++
			rc.RecordError(err.Error())
			if saveErr := s.repo.Save(ctx, rc); saveErr != nil {
				s.logger.Error("Failed to store case", zap.String("case_id", rc.CaseID), zap.Error(saveErr))
			}
			s.logger.Error("Label generation failed", zap.String("case_id", rc.CaseID), zap.Error(err))
			continue
		}
		summary.Generated++
	}

	s.logger.Info("Label generation finished",
		zap.Int("processed", summary.Processed),
		zap.Int("generated", summary.Generated),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// generate books one label, uploads the PDF and advances the case.
func (s *LabelService) generate(ctx context.Context, rc *domain.ReturnCase) error {
	if !rc.Address.Usable() {
		return fmt.Errorf("case %s has no usable return address", rc.CaseID)
	}

	ref := rc.InternalRMA
	if ref == "" {
		ref = rc.OrderID
	}

	label, err := s.transport.CreateReturnLabel(ctx, ports.CreateLabelRequest{
		CaseID:      rc.CaseID,
		OrderID:     rc.OrderID,
		RMA:         rc.InternalRMA,
		CustomerRef: ref,
		Shipper: ports.RoutingDetails{
			Name:        rc.Address.Name,
			LineOne:     rc.Address.LineOne,
			LineTwo:     rc.Address.LineTwo,
			City:        rc.Address.City,
			Region:      rc.Address.Region,
			PostalCode:  rc.Address.PostalCode,
			CountryCode: rc.Address.CountryCode,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to book label: %w", err)
	}

	key := fmt.Sprintf("labels/%s/%s.pdf", rc.CaseID, label.TrackingNumber)
	if err := s.store.Put(ctx, key, label.LabelPDF, "application/pdf"); err != nil {
		return fmt.Errorf("failed to store label document: %w", err)
	}

	if err := s.repo.SaveLabel(ctx, &domain.GeneratedLabel{
		ReturnCaseID:   rc.ID,
		TrackingNumber: label.TrackingNumber,
		StorageKey:     key,
		State:          domain.LabelStateCreated,
	}); err != nil {
		return fmt.Errorf("failed to store label record: %w", err)
	}

	rc.InternalStatus = domain.StatusLabelGenerated
	rc.LastError = ""
	if err := s.repo.Save(ctx, rc); err != nil {
		return fmt.Errorf("failed to store case: %w", err)
	}

	s.logger.Info("Generated return label",
		zap.String("case_id", rc.CaseID),
		zap.String("tracking_number", label.TrackingNumber),
	)
	return nil
}
