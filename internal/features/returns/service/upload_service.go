package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"go.uber.org/zap"
)

// UploadSummary reports the outcome of one upload and submission run.
type UploadSummary struct {
	// Processed is the number of cases with a label to push.
	Processed int
	// Uploaded is the number of label documents pushed to the portal.
	Uploaded int
	// Submitted is the number of returns completed on the portal.
	Submitted int
	// Completed is the number of cases the portal confirmed as completed.
	Completed int
	// Failed is the number of cases that hit a permanent error.
	Failed int
}

// UploadService pushes generated labels into the seller portal and submits
// the return with tracking number and document reference.
type UploadService struct {
	portal    ports.SellerPortal
	store     ports.LabelStore
	converter ports.ImageConverter
	repo      ports.CaseRepository
	retry     *resilience.RetrySession
	carrier   string
	now       func() time.Time
	logger    *zap.Logger
}

// NewUploadService creates an UploadService submitting labels under the given
// carrier name.
func NewUploadService(portal ports.SellerPortal, store ports.LabelStore, converter ports.ImageConverter, repo ports.CaseRepository, retry *resilience.RetrySession, carrier string) *UploadService {
	return &UploadService{
		portal:    portal,
		store:     store,
		converter: converter,
		repo:      repo,
		retry:     retry,
		carrier:   carrier,
		now:       time.Now,
		logger:    logger.Get(),
	}
}

// Run processes every case with a generated or uploaded label. The CSRF token
// is fetched once per run; portal calls run under retry with the case as
// error sink. An open circuit aborts the run.
func (s *UploadService) Run(ctx context.Context) (*UploadSummary, error) {
	cases, err := s.repo.ListByStatus(ctx, domain.StatusLabelGenerated, domain.StatusLabelUploaded)
	if err != nil {
		return nil, err
	}

	summary := &UploadSummary{Processed: len(cases)}
	if len(cases) == 0 {
		return summary, nil
	}

	var csrf string
	err = s.retry.Execute(ctx, "fetch_csrf_token", nil, func(ctx context.Context) error {
		var fetchErr error
		csrf, fetchErr = s.portal.FetchCSRFToken(ctx)
		return fetchErr
	})
	if err != nil {
		return summary, err
	}

	for _, rc := range cases {
		if err := s.process(ctx, csrf, rc, summary); err != nil {
			summary.Failed++
			if saveErr := s.repo.Save(ctx, rc); saveErr != nil {
				s.logger.Error("Failed to store case", zap.String("case_id", rc.CaseID), zap.Error(saveErr))
			}
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return summary, err
			}
			s.logger.Error("Label submission failed", zap.String("case_id", rc.CaseID), zap.Error(err))
		}
	}

	s.logger.Info("Label submission finished",
		zap.Int("processed", summary.Processed),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("submitted", summary.Submitted),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// process pushes one case through upload, document registration, submission
// and the final portal state check.
func (s *UploadService) process(ctx context.Context, csrf string, rc *domain.ReturnCase, summary *UploadSummary) error {
	label := rc.GeneratedLabel
	if label == nil || label.TrackingNumber == "" {
		rc.RecordError("no generated label on record")
		return fmt.Errorf("case %s has no generated label", rc.CaseID)
	}

	pdf, err := s.store.Get(ctx, label.StorageKey)
	if err != nil {
		rc.RecordError(err.Error())
		return fmt.Errorf("failed to load label document: %w", err)
	}
	data, contentType, err := s.converter.Convert(pdf)
	if err != nil {
		rc.RecordError(err.Error())
		return fmt.Errorf("failed to convert label document: %w", err)
	}
	fileName := fmt.Sprintf("return-label-%s%s", label.TrackingNumber, extensionFor(contentType))

	if rc.InternalStatus == domain.StatusLabelGenerated {
		err := s.retry.Execute(ctx, "upload_label", rc, func(ctx context.Context) error {
			slot, err := s.portal.FetchUploadSlot(ctx, csrf, rc.CaseID, fileName, len(data))
			if err != nil {
				return err
			}
			return s.portal.UploadBinary(ctx, slot, data, contentType)
		})
		if err != nil {
			return err
		}

		label.State = domain.LabelStateUploaded
		if err := s.repo.SaveLabel(ctx, label); err != nil {
			rc.RecordError(err.Error())
			return fmt.Errorf("failed to store label record: %w", err)
		}
		rc.InternalStatus = domain.StatusLabelUploaded
		if err := s.repo.Save(ctx, rc); err != nil {
			return fmt.Errorf("failed to store case: %w", err)
		}
		summary.Uploaded++
	}

	var docVersionID string
	err = s.retry.Execute(ctx, "register_document", rc, func(ctx context.Context) error {
		var regErr error
		docVersionID, regErr = s.portal.RegisterDocument(ctx, csrf, rc.CaseID, fileName, data, contentType)
		return regErr
	})
	if err != nil {
		return err
	}

	err = s.retry.Execute(ctx, "submit_return", rc, func(ctx context.Context) error {
		return s.portal.SubmitReturn(ctx, csrf, rc.CaseID, label.TrackingNumber, s.carrier, docVersionID)
	})
	if err != nil {
		return err
	}

	submittedAt := s.now()
	label.State = domain.LabelStateSubmitted
	label.SubmittedAt = &submittedAt
	if err := s.repo.SaveLabel(ctx, label); err != nil {
		s.logger.Warn("Failed to store label record", zap.String("case_id", rc.CaseID), zap.Error(err))
	}

	rc.InternalStatus = domain.StatusLabelSubmitted
	rc.LabelSubmittedAt = &submittedAt
	rc.LastError = ""
	summary.Submitted++

	s.confirmCompletion(ctx, rc, summary)

	if err := s.repo.Save(ctx, rc); err != nil {
		return fmt.Errorf("failed to store case: %w", err)
	}

	s.logger.Info("Submitted return label",
		zap.String("case_id", rc.CaseID),
		zap.String("tracking_number", label.TrackingNumber),
	)
	return nil
}

// confirmCompletion refetches the portal state after submission. Failures are
// tolerated; the next ingestion run picks the state up anyway.
func (s *UploadService) confirmCompletion(ctx context.Context, rc *domain.ReturnCase, summary *UploadSummary) {
	var updated *ports.PortalReturn
	err := s.retry.Execute(ctx, "confirm_return_state", nil, func(ctx context.Context) error {
		var fetchErr error
		updated, fetchErr = s.portal.FetchReturn(ctx, rc.CaseID)
		return fetchErr
	})
	if err != nil {
		s.logger.Warn("Failed to confirm portal state", zap.String("case_id", rc.CaseID), zap.Error(err))
		return
	}

	rc.PortalState = domain.PortalState(updated.State)
	if rc.PortalState == domain.PortalStateCompleted {
		rc.InternalStatus = domain.StatusCompleted
		summary.Completed++
	}
}

// extensionFor maps a content type to a file extension.
func extensionFor(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".bin"
	}
}
