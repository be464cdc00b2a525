package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"go.uber.org/zap"
)

// IngestSummary reports the outcome of one ingestion run.
type IngestSummary struct {
	// Fetched is the number of returns the portal reported.
	Fetched int
	// Created is the number of new cases stored.
	Created int
	// Updated is the number of existing cases whose payload changed.
	Updated int
	// Unchanged is the number of cases skipped because the payload hash matched.
	Unchanged int
	// Failed is the number of cases that could not be stored.
	Failed int
}

// IngestService pulls return requests from the seller portal and upserts them
// as return cases. Change detection uses an MD5 hash over the raw portal
// payload so unchanged returns cost no write.
type IngestService struct {
	portal   ports.SellerPortal
	repo     ports.CaseRepository
	retry    *resilience.RetrySession
	daysBack int
	logger   *zap.Logger
}

// NewIngestService creates an IngestService covering the last daysBack days.
func NewIngestService(portal ports.SellerPortal, repo ports.CaseRepository, retry *resilience.RetrySession, daysBack int) *IngestService {
	return &IngestService{
		portal:   portal,
		repo:     repo,
		retry:    retry,
		daysBack: daysBack,
		logger:   logger.Get(),
	}
}

// Run fetches the current portal returns and reconciles them with the stored
// cases. The fetch itself runs under retry and session recovery; storage
// failures are isolated per case.
func (s *IngestService) Run(ctx context.Context) (*IngestSummary, error) {
	var fetched []ports.PortalReturn
	err := s.retry.Execute(ctx, "fetch_returns", nil, func(ctx context.Context) error {
		var fetchErr error
		fetched, fetchErr = s.portal.FetchReturns(ctx, s.daysBack)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	summary := &IngestSummary{Fetched: len(fetched)}

	for i := range fetched {
		pr := &fetched[i]
		existing, err := s.repo.FindByCaseID(ctx, pr.CaseID)
		switch {
		case errors.Is(err, ports.ErrNotFound):
			rc := s.buildCase(pr, nil)
			if err := s.repo.Save(ctx, rc); err != nil {
				summary.Failed++
				s.logger.Error("Failed to store new return case", zap.String("case_id", pr.CaseID), zap.Error(err))
				continue
			}
			summary.Created++
		case err != nil:
			summary.Failed++
			s.logger.Error("Failed to load return case", zap.String("case_id", pr.CaseID), zap.Error(err))
		default:
			if existing.DataHash == payloadHash(pr.Raw) {
				summary.Unchanged++
				continue
			}
			rc := s.buildCase(pr, existing)
			if err := s.repo.Save(ctx, rc); err != nil {
				summary.Failed++
				s.logger.Error("Failed to update return case", zap.String("case_id", pr.CaseID), zap.Error(err))
				continue
			}
			summary.Updated++
		}
	}

	s.logger.Info("Ingestion finished",
		zap.Int("fetched", summary.Fetched),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// buildCase maps a portal return onto a case. For existing cases the internal
// workflow fields (status, internal RMA, duplicate link, submission timestamp)
// are preserved; only the portal facing fields are refreshed.
func (s *IngestService) buildCase(pr *ports.PortalReturn, existing *domain.ReturnCase) *domain.ReturnCase {
	rc := existing
	if rc == nil {
		rc = &domain.ReturnCase{
			CaseID:         pr.CaseID,
			InternalStatus: domain.StatusPendingRMA,
		}
	}

	rc.OrderID = pr.OrderID
	rc.RMAID = pr.RMAID
	rc.MarketplaceID = pr.MarketplaceID
	rc.PortalState = domain.PortalState(pr.State)

	rc.OrderDate = pr.OrderDate
	rc.RequestDate = pr.RequestDate
	rc.ApproveDate = pr.ApproveDate
	rc.CloseDate = pr.CloseDate

	rc.TotalOrderValue = pr.TotalOrderValue
	if pr.CurrencyCode != "" {
		rc.CurrencyCode = pr.CurrencyCode
	}
	rc.CustomerID = pr.CustomerID
	rc.CustomerName = pr.CustomerName

	rc.InPolicy = pr.InPolicy
	rc.PrimeReturn = pr.PrimeReturn
	rc.AutoAuthorized = pr.AutoAuthorized
	rc.GiftReturn = pr.GiftReturn
	rc.OOCReturn = pr.OOCReturn
	rc.HasPriorRefund = pr.HasPriorRefund
	rc.SalesChannel = pr.SalesChannel
	rc.RefundStatus = pr.RefundStatus

	rc.RawData = pr.Raw
	rc.DataHash = payloadHash(pr.Raw)

	rc.Items = mergeItems(rc.Items, pr.Items, rc.ID)

	if pr.Label != nil {
		label := rc.PortalLabel
		if label == nil {
			label = &domain.PortalLabel{ReturnCaseID: rc.ID}
		}
		label.LabelType = pr.Label.LabelType
		label.CarrierName = pr.Label.CarrierName
		label.CarrierTrackingID = pr.Label.CarrierTrackingID
		label.LabelPrice = pr.Label.LabelPrice
		rc.PortalLabel = label
	}

	return rc
}

// mergeItems maps portal items onto the stored items, matching by order item
// id first and ASIN second so updates do not create duplicate rows.
func mergeItems(existing []domain.ReturnItem, incoming []ports.PortalReturnItem, caseID uint) []domain.ReturnItem {
	byOrderItem := make(map[string]*domain.ReturnItem)
	byASIN := make(map[string]*domain.ReturnItem)
	for i := range existing {
		if existing[i].OrderItemID != "" {
			byOrderItem[existing[i].OrderItemID] = &existing[i]
		}
		byASIN[existing[i].ASIN] = &existing[i]
	}

	merged := make([]domain.ReturnItem, 0, len(incoming))
	for _, in := range incoming {
		item := byOrderItem[in.OrderItemID]
		if item == nil {
			item = byASIN[in.ASIN]
		}
		if item == nil {
			item = &domain.ReturnItem{ReturnCaseID: caseID}
		}

		item.ASIN = in.ASIN
		item.MerchantSKU = in.MerchantSKU
		item.OrderItemID = in.OrderItemID
		item.ProductTitle = in.ProductTitle
		item.ProductLink = in.ProductLink
		item.ProductImageLink = in.ProductImageLink
		item.Quantity = in.Quantity
		item.ReasonCode = in.ReasonCode
		item.CustomerComments = in.CustomerComments
		item.Resolution = in.Resolution
		item.UnitPrice = in.UnitPrice
		item.InPolicy = in.InPolicy

		merged = append(merged, *item)
	}
	return merged
}

// payloadHash returns the MD5 hex of a raw portal payload.
func payloadHash(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
