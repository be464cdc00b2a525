package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"go.uber.org/zap"
)

// Rejection reasons stored on a case when it is not eligible for a label.
const (
	ReasonNoAddress        = "NO_ADDRESS"
	ReasonOldReturn        = "OLD_RETURN"
	ReasonNotInPolicy      = "NOT_IN_POLICY"
	ReasonNotEligibleState = "NOT_ELIGIBLE_STATE"
)

// DuplicateSummary reports the outcome of one duplicate detection run.
type DuplicateSummary struct {
	// Groups is the number of (order, ASIN) groups with more than one case.
	Groups int
	// Closed is the number of cases newly closed as duplicates.
	Closed int
}

// EligibilitySummary reports the outcome of one eligibility classification run.
type EligibilitySummary struct {
	// Processed is the number of cases classified.
	Processed int
	// Eligible is the number of cases cleared for label generation.
	Eligible int
	// Rejected is the number of cases marked not eligible.
	Rejected int
	// AlreadyLabeled is the number of cases where the portal already holds
	// a tracking id.
	AlreadyLabeled int
	// Completed is the number of cases the portal already closed out.
	Completed int
}

// FilterService closes duplicate return requests and classifies the remaining
// cases for label generation.
type FilterService struct {
	repo       ports.CaseRepository
	enrichment ports.EnrichmentRepository
	maxAge     time.Duration
	logger     *zap.Logger
}

// NewFilterService creates a FilterService. Cases requested more than maxAge
// after their order date are rejected.
func NewFilterService(repo ports.CaseRepository, enrichment ports.EnrichmentRepository, maxAge time.Duration) *FilterService {
	return &FilterService{
		repo:       repo,
		enrichment: enrichment,
		maxAge:     maxAge,
		logger:     logger.Get(),
	}
}

// protectedStatuses are never closed as duplicates because a label already
// exists or was submitted for them.
var protectedStatuses = map[domain.InternalStatus]bool{
	domain.StatusLabelGenerated:        true,
	domain.StatusLabelUploaded:         true,
	domain.StatusLabelSubmitted:        true,
	domain.StatusAlreadyLabelSubmitted: true,
	domain.StatusCompleted:             true,
}

// CloseDuplicates groups all cases by order id and item ASIN and closes every
// case in a group except the canonical one. The canonical case is the one
// with the earliest request date, ties broken by the lower case id. The run
// is idempotent: already closed duplicates keep their link.
func (s *FilterService) CloseDuplicates(ctx context.Context) (*DuplicateSummary, error) {
	cases, err := s.repo.ListComparable(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*domain.ReturnCase)
	for _, rc := range cases {
		for _, key := range groupKeys(rc) {
			groups[key] = append(groups[key], rc)
		}
	}

	summary := &DuplicateSummary{}
	closed := make(map[string]bool)

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		group := dedupeByCaseID(groups[key])
		if len(group) < 2 {
			continue
		}
		summary.Groups++

		canonical := pickCanonical(group)
		for _, rc := range group {
			if rc.CaseID == canonical.CaseID || closed[rc.CaseID] {
				continue
			}
			if protectedStatuses[rc.InternalStatus] {
				continue
			}
			if rc.InternalStatus == domain.StatusDuplicateClosed && rc.DuplicateOf == canonical.CaseID {
				closed[rc.CaseID] = true
				continue
			}

			rc.InternalStatus = domain.StatusDuplicateClosed
			rc.DuplicateOf = canonical.CaseID
			if err := s.enrichment.Purge(ctx, rc.ID); err != nil {
				s.logger.Warn("Failed to purge enrichment of duplicate", zap.String("case_id", rc.CaseID), zap.Error(err))
			}
			if err := s.repo.Save(ctx, rc); err != nil {
				s.logger.Error("Failed to close duplicate", zap.String("case_id", rc.CaseID), zap.Error(err))
				continue
			}
			closed[rc.CaseID] = true
			summary.Closed++
			s.logger.Info("Closed duplicate return",
				zap.String("case_id", rc.CaseID),
				zap.String("duplicate_of", canonical.CaseID),
			)
		}
	}

	return summary, nil
}

// ClassifyEligibility decides for every case with a resolved RMA whether a
// return label should be generated. Rejection reasons are stored on the case.
func (s *FilterService) ClassifyEligibility(ctx context.Context) (*EligibilitySummary, error) {
	cases, err := s.repo.ListByStatus(ctx, domain.StatusRMAReceived)
	if err != nil {
		return nil, err
	}

	summary := &EligibilitySummary{Processed: len(cases)}

	for _, rc := range cases {
		status, reason := s.classify(rc)
		rc.InternalStatus = status
		rc.LastError = reason

		if err := s.repo.Save(ctx, rc); err != nil {
			s.logger.Error("Failed to store classification", zap.String("case_id", rc.CaseID), zap.Error(err))
			continue
		}

		switch status {
		case domain.StatusEligible:
			summary.Eligible++
		case domain.StatusAlreadyLabelSubmitted:
			summary.AlreadyLabeled++
		case domain.StatusCompleted:
			summary.Completed++
		default:
			summary.Rejected++
		}
	}

	s.logger.Info("Eligibility classification finished",
		zap.Int("processed", summary.Processed),
		zap.Int("eligible", summary.Eligible),
		zap.Int("rejected", summary.Rejected),
		zap.Int("already_labeled", summary.AlreadyLabeled),
		zap.Int("completed", summary.Completed),
	)
	return summary, nil
}

// classify applies the eligibility checks in priority order. A portal state
// of Completed wins over everything, including a portal tracking id.
func (s *FilterService) classify(rc *domain.ReturnCase) (domain.InternalStatus, string) {
	if rc.PortalState == domain.PortalStateCompleted {
		return domain.StatusCompleted, ""
	}
	if rc.HasPortalTracking() {
		return domain.StatusAlreadyLabelSubmitted, ""
	}
	if !rc.Address.Usable() {
		return domain.StatusNotEligible, ReasonNoAddress
	}
	if rc.OrderDate != nil && rc.RequestDate != nil && rc.RequestDate.Sub(*rc.OrderDate) > s.maxAge {
		return domain.StatusNotEligible, ReasonOldReturn
	}
	if !rc.InPolicy {
		return domain.StatusNotEligible, ReasonNotInPolicy
	}
	switch rc.PortalState {
	case domain.PortalStatePendingLabel, domain.PortalStatePendingApproval, domain.PortalStatePendingRefund:
		return domain.StatusEligible, ""
	default:
		return domain.StatusNotEligible, fmt.Sprintf("%s: %s", ReasonNotEligibleState, rc.PortalState)
	}
}

// groupKeys returns the duplicate detection keys of a case, one per item ASIN.
func groupKeys(rc *domain.ReturnCase) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0, len(rc.Items))
	for _, item := range rc.Items {
		if item.ASIN == "" {
			continue
		}
		key := rc.OrderID + "|" + item.ASIN
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// dedupeByCaseID removes repeated case pointers from a group.
func dedupeByCaseID(group []*domain.ReturnCase) []*domain.ReturnCase {
	seen := make(map[string]bool)
	out := make([]*domain.ReturnCase, 0, len(group))
	for _, rc := range group {
		if !seen[rc.CaseID] {
			seen[rc.CaseID] = true
			out = append(out, rc)
		}
	}
	return out
}

// pickCanonical selects the case that survives duplicate resolution.
func pickCanonical(group []*domain.ReturnCase) *domain.ReturnCase {
	canonical := group[0]
	for _, rc := range group[1:] {
		if earlierRequest(rc, canonical) {
			canonical = rc
		}
	}
	return canonical
}

// earlierRequest reports whether a should be preferred over b. A case with a
// request date beats one without; equal dates fall back to the case id.
func earlierRequest(a, b *domain.ReturnCase) bool {
	switch {
	case a.RequestDate == nil && b.RequestDate == nil:
		return a.CaseID < b.CaseID
	case a.RequestDate == nil:
		return false
	case b.RequestDate == nil:
		return true
	case a.RequestDate.Equal(*b.RequestDate):
		return a.CaseID < b.CaseID
	default:
		return a.RequestDate.Before(*b.RequestDate)
	}
}
