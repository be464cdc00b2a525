package service

import (
	"context"
	"errors"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"go.uber.org/zap"
)

// AddressSummary reports the outcome of one address fetch run.
type AddressSummary struct {
	// Processed is the number of cases missing an address.
	Processed int
	// Fetched is the number of addresses stored.
	Fetched int
	// Failed is the number of cases where the routing call failed permanently.
	Failed int
}

// AddressService fetches the customer return address from the portal routing
// API for every case that does not have one stored yet.
type AddressService struct {
	portal ports.SellerPortal
	repo   ports.CaseRepository
	retry  *resilience.RetrySession
	logger *zap.Logger
}

// NewAddressService creates an AddressService.
func NewAddressService(portal ports.SellerPortal, repo ports.CaseRepository, retry *resilience.RetrySession) *AddressService {
	return &AddressService{
		portal: portal,
		repo:   repo,
		retry:  retry,
		logger: logger.Get(),
	}
}

// Run fetches missing addresses. Portal calls run under retry with the case
// itself as error sink; an open circuit aborts the run.
func (s *AddressService) Run(ctx context.Context) (*AddressSummary, error) {
	cases, err := s.repo.ListMissingAddress(ctx)
	if err != nil {
		return nil, err
	}

	summary := &AddressSummary{Processed: len(cases)}

	for _, rc := range cases {
		var details *ports.RoutingDetails
		err := s.retry.Execute(ctx, "fetch_routing_details", rc, func(ctx context.Context) error {
			var fetchErr error
			details, fetchErr = s.portal.FetchRoutingDetails(ctx, rc.CaseID)
			return fetchErr
		})
		if err != nil {
			summary.Failed++
			if saveErr := s.repo.Save(ctx, rc); saveErr != nil {
				s.logger.Error("Failed to store case", zap.String("case_id", rc.CaseID), zap.Error(saveErr))
			}
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return summary, err
			}
			continue
		}

		addr := &domain.ReturnAddress{
			ReturnCaseID: rc.ID,
			Name:         details.Name,
			LineOne:      details.LineOne,
			LineTwo:      details.LineTwo,
			LineThree:    details.LineThree,
			City:         details.City,
			Region:       details.Region,
			PostalCode:   details.PostalCode,
			CountryCode:  details.CountryCode,
			PhoneNumber:  details.PhoneNumber,
		}
		if err := s.repo.SaveAddress(ctx, addr); err != nil {
			summary.Failed++
			s.logger.Error("Failed to store address", zap.String("case_id", rc.CaseID), zap.Error(err))
			continue
		}
		summary.Fetched++
	}

	s.logger.Info("Address fetch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("fetched", summary.Fetched),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
