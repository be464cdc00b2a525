package service

import (
	"context"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/ports"

	"go.uber.org/zap"
)

// SweepSummary reports the outcome of one tracking sweep.
type SweepSummary struct {
	// Total is the number of shipments considered.
	Total int `json:"total"`
	// Updated is the number of shipments whose state was refreshed.
	Updated int `json:"updated"`
	// Failed is the number of shipments whose carrier call failed.
	Failed int `json:"failed"`
	// Skipped is the number of shipments no adapter is responsible for.
	Skipped int `json:"skipped"`
	// NoData is the number of shipments the carrier has no data for.
	NoData int `json:"no_data"`
	// APICalls counts the carrier requests made.
	APICalls int `json:"api_calls"`
}

// SweepService refreshes the tracking state of all open return shipments
// across the registered carrier adapters.
type SweepService struct {
	repo     ports.TrackingRepository
	adapters []ports.CarrierAdapter
	now      func() time.Time
	logger   *zap.Logger
}

// NewSweepService creates a SweepService with the given carrier adapters.
func NewSweepService(repo ports.TrackingRepository, adapters []ports.CarrierAdapter) *SweepService {
	return &SweepService{
		repo:     repo,
		adapters: adapters,
		now:      time.Now,
		logger:   logger.Get(),
	}
}

// Run syncs new labels into tracking and sweeps every open shipment. Carrier
// failures are isolated per batch; one bad carrier cannot stop the sweep.
func (s *SweepService) Run(ctx context.Context) (*SweepSummary, error) {
	created, err := s.repo.SyncFromLabels(ctx)
	if err != nil {
		s.logger.Warn("Failed to sync labels into tracking", zap.Error(err))
	} else if created > 0 {
		s.logger.Info("Created tracking rows for new labels", zap.Int("created", created))
	}

	shipments, err := s.repo.ListSweepable(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Total: len(shipments)}
	perAdapter := make(map[string][]*domain.ShipmentTracking)

	for _, shipment := range shipments {
		adapter := s.adapterFor(shipment)
		if adapter == nil {
			summary.Skipped++
			s.logger.Warn("No carrier adapter for shipment",
				zap.String("tracking_number", shipment.TrackingNumber),
			)
			continue
		}

		if shipment.CarrierTag == "" {
			shipment.CarrierTag = adapter.Tag()
		}

		if shipment.Age(s.now()) > adapter.MaxTrackingAge() {
			shipment.State = domain.LifecycleExpired
			s.stampStopped(shipment)
			s.touch(ctx, shipment, summary)
			continue
		}

		perAdapter[adapter.Tag()] = append(perAdapter[adapter.Tag()], shipment)
	}

	for _, adapter := range s.adapters {
		batchAll := perAdapter[adapter.Tag()]
		for start := 0; start < len(batchAll); start += adapter.BatchSize() {
			end := start + adapter.BatchSize()
			if end > len(batchAll) {
				end = len(batchAll)
			}
			s.sweepBatch(ctx, adapter, batchAll[start:end], summary)
		}
	}

	s.logger.Info("Tracking sweep finished",
		zap.Int("total", summary.Total),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("no_data", summary.NoData),
		zap.Int("api_calls", summary.APICalls),
	)
	return summary, nil
}

// sweepBatch fetches one batch from the carrier and applies the results.
func (s *SweepService) sweepBatch(ctx context.Context, adapter ports.CarrierAdapter, batch []*domain.ShipmentTracking, summary *SweepSummary) {
	numbers := make([]string, len(batch))
	for i, shipment := range batch {
		numbers[i] = shipment.TrackingNumber
	}

	summary.APICalls++
	results, err := adapter.Fetch(ctx, numbers)
	if err != nil {
		summary.Failed += len(batch)
		s.logger.Error("Carrier fetch failed",
			zap.String("carrier", adapter.Tag()),
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return
	}

	for _, shipment := range batch {
		payload, ok := results[shipment.TrackingNumber]
		if !ok || payload == nil {
			shipment.FailureCount++
			shipment.State = domain.LifecycleNoData
			if s.persist(ctx, shipment) {
				summary.NoData++
			} else {
				summary.Failed++
			}
			continue
		}
		s.apply(ctx, adapter, shipment, payload, summary)
	}
}

// apply writes one carrier payload onto a shipment.
func (s *SweepService) apply(ctx context.Context, adapter ports.CarrierAdapter, shipment *domain.ShipmentTracking, payload *ports.StatusPayload, summary *SweepSummary) {
	shipment.FailureCount = 0
	shipment.LastStatus = payload.Status

	if len(payload.Events) > 0 {
		latest := payload.Events[0].Timestamp
		for _, ev := range payload.Events[1:] {
			if ev.Timestamp.After(latest) {
				latest = ev.Timestamp
			}
		}
		shipment.LastEventAt = &latest

		switch adapter.EventStrategy() {
		case ports.EventsReplace:
			if err := s.repo.ReplaceEvents(ctx, shipment.ID, payload.Events); err != nil {
				s.logger.Error("Failed to store events", zap.String("tracking_number", shipment.TrackingNumber), zap.Error(err))
			}
		case ports.EventsMerge:
			if _, err := s.repo.MergeEvents(ctx, shipment.ID, payload.Events); err != nil {
				s.logger.Error("Failed to merge events", zap.String("tracking_number", shipment.TrackingNumber), zap.Error(err))
			}
		}
	}

	switch {
	case payload.Delivered:
		shipment.State = domain.LifecycleDelivered
		if payload.DeliveredAt != nil {
			shipment.DeliveredAt = payload.DeliveredAt
		} else if shipment.DeliveredAt == nil {
			now := s.now()
			shipment.DeliveredAt = &now
		}
		s.stampStopped(shipment)
		s.fetchProof(ctx, adapter, shipment, payload, summary)
	case payload.Exception:
		shipment.State = domain.LifecycleException
	default:
		shipment.State = domain.LifecycleActive
	}

	s.touch(ctx, shipment, summary)
}

// fetchProof retrieves the proof of delivery once per shipment. A failed
// attempt is flagged on the shipment and never repeated.
func (s *SweepService) fetchProof(ctx context.Context, adapter ports.CarrierAdapter, shipment *domain.ShipmentTracking, payload *ports.StatusPayload, summary *SweepSummary) {
	if !payload.ProofAvailable || shipment.Proof != nil || shipment.ProofFailed {
		return
	}

	summary.APICalls++
	proof, err := adapter.FetchProof(ctx, shipment.TrackingNumber)
	if err != nil {
		shipment.ProofFailed = true
		s.logger.Warn("Failed to fetch proof of delivery",
			zap.String("tracking_number", shipment.TrackingNumber),
			zap.Error(err),
		)
		return
	}

	proof.ShipmentTrackingID = shipment.ID
	if err := s.repo.SaveProof(ctx, proof); err != nil {
		shipment.ProofFailed = true
		s.logger.Error("Failed to store proof of delivery",
			zap.String("tracking_number", shipment.TrackingNumber),
			zap.Error(err),
		)
		return
	}
	shipment.Proof = proof
}

// stampStopped records the end of tracking, exactly once per shipment.
func (s *SweepService) stampStopped(shipment *domain.ShipmentTracking) {
	if shipment.StoppedAt != nil {
		return
	}
	now := s.now()
	shipment.StoppedAt = &now
}

// touch persists the shipment and counts it as updated.
func (s *SweepService) touch(ctx context.Context, shipment *domain.ShipmentTracking, summary *SweepSummary) {
	if s.persist(ctx, shipment) {
		summary.Updated++
	} else {
		summary.Failed++
	}
}

// persist stamps the check time and saves the shipment.
func (s *SweepService) persist(ctx context.Context, shipment *domain.ShipmentTracking) bool {
	now := s.now()
	shipment.LastCheckedAt = &now
	if err := s.repo.Save(ctx, shipment); err != nil {
		s.logger.Error("Failed to save shipment", zap.String("tracking_number", shipment.TrackingNumber), zap.Error(err))
		return false
	}
	return true
}

// adapterFor resolves the responsible adapter by stored tag, then by pattern.
func (s *SweepService) adapterFor(shipment *domain.ShipmentTracking) ports.CarrierAdapter {
	for _, adapter := range s.adapters {
		if shipment.CarrierTag != "" && adapter.Tag() == shipment.CarrierTag {
			return adapter
		}
	}
	if shipment.CarrierTag != "" {
		return nil
	}
	for _, adapter := range s.adapters {
		if adapter.Matches(shipment.TrackingNumber) {
			return adapter
		}
	}
	return nil
}
