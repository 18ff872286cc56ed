package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/metrics"
)

// Service scores entities and persists the result.
type Service struct {
	store      Store
	aggregator *Aggregator
}

// NewService creates a trust scoring service.
func NewService(store Store) *Service {
	return &Service{
		store:      store,
		aggregator: NewAggregator(),
	}
}

// WithAggregator overrides the default aggregator.
func (s *Service) WithAggregator(a *Aggregator) *Service {
	s.aggregator = a
	return s
}

// Aggregator exposes the service's aggregator for callers that need to score
// hypothetical factor records without touching stored state.
func (s *Service) Aggregator() *Aggregator {
	return s.aggregator
}

// ScoreEntity computes and persists a fresh trust score for the entity.
// Recomputing with identical inputs yields an identical score and does not
// double-apply: the stored score is replaced, never accumulated.
func (s *Service) ScoreEntity(ctx context.Context, entityID string, fctx FactorContext) (*Assessment, error) {
	entity, err := s.store.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}

	factors := ScoreFactors(entity, fctx)
	assessment := s.aggregator.Aggregate(factors)

	entity.TrustScore = assessment.Score
	entity.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to persist trust score: %w", err)
	}

	metrics.TrustScoresComputed.WithLabelValues(string(assessment.RiskLevel)).Inc()
	return assessment, nil
}

// GetEntity returns an entity by ID.
func (s *Service) GetEntity(ctx context.Context, id string) (*Entity, error) {
	return s.store.Get(ctx, id)
}

// RegisterEntity creates a new entity record.
func (s *Service) RegisterEntity(ctx context.Context, entity *Entity) error {
	now := time.Now()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	if entity.VerificationLevel == "" {
		entity.VerificationLevel = LevelNone
	}
	return s.store.Create(ctx, entity)
}

// RecordTransactionOutcome updates the entity's transaction counters after a
// completed exchange. Dispute outcomes bump the dispute counter.
func (s *Service) RecordTransactionOutcome(ctx context.Context, entityID string, successful, disputed bool) error {
	entity, err := s.store.Get(ctx, entityID)
	if err != nil {
		return err
	}

	entity.CompletedTransactions++
	if successful {
		entity.SuccessfulTransactions++
	}
	if disputed {
		entity.Disputes++
	}
	entity.UpdatedAt = time.Now()

	return s.store.Update(ctx, entity)
}
