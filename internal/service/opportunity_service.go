// Package service holds the application services between the scan pipeline
// and the stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

// DefaultRecentLimit caps ListRecent when the caller passes no limit.
const DefaultRecentLimit = 50

// MaxRecentLimit is the largest page ListRecent serves.
const MaxRecentLimit = 500

// OpportunityService is the persistence gate: it stores each distinct
// opportunity exactly once and reports which candidates were new.
type OpportunityService struct {
	store   domain.OpportunityStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewOpportunityService creates an OpportunityService over store. m may be
// nil.
func NewOpportunityService(store domain.OpportunityStore, m *metrics.Metrics, logger *slog.Logger) *OpportunityService {
	return &OpportunityService{
		store:   store,
		metrics: m,
		logger:  logger.With(slog.String("component", "opportunity_service")),
	}
}

// CommitNew persists the candidates that are not stored yet and returns
// them in submission order. A candidate whose insert loses a race to a
// concurrent writer counts as a duplicate. A storage failure drops only the
// failing candidate; the others are still processed.
func (s *OpportunityService) CommitNew(ctx context.Context, opps []domain.Opportunity) []domain.Opportunity {
	if len(opps) == 0 {
		return nil
	}

	var inserted []domain.Opportunity
	for _, opp := range opps {
		rec := opp.Record()
		isNew, err := s.commit(ctx, rec)
		if err != nil {
			s.metrics.IncStorageError()
			s.logger.ErrorContext(ctx, "opportunity_service: candidate dropped",
				slog.String("pair", opp.Pair),
				slog.String("direction", opp.Direction()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !isNew {
			s.metrics.IncDuplicate()
			s.logger.DebugContext(ctx, "opportunity_service: duplicate skipped",
				slog.String("pair", opp.Pair),
				slog.String("direction", opp.Direction()),
				slog.Float64("percent_diff", rec.PercentDiff),
			)
			continue
		}
		inserted = append(inserted, opp)
	}

	s.metrics.AddPersisted(len(inserted))
	s.logger.InfoContext(ctx, "opportunity_service: batch committed",
		slog.Int("candidates", len(opps)),
		slog.Int("inserted", len(inserted)),
	)
	return inserted
}

func (s *OpportunityService) commit(ctx context.Context, rec domain.OpportunityRecord) (bool, error) {
	exists, err := s.store.Exists(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("opportunity_service: exists: %w", err)
	}
	if exists {
		return false, nil
	}
	if _, err := s.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("opportunity_service: insert: %w", err)
	}
	return true, nil
}

// ListRecent returns up to limit stored opportunities, newest first. A
// non-positive limit uses DefaultRecentLimit.
func (s *OpportunityService) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	recs, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("opportunity_service: list recent: %w", err)
	}
	return recs, nil
}

// Count returns the number of stored opportunities.
func (s *OpportunityService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("opportunity_service: count: %w", err)
	}
	return n, nil
}
