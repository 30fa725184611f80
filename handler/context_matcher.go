package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/repository"
)

var DefaultContextClassifications = []entity.Classification{
	entity.ClassificationFailure,
	entity.ClassificationTampering,
	entity.ClassificationAnomaly,
}

// ContextMatcher は同じ種類のリソースで過去に起きたインシデントを集める
type ContextMatcher struct {
	repo            repository.IncidentRepository
	limit           int
	lookback        time.Duration
	classifications []entity.Classification
	now             func() time.Time
}

func NewContextMatcher(repo repository.IncidentRepository, limit int, lookback time.Duration, classifications []entity.Classification, now func() time.Time) *ContextMatcher {
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	if len(classifications) == 0 {
		classifications = DefaultContextClassifications
	}
	if now == nil {
		now = time.Now
	}
	return &ContextMatcher{repo: repo, limit: limit, lookback: lookback, classifications: classifications, now: now}
}

func (m *ContextMatcher) Match(ctx context.Context, resourceType, excludeID string) ([]model.IncidentSummary, error) {
	if m.limit <= 0 {
		return nil, nil
	}
	incidents, err := m.repo.RecentIncidentsByType(ctx, repository.ContextQuery{
		ResourceType:    resourceType,
		Since:           m.now().Add(-m.lookback),
		ExcludeID:       excludeID,
		Classifications: m.classifications,
		Limit:           m.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query context for %s: %w", resourceType, err)
	}

	summaries := make([]model.IncidentSummary, 0, len(incidents))
	for i := range incidents {
		summaries = append(summaries, model.NewIncidentSummary(&incidents[i]))
		if len(summaries) == m.limit {
			break
		}
	}
	return summaries, nil
}
