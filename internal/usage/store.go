// Package usage persists one append-only record per completed attempt and
// answers the dashboard's aggregation queries over them.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

type Store interface {
	Append(ctx context.Context, record domain.UsageRecord) error
	Summary(ctx context.Context, tenantID string, since time.Time) (*domain.UsageSummary, error)
	CacheActivity(ctx context.Context, tenantID string, since time.Time) ([]domain.CacheActivity, error)
}

// InMemoryStore backs tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []domain.UsageRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, record domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) Summary(ctx context.Context, tenantID string, since time.Time) (*domain.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &domain.UsageSummary{TenantID: tenantID}
	var latencyTotal int64

	for _, r := range s.records {
		if r.TenantID != tenantID || r.Timestamp.Before(since) {
			continue
		}
		summary.Requests++
		latencyTotal += r.LatencyMs
		if r.Cached {
			summary.CacheHits++
		}
		if !r.Success {
			summary.Errors++
		}
		summary.InputTokens += int64(r.InputTokens)
		summary.OutputTokens += int64(r.OutputTokens)
		summary.CostUSD += r.CostUSD
	}

	if summary.Requests > 0 {
		summary.CacheHitRate = float64(summary.CacheHits) / float64(summary.Requests)
		summary.ErrorRate = float64(summary.Errors) / float64(summary.Requests)
		summary.AvgLatencyMs = float64(latencyTotal) / float64(summary.Requests)
	}

	return summary, nil
}

func (s *InMemoryStore) CacheActivity(ctx context.Context, tenantID string, since time.Time) ([]domain.CacheActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byModel := make(map[domain.ModelRef]*domain.CacheActivity)
	for _, r := range s.records {
		if r.TenantID != tenantID || r.Timestamp.Before(since) || !r.Cached {
			continue
		}
		key := domain.ModelRef{Provider: r.Provider, Model: r.Model}
		activity, ok := byModel[key]
		if !ok {
			activity = &domain.CacheActivity{Provider: r.Provider, Model: r.Model}
			byModel[key] = activity
		}
		activity.Hits++
		activity.TokensSaved += int64(r.InputTokens + r.OutputTokens)
		activity.CostSaved += r.SavedCostUSD
	}

	result := make([]domain.CacheActivity, 0, len(byModel))
	for _, activity := range byModel {
		result = append(result, *activity)
	}
	return result, nil
}

// Records returns a copy of everything stored, for tests.
func (s *InMemoryStore) Records() []domain.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UsageRecord, len(s.records))
	copy(result, s.records)
	return result
}
