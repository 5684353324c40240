package budget

import (
	"context"
	"sync"

	"github.com/replydesk/aigateway/internal/domain"
)

// InMemoryPolicyStore backs tests and local development.
type InMemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*domain.BudgetPolicy
}

func NewInMemoryPolicyStore() *InMemoryPolicyStore {
	return &InMemoryPolicyStore{policies: make(map[string]*domain.BudgetPolicy)}
}

func (s *InMemoryPolicyStore) GetPolicy(ctx context.Context, tenantID string) (*domain.BudgetPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[tenantID]
	if !ok {
		return nil, nil
	}
	clone := *policy
	return &clone, nil
}

func (s *InMemoryPolicyStore) SetPolicy(ctx context.Context, policy *domain.BudgetPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *policy
	s.policies[policy.TenantID] = &clone
	return nil
}
