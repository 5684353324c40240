// Package tenantcfg serves the currently active routing configuration for a
// tenant. Reads may be cached for a short TTL; invalidation is an explicit
// operation the dashboard calls synchronously whenever a tenant changes
// provider or model settings.
package tenantcfg

import (
	"context"
	"sync"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

type Store interface {
	Get(ctx context.Context, tenantID string) (*domain.TenantConfig, error)
	Invalidate(tenantID string)
}

// CachedStore wraps a Store with a short-lived read cache. Staleness only
// affects freshness of routing, never budget accounting, so a few seconds of
// lag is acceptable between Invalidate calls.
type CachedStore struct {
	inner Store
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	cfg       *domain.TenantConfig
	expiresAt time.Time
}

func NewCached(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

func (s *CachedStore) Get(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	s.mu.RLock()
	entry, ok := s.cache[tenantID]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := s.inner.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[tenantID] = cacheEntry{cfg: cfg, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return cfg, nil
}

func (s *CachedStore) Invalidate(tenantID string) {
	s.mu.Lock()
	delete(s.cache, tenantID)
	s.mu.Unlock()

	s.inner.Invalidate(tenantID)
}

// InMemoryStore backs tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*domain.TenantConfig
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{configs: make(map[string]*domain.TenantConfig)}
}

func (s *InMemoryStore) Get(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	if !cfg.Active {
		return nil, domain.ErrTenantInactive
	}
	return cfg, nil
}

func (s *InMemoryStore) Invalidate(tenantID string) {}

func (s *InMemoryStore) Set(cfg *domain.TenantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.TenantID] = cfg
}
