package tenantcfg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrTenantNotFound", err)
	}

	s.Set(&domain.TenantConfig{TenantID: "inactive", Active: false})
	if _, err := s.Get(ctx, "inactive"); !errors.Is(err, domain.ErrTenantInactive) {
		t.Errorf("Get(inactive) error = %v, want ErrTenantInactive", err)
	}

	s.Set(&domain.TenantConfig{
		TenantID: "t1",
		Active:   true,
		Primary:  domain.ModelRef{Provider: "openai", Model: "gpt-4o"},
	})
	cfg, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get(t1) error = %v", err)
	}
	if cfg.Primary.Provider != "openai" {
		t.Errorf("Primary.Provider = %q, want openai", cfg.Primary.Provider)
	}
}

// countingStore counts reads through to the inner store.
type countingStore struct {
	mu    sync.Mutex
	inner Store
	gets  int
}

func (s *countingStore) Get(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.inner.Get(ctx, tenantID)
}

func (s *countingStore) Invalidate(tenantID string) {
	s.inner.Invalidate(tenantID)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func TestCachedStoreServesFromCache(t *testing.T) {
	inner := NewInMemoryStore()
	inner.Set(&domain.TenantConfig{TenantID: "t1", Active: true})
	counting := &countingStore{inner: inner}
	cached := NewCached(counting, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := cached.Get(ctx, "t1"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	if counting.count() != 1 {
		t.Errorf("inner gets = %d, want 1", counting.count())
	}
}

func TestCachedStoreExpiry(t *testing.T) {
	inner := NewInMemoryStore()
	inner.Set(&domain.TenantConfig{TenantID: "t1", Active: true})
	counting := &countingStore{inner: inner}
	cached := NewCached(counting, 10*time.Millisecond)
	ctx := context.Background()

	cached.Get(ctx, "t1")
	time.Sleep(20 * time.Millisecond)
	cached.Get(ctx, "t1")

	if counting.count() != 2 {
		t.Errorf("inner gets = %d, want 2 after TTL expiry", counting.count())
	}
}

func TestCachedStoreInvalidate(t *testing.T) {
	inner := NewInMemoryStore()
	inner.Set(&domain.TenantConfig{TenantID: "t1", Active: true})
	counting := &countingStore{inner: inner}
	cached := NewCached(counting, time.Minute)
	ctx := context.Background()

	cached.Get(ctx, "t1")
	cached.Invalidate("t1")
	cached.Get(ctx, "t1")

	if counting.count() != 2 {
		t.Errorf("inner gets = %d, want 2 after Invalidate", counting.count())
	}
}

func TestCachedStoreDoesNotCacheErrors(t *testing.T) {
	inner := NewInMemoryStore()
	counting := &countingStore{inner: inner}
	cached := NewCached(counting, time.Minute)
	ctx := context.Background()

	if _, err := cached.Get(ctx, "missing"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("Get() error = %v, want ErrTenantNotFound", err)
	}

	inner.Set(&domain.TenantConfig{TenantID: "missing", Active: true})
	if _, err := cached.Get(ctx, "missing"); err != nil {
		t.Errorf("Get() after create error = %v, want nil", err)
	}
}
