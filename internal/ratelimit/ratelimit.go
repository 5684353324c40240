// Package ratelimit throttles per-tenant request rates ahead of budget
// admission, so a runaway dashboard client is rejected before it can touch
// providers or spend counters.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether a tenant may make another request right now.
// remaining is the quota left in the current window, resetAt when it refills.
type Limiter interface {
	Allow(ctx context.Context, tenantID string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// InMemoryLimiter is a fixed-window counter per tenant. Single instance only.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{windows: make(map[string]*window)}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, tenantID string, limit int) (bool, int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	w, ok := l.windows[tenantID]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[tenantID] = w
	}

	if w.count >= limit {
		return false, 0, w.resetAt, nil
	}

	w.count++
	return true, limit - w.count, w.resetAt, nil
}
