package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryLimiterAllow(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	allowed, remaining, _, err := l.Allow(ctx, "tenant1", 3)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("first request denied")
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}

	l.Allow(ctx, "tenant1", 3)
	l.Allow(ctx, "tenant1", 3)

	allowed, remaining, _, err = l.Allow(ctx, "tenant1", 3)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("request over the limit was allowed")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestInMemoryLimiterIsolatesTenants(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	l.Allow(ctx, "tenant1", 1)

	if allowed, _, _, _ := l.Allow(ctx, "tenant1", 1); allowed {
		t.Error("tenant1 should be limited")
	}
	if allowed, _, _, _ := l.Allow(ctx, "tenant2", 1); !allowed {
		t.Error("tenant2 should not be limited")
	}
}

func TestInMemoryLimiterResetTime(t *testing.T) {
	l := NewInMemoryLimiter()

	_, _, resetAt, err := l.Allow(context.Background(), "tenant1", 10)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	diff := resetAt.Sub(time.Now().Add(time.Minute))
	if diff < -time.Second || diff > time.Second {
		t.Errorf("resetAt should be ~1 minute out, diff = %v", diff)
	}
}

func TestInMemoryLimiterConcurrent(t *testing.T) {
	l := NewInMemoryLimiter()
	ctx := context.Background()

	done := make(chan bool)
	limit := 100

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 20; j++ {
				l.Allow(ctx, "tenant1", limit)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if allowed, _, _, _ := l.Allow(ctx, "tenant1", limit); allowed {
		t.Error("should be limited after 200 concurrent requests against limit 100")
	}
}
