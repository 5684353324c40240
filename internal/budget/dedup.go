package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator suppresses repeat alerts for the same tenant and level.
// With multiple gateway instances the distributed form guarantees a threshold
// crossing is announced once, not once per instance.
type Deduplicator interface {
	ShouldAlert(ctx context.Context, tenantID string, level AlertLevel) bool
	Clear(ctx context.Context, tenantID string)
}

type InMemoryDeduplicator struct {
	mu         sync.Mutex
	lastLevels map[string]AlertLevel
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{lastLevels: make(map[string]AlertLevel)}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, tenantID string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastLevels[tenantID]; ok && last == level {
		return false
	}
	d.lastLevels[tenantID] = level
	return true
}

func (d *InMemoryDeduplicator) Clear(ctx context.Context, tenantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastLevels, tenantID)
}

// RedisDeduplicator uses SETNX: exactly one instance wins the key and sends
// the alert. Keys expire after lockTTL so a persistent condition re-alerts.
type RedisDeduplicator struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisDeduplicator(client *redis.Client, lockTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}
}

func (d *RedisDeduplicator) alertKey(tenantID string, level AlertLevel) string {
	return fmt.Sprintf("budget:alert:%s:%s", tenantID, level)
}

func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, tenantID string, level AlertLevel) bool {
	acquired, err := d.client.SetNX(ctx, d.alertKey(tenantID, level), time.Now().Unix(), d.lockTTL).Result()
	if err != nil {
		// fail open: a duplicate alert beats a silent threshold crossing
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) Clear(ctx context.Context, tenantID string) {
	pattern := fmt.Sprintf("budget:alert:%s:*", tenantID)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	d.client.Del(ctx, keys...)
}
