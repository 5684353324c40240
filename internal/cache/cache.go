// Package cache stores generated responses keyed by a request fingerprint.
// A hit short-circuits the whole pipeline before any budget admission or
// provider call; it never causes a budget increment. Eviction is TTL-only,
// lazy on lookup plus a background sweep for the in-memory backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

// Entry is one cached response plus the usage that producing it cost.
// The usage is what a hit saves, and feeds the savings metrics.
type Entry struct {
	Text      string            `json:"text"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Usage     domain.TokenUsage `json:"usage"`
	CostUSD   float64           `json:"cost_usd"`
	CreatedAt time.Time         `json:"created_at"`
}

type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Keys        int64   `json:"keys"`
	TokensSaved int64   `json:"tokens_saved"`
	CostSaved   float64 `json:"cost_saved"`
}

type Cache interface {
	Lookup(ctx context.Context, tenantID, fingerprint string) (*Entry, bool)
	Store(ctx context.Context, tenantID, fingerprint string, entry *Entry, ttl time.Duration) error
	InvalidateKey(ctx context.Context, tenantID, fingerprint string) error
	InvalidateTenant(ctx context.Context, tenantID string) error
	Stats(ctx context.Context) (Stats, error)
}

// Fingerprint derives the deterministic cache key from the fields that affect
// model output: tenant, target model, ordered messages, and generation
// parameters. Request ids, trace ids and other metadata stay out of the hash.
func Fingerprint(tenantID string, ref domain.ModelRef, messages []domain.Message, params domain.GenerationParams) string {
	data, _ := json.Marshal(struct {
		TenantID string                  `json:"tenant_id"`
		Provider string                  `json:"provider"`
		Model    string                  `json:"model"`
		Messages []domain.Message        `json:"messages"`
		Params   domain.GenerationParams `json:"params"`
	}{
		TenantID: tenantID,
		Provider: ref.Provider,
		Model:    ref.Model,
		Messages: messages,
		Params:   params,
	})

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// counters is shared bookkeeping for both backends. Distinct-key counts come
// from the backend itself.
type counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	tokensSaved atomic.Int64
	costSavedMu sync.Mutex
	costSaved   float64
}

func (c *counters) recordHit(entry *Entry) {
	c.hits.Add(1)
	c.tokensSaved.Add(int64(entry.Usage.Total()))
	c.costSavedMu.Lock()
	c.costSaved += entry.CostUSD
	c.costSavedMu.Unlock()
}

func (c *counters) recordMiss() {
	c.misses.Add(1)
}

func (c *counters) snapshot() Stats {
	c.costSavedMu.Lock()
	costSaved := c.costSaved
	c.costSavedMu.Unlock()

	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		TokensSaved: c.tokensSaved.Load(),
		CostSaved:   costSaved,
	}
}

type memoryItem struct {
	entry     *Entry
	expiresAt time.Time
}

type InMemoryCache struct {
	mu      sync.RWMutex
	tenants map[string]map[string]memoryItem
	stats   counters
	done    chan struct{}
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		tenants: make(map[string]map[string]memoryItem),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *InMemoryCache) Lookup(ctx context.Context, tenantID, fingerprint string) (*Entry, bool) {
	c.mu.RLock()
	item, ok := c.tenants[tenantID][fingerprint]
	c.mu.RUnlock()

	if !ok {
		c.stats.recordMiss()
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.tenants[tenantID], fingerprint)
		c.mu.Unlock()
		c.stats.recordMiss()
		return nil, false
	}

	c.stats.recordHit(item.entry)
	return item.entry, true
}

func (c *InMemoryCache) Store(ctx context.Context, tenantID, fingerprint string, entry *Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tenants[tenantID] == nil {
		c.tenants[tenantID] = make(map[string]memoryItem)
	}
	c.tenants[tenantID][fingerprint] = memoryItem{
		entry:     entry,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *InMemoryCache) InvalidateKey(ctx context.Context, tenantID, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants[tenantID], fingerprint)
	return nil
}

func (c *InMemoryCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants, tenantID)
	return nil
}

func (c *InMemoryCache) Stats(ctx context.Context) (Stats, error) {
	stats := c.stats.snapshot()

	c.mu.RLock()
	for _, items := range c.tenants {
		stats.Keys += int64(len(items))
	}
	c.mu.RUnlock()

	return stats, nil
}

func (c *InMemoryCache) Close() {
	close(c.done)
}

func (c *InMemoryCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for tenantID, items := range c.tenants {
				for fingerprint, item := range items {
					if now.After(item.expiresAt) {
						delete(items, fingerprint)
					}
				}
				if len(items) == 0 {
					delete(c.tenants, tenantID)
				}
			}
			c.mu.Unlock()
		}
	}
}
