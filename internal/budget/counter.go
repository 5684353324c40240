package budget

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is an atomic period-scoped accumulator. Add must be a single
// atomic operation at the storage layer: concurrent callers may never lose an
// increment, and the returned total reflects this call's contribution.
type Counter interface {
	Add(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error)
	Get(ctx context.Context, key string) (float64, error)
}

// RedisCounter is the production backend. INCRBYFLOAT gives the atomicity the
// ledger depends on across gateway instances.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(redisURL string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCounter{client: client}, nil
}

func NewRedisCounterWithClient(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Add(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, amount)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (float64, error) {
	val, err := c.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// MemoryCounter backs tests and single-instance deployments.
type MemoryCounter struct {
	mu     sync.Mutex
	totals map[string]float64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{totals: make(map[string]float64)}
}

func (c *MemoryCounter) Add(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totals[key] += amount
	return c.totals[key], nil
}

func (c *MemoryCounter) Get(ctx context.Context, key string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[key], nil
}
