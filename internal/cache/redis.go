package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the distributed backend. Keys are prefixed per tenant so a
// config reload can drop everything a tenant has cached in one operation.
// Hit/saving counters are per-instance; cross-instance aggregates come from
// the usage store.
type RedisCache struct {
	client *redis.Client
	stats  counters
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
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

	return &RedisCache{client: client}, nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(tenantID, fingerprint string) string {
	return "cache:" + tenantID + ":" + fingerprint
}

func (c *RedisCache) Lookup(ctx context.Context, tenantID, fingerprint string) (*Entry, bool) {
	data, err := c.client.Get(ctx, cacheKey(tenantID, fingerprint)).Bytes()
	if err != nil {
		c.stats.recordMiss()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.stats.recordMiss()
		return nil, false
	}

	c.stats.recordHit(&entry)
	return &entry, true
}

func (c *RedisCache) Store(ctx context.Context, tenantID, fingerprint string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(tenantID, fingerprint), data, ttl).Err()
}

func (c *RedisCache) InvalidateKey(ctx context.Context, tenantID, fingerprint string) error {
	return c.client.Del(ctx, cacheKey(tenantID, fingerprint)).Err()
}

func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	var cursor uint64
	pattern := "cache:" + tenantID + ":*"

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	stats := c.stats.snapshot()

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "cache:*", 1000).Result()
		if err != nil {
			return stats, err
		}
		stats.Keys += int64(len(keys))
		if next == 0 {
			break
		}
		cursor = next
	}

	return stats, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
