package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache backs the query-embedding cache with Redis instead of the
// in-process LRU, for deployments that want the cache shared across
// replicas. It satisfies the same get/put shape the in-process cache uses.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisCache(addr string) *redisCache {
	return &redisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    24 * time.Hour,
	}
}

func (c *redisCache) get(ctx context.Context, key string) ([]float32, bool) {
	b, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *redisCache) put(ctx context.Context, key string, value []float32) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(key), b, c.ttl).Err()
}

func cacheKey(query string) string {
	return "embed:query:" + query
}
