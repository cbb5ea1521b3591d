package reconcile

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "webhook:seen:"

// RedisDeduper records provider event ids with SETNX and a TTL.
type RedisDeduper struct {
	cache *redis.Client
	ttl   time.Duration
}

func NewRedisDeduper(cache *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisDeduper{cache: cache, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	return d.cache.SetNX(ctx, dedupPrefix+provider+":"+eventID, time.Now().UTC().Unix(), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, provider, eventID string) {
	d.cache.Del(ctx, dedupPrefix+provider+":"+eventID)
}
