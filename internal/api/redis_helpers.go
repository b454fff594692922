package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// incrWithTTL counts a hit in a fixed window that starts with the first hit.
func incrWithTTL(ctx context.Context, client redisRateCounter, key string, window time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, window).Err()
	}
	return count, nil
}

// allowRate reports whether another hit fits under limit per window. Counter
// failures let the request through since limiting is best effort.
func allowRate(ctx context.Context, client redisRateCounter, key string, limit int, window time.Duration) bool {
	if client == nil || limit <= 0 {
		return true
	}
	count, err := incrWithTTL(ctx, client, key, window)
	if err != nil {
		return true
	}
	return count <= int64(limit)
}
