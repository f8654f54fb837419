package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayProtector implements ReplayProtector using Redis SETNX semantics.
type RedisReplayProtector struct {
	Client *redis.Client
	Prefix string
}

func (r RedisReplayProtector) key(k string) string {
	if r.Prefix == "" {
		return "replay:" + k
	}
	return r.Prefix + ":" + k
}

// Acquire claims key for ttl; false means it was already delivered.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, r.key(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops the guard so the delivery may run again.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.key(key)).Err()
}
