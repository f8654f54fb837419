package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock stays held past WaitFor.
var ErrNotAcquired = errors.New("lock: held by another owner")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker provides a Redis-backed distributed lock.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// WaitFor bounds how long WithLock waits for a held lock. Zero waits until
	// ctx is done.
	WaitFor time.Duration
}

// WithLock executes fn while holding a lock for key. The lock is released
// even if fn fails; it expires after ttl if the process dies.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	var deadline <-chan time.Time
	if l.WaitFor > 0 {
		t := time.NewTimer(l.WaitFor)
		defer t.Stop()
		deadline = t.C
	}

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer l.release(context.WithoutCancel(ctx), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-deadline:
			timer.Stop()
			return ErrNotAcquired
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
