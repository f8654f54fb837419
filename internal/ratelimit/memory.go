package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Memory is an in-process fixed window limiter for single-instance
// deployments and local development.
type Memory struct {
	Prefix string

	once  sync.Once
	store limiter.Store
	mu    sync.Mutex
	byCfg map[string]*limiter.Limiter
}

// NewMemory builds a Memory limiter.
func NewMemory(prefix string) *Memory {
	return &Memory{Prefix: prefix}
}

func (m *Memory) instance(window time.Duration, max int) *limiter.Limiter {
	m.once.Do(func() {
		m.store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          m.Prefix,
			CleanUpInterval: time.Minute,
		})
		m.byCfg = map[string]*limiter.Limiter{}
	})
	cfgKey := fmt.Sprintf("%d/%s", max, window)
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.byCfg[cfgKey]
	if !ok {
		inst = limiter.New(m.store, limiter.Rate{Period: window, Limit: int64(max)})
		m.byCfg[cfgKey] = inst
	}
	return inst
}

// Allow counts one event for key.
func (m *Memory) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lctx, err := m.instance(window, max).Get(ctx, fmt.Sprintf("%d/%s/%s", max, window, key))
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}
