package resilience_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "backend-test",
		MinRequests:  2,
		FailureRatio: 0.5,
		OpenFor:      time.Second,
		Now:          clock.Now,
	})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	clock.Advance(time.Second)
	require.True(t, breaker.Allow(ctx), "breaker should let a probe through after cool off")
	require.False(t, breaker.Allow(ctx), "only one probe at a time")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "probe-test", OpenFor: time.Second, Now: clock.Now})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())

	clock.Advance(time.Second)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))
	require.Equal(t, time.Minute, resilience.Backoff(base, 40, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-(base*2/5))
	require.LessOrEqual(t, d, base*2+(base*2/5))
}
