package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:  "backend",
		OpenFor: 20 * time.Millisecond,
		Now:     clock.Now,
	})
	ctx := context.Background()

	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("backend")))

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("backend")))

	clock.Advance(20 * time.Millisecond)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("backend")))

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("backend")))

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("backend")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("backend", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("backend", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("backend", "half_open", "closed")))
}
