package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/resilience"
)

func TestBreakerMetricsPerGateway(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()
	ctx := context.Background()

	phonepe := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("phonepe")
	cashfree := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("cashfree")
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("cashfree")))

	// phonepe: opens, a failed half-open call re-opens, a successful one closes
	phonepe.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("phonepe")))
	require.Eventually(t, func() bool { return phonepe.Allow(ctx) }, 200*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("phonepe")))
	phonepe.Report(ctx, false)
	require.Eventually(t, func() bool { return phonepe.Allow(ctx) }, 200*time.Millisecond, 5*time.Millisecond)
	phonepe.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("phonepe")))

	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("phonepe")))
	for transition, want := range map[[2]string]float64{
		{"closed", "open"}:      1,
		{"open", "half_open"}:   2,
		{"half_open", "open"}:   1,
		{"half_open", "closed"}: 1,
	} {
		got := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("phonepe", transition[0], transition[1]))
		require.Equal(t, want, got, "%s -> %s", transition[0], transition[1])
	}

	// an unhealthy gateway never trips another one
	require.Equal(t, resilience.Closed, cashfree.State())
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("cashfree")))
}
