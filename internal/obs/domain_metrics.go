package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const domainNamespace = "supplementhub"

var (
	domainOnce sync.Once

	// CheckoutTotal counts checkout attempts by payment method and outcome.
	CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "checkout_total",
		Help:      "Count of checkout attempts by payment method and result.",
	}, []string{"method", "result"})
	// GatewaySessionTotal counts payment session creation calls.
	GatewaySessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "gateway_session_total",
		Help:      "Count of payment gateway session creations by outcome.",
	}, []string{"provider", "result"})
	// PaymentCallbackTotal counts inbound gateway callbacks by outcome.
	PaymentCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "payment_callback_total",
		Help:      "Count of processed payment callbacks by outcome.",
	}, []string{"provider", "result"})
	// OrderFinalizeTotal counts finalizer transitions.
	OrderFinalizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "order_finalize_total",
		Help:      "Count of pending order settlements by resulting state.",
	}, []string{"state"})
	// ReconcileSweepTotal counts pending orders handled by the sweep.
	ReconcileSweepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "reconcile_sweep_total",
		Help:      "Count of stale pending orders processed by outcome.",
	}, []string{"outcome"})
	// ScoopPointsTotal sums scoop points moved by direction.
	ScoopPointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "scoop_points_total",
		Help:      "Scoop points debited, credited or rejected.",
	}, []string{"direction"})
	// GatewayLatency records outbound gateway call latency in milliseconds.
	GatewayLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: domainNamespace,
		Name:      "gateway_call_duration_ms",
		Help:      "Latency of payment gateway calls in milliseconds.",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"provider", "operation"})
)

// MustRegisterDomainMetrics registers the domain collectors. Collectors that
// are already registered are reused.
func MustRegisterDomainMetrics(reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, vec := range []**prometheus.CounterVec{
			&CheckoutTotal, &GatewaySessionTotal, &PaymentCallbackTotal,
			&OrderFinalizeTotal, &ReconcileSweepTotal, &ScoopPointsTotal,
		} {
			target := vec
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
		for _, vec := range []**prometheus.HistogramVec{&GatewayLatency, &DBQueryDuration} {
			target := vec
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.HistogramVec); ok {
					*target = v
				}
			})
		}
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
