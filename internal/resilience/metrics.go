package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker telemetry, labelled by gateway name.
var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supplementhub",
			Name:      "gateway_breaker_state",
			Help:      "Current gateway breaker state: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supplementhub",
			Name:      "gateway_breaker_transition_total",
			Help:      "Count of gateway breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supplementhub",
			Name:      "gateway_breaker_open_total",
			Help:      "Number of times a gateway breaker opened",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
