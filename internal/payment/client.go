package payment

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/resilience"
)

// ClientOptions tunes the outbound client of one gateway.
type ClientOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Breaker     *resilience.Breaker
}

// NewHTTPClient returns a traced, retrying, circuit-broken client for the
// named gateway. POSTs are retried only when they carry an idempotency key.
func NewHTTPClient(gateway string, opts ClientOptions) resilience.HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(5, 0.5, 30*time.Second)
	}
	return resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout + time.Second,
		},
		Breaker:            breaker.WithTarget(gateway),
		Target:             gateway,
		BaseBackoff:        opts.BaseBackoff,
		MaxAttempts:        opts.MaxAttempts,
		Jitter:             0.2,
		Timeout:            timeout,
		IdempotencyHeaders: []string{"x-idempotency-key"},
		Observe: func(target string, d time.Duration, _ error) {
			obs.GatewayLatency.WithLabelValues(target, "http_attempt").Observe(obs.DurationMillis(d))
		},
	}
}
