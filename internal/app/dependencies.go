// Package app holds the wiring shared by the api and worker processes.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/config"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/payment"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/resilience"
)

// SlowQuery is the threshold above which statements are logged.
const SlowQuery = 250 * time.Millisecond

// NewPool connects to Postgres with tracing and decimal support.
func NewPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		Tracer: obs.PGXTracer{Logger: logger, SlowQuery: SlowQuery},
	})
}

// NewRedis connects to Redis with OpenTelemetry tracing and metrics hooks.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, err
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Gateways registers cash on delivery plus every online gateway whose
// credentials are configured. Each gateway gets its own circuit breaker.
func Gateways(cfg *config.Config, logger zerolog.Logger) payment.Registry {
	list := []payment.Gateway{payment.COD{}}
	breaker := func(name string) *resilience.Breaker {
		return resilience.NewBreaker(cfg.Gateway.BreakerMinReq, cfg.Gateway.BreakerFailRatio, cfg.Gateway.BreakerOpenFor).
			WithTarget(name).
			WithLogger(logger)
	}
	client := func(name string) resilience.HTTPClient {
		return payment.NewHTTPClient(name, payment.ClientOptions{
			Timeout:     cfg.Gateway.Timeout,
			MaxAttempts: cfg.Gateway.RetryMax,
			BaseBackoff: cfg.Gateway.RetryBase,
			Breaker:     breaker(name),
		})
	}
	if cfg.PhonePe.Enabled() {
		list = append(list, payment.PhonePe{
			HTTP:       client(db.MethodPhonePe),
			BaseURL:    cfg.PhonePe.BaseURL,
			MerchantID: cfg.PhonePe.MerchantID,
			SaltKey:    cfg.PhonePe.SaltKey,
			SaltIndex:  cfg.PhonePe.SaltIndex,
		})
	}
	if cfg.Cashfree.Enabled() {
		list = append(list, payment.Cashfree{
			HTTP:         client(db.MethodCashfree),
			BaseURL:      cfg.Cashfree.BaseURL,
			ClientID:     cfg.Cashfree.ClientID,
			ClientSecret: cfg.Cashfree.ClientSecret,
			APIVersion:   cfg.Cashfree.APIVersion,
			Rate:         cfg.Cashfree.DiscountRate,
		})
	}
	if cfg.Razorpay.Enabled() {
		list = append(list, payment.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret, breaker(db.MethodRazorpay)))
	}
	return payment.NewRegistry(list...)
}

// ChildLogger returns a component-scoped logger pointer for structs that take
// *zerolog.Logger.
func ChildLogger(l zerolog.Logger, component string) *zerolog.Logger {
	child := l.With().Str("component", component).Logger()
	return &child
}
