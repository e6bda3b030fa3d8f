package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	appwire "github.com/aryavtiwari2005/supplement-hub-sub000/internal/app"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/auth"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/cart"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/checkout"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/config"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/coupon"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/health"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/lock"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/loyalty"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/payment"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pricing"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/ratelimit"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/security"
)

const webhookPrefix = "/api/v1/payments/webhooks"

type application struct {
	router      http.Handler
	store       *db.PgStore
	gateways    payment.Registry
	couponIndex *coupon.Index
	closers     []func()
}

func (a *application) close() {
	for _, fn := range a.closers {
		fn()
	}
}

func build(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger) (*application, error) {
	store := db.NewStore(pool)
	validate := validator.New()
	app := &application{store: store}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, auth.TokenValidator{
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew,
	})
	if err != nil {
		return nil, err
	}
	authMW := auth.Middleware{Verifier: verifier, Cookie: cfg.Auth.CookieName, Users: store}

	app.gateways = appwire.Gateways(cfg, logger)

	bus, closeBus := appwire.EventBus(cfg, store, rdb, logger)
	app.closers = append(app.closers, closeBus)

	finalizer := order.Finalizer{Store: store, Events: bus, Logger: appwire.ChildLogger(logger, "finalizer")}

	app.couponIndex = coupon.NewIndex(0.01)
	app.couponIndex.Bus = rdb
	app.couponIndex.Channel = cfg.Queue.Prefix + ":coupon-index"
	coupons := &coupon.Service{Q: store, Index: app.couponIndex, Logger: appwire.ChildLogger(logger, "coupon")}

	earn, err := pricing.ParseEarnRule(cfg.Pricing.EarnRule)
	if err != nil {
		return nil, err
	}

	checkoutSvc := &checkout.Service{
		Store:    store,
		Coupons:  coupons,
		Pricing:  pricing.Calculator{RedeemCap: cfg.Pricing.RedeemCap, Earn: earn},
		Gateways: app.gateways,
		Settler:  finalizer,
		Locker: lock.Locker{
			R:       rdb,
			Prefix:  cfg.Queue.Prefix,
			MaxWait: cfg.Checkout.LockWait,
		},
		Validate:     validate,
		LockTTL:      cfg.Checkout.LockTTL,
		PendingTTL:   cfg.Checkout.PendingTTL,
		APIBaseURL:   cfg.PublicBaseURL,
		StoreBaseURL: cfg.StoreBaseURL,
		Logger:       appwire.ChildLogger(logger, "checkout"),
	}

	checkoutLimit, err := ratelimit.New(rdb, cfg.Queue.Prefix+":rl:checkout", cfg.Checkout.RateLimit)
	if err != nil {
		return nil, err
	}
	webhookLimit, err := ratelimit.New(rdb, cfg.Queue.Prefix+":rl:webhook", cfg.Checkout.WebhookLimit)
	if err != nil {
		return nil, err
	}
	onLimitErr := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }

	h := handlers{
		auth:     authMW,
		idem:     common.Idem{R: rdb, TTL: cfg.Checkout.IdempotencyTTL},
		checkout: &checkout.Handler{Svc: checkoutSvc},
		cart:     &cart.Handler{Svc: &cart.Service{Store: store, Validate: validate}},
		webhook: payment.Webhook{
			Gateways:  app.gateways,
			Txns:      store,
			Settler:   finalizer,
			Replay:    rdb,
			ReplayTTL: cfg.Checkout.ReplayTTL,
		},
		status: payment.StatusHandler{
			Q:              store,
			Gateways:       app.gateways,
			Settler:        finalizer,
			Refresh:        cfg.Checkout.StatusRefresh,
			RefreshTimeout: cfg.Gateway.Timeout,
		},
		orders:       &order.Handler{Q: store},
		loyalty:      &loyalty.Handler{Ledger: loyalty.Ledger{Q: store}},
		coupons:      &coupon.Handler{Q: store, Index: app.couponIndex, Validate: validate},
		couponLookup: coupons,
		checkoutRate: ratelimit.Handler{Limiter: checkoutLimit, Key: ratelimit.ByUser, OnError: onLimitErr},
		webhookRate:  ratelimit.Handler{Limiter: webhookLimit, Key: ratelimit.ByIP, OnError: onLimitErr},
		health: health.Handler{
			Probes: map[string]health.Probe{
				"db":    health.PoolProbe(pool),
				"redis": health.RedisProbe(rdb),
			},
			Gateways: app.gateways.Methods(),
		},
		metrics:     obs.MetricsHandler(prometheus.DefaultGatherer, metricsToken(cfg)),
		httpMetrics: obs.NewHTTPMetrics("supplementhub", nil),
		pprofToken:  cfg.Obs.PprofToken,
		pprof:       cfg.Obs.PprofEnabled,
	}
	app.router = obs.Tracing(h.routes(cfg, logger))
	return app, nil
}

func metricsToken(cfg *config.Config) string {
	if cfg.Obs.MetricsPublic {
		return ""
	}
	return cfg.Obs.PprofToken
}

type handlers struct {
	auth         auth.Middleware
	idem         common.Idem
	checkout     *checkout.Handler
	cart         *cart.Handler
	webhook      payment.Webhook
	status       payment.StatusHandler
	orders       *order.Handler
	loyalty      *loyalty.Handler
	coupons      *coupon.Handler
	couponLookup *coupon.Service
	checkoutRate ratelimit.Handler
	webhookRate  ratelimit.Handler
	health       health.Handler
	metrics      http.Handler
	httpMetrics  *obs.HTTPMetrics
	pprof        bool
	pprofToken   string
}

func (h handlers) routes(cfg *config.Config, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.HTTPObs{Metrics: h.httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTS: cfg.IsProduction()}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit(security.DefaultMaxBody))
	r.Use(security.CSRF{SessionCookie: cfg.Auth.CookieName, Exempt: []string{webhookPrefix}}.Middleware)

	r.Get("/health/live", h.health.Live)
	r.Get("/health/ready", h.health.Ready)
	r.Handle("/metrics", h.metrics)
	if h.pprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), h.pprofToken))
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.With(h.webhookRate.Middleware).Post("/payments/webhooks/{provider}", h.webhook.Handle)

		v.Group(func(authed chi.Router) {
			authed.Use(h.auth.RequireAuth)

			authed.Route("/cart", h.cart.Routes)

			authed.With(h.checkoutRate.Middleware, h.idem.Middleware).Post("/checkout", h.checkout.Checkout)
			authed.With(h.checkoutRate.Middleware).Post("/checkout/quote", h.checkout.Quote)
			authed.Get("/coupons/check", h.coupons.Check(h.couponLookup))

			authed.Get("/payments/{orderId}/status", h.status.Status)
			authed.Get("/orders", h.orders.List)
			authed.Get("/orders/{orderId}", h.orders.Get)
			authed.Get("/users/me/points", h.loyalty.Balance)

			authed.Route("/admin", func(admin chi.Router) {
				admin.Use(h.auth.RequireRole("admin"))
				admin.Get("/coupons", h.coupons.List)
				admin.Post("/coupons", h.coupons.Create)
				admin.Patch("/coupons/{code}", h.coupons.Update)
			})
		})
	})
	return r
}
