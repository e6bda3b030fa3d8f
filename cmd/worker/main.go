package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	appwire "github.com/aryavtiwari2005/supplement-hub-sub000/internal/app"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/config"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/health"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/lock"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/notify"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/queue"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.Obs.ServiceName + "-worker",
		Endpoint:      cfg.Obs.OTLPEndpoint,
		SamplingRatio: cfg.Obs.SampleRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()
	obs.MustRegisterDomainMetrics(prometheus.DefaultRegisterer)

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := appwire.NewPool(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	redisClient, err := appwire.NewRedis(startCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	store := db.NewStore(pool)
	bus, closeBus := appwire.EventBus(cfg, store, redisClient, logger)
	defer closeBus()
	gateways := appwire.Gateways(cfg, logger)

	sweeper := &reconcile.Sweeper{
		Q:             store,
		Gateways:      gateways,
		Settler:       order.Finalizer{Store: store, Events: bus, Logger: appwire.ChildLogger(logger, "finalizer")},
		Locker:        lock.Locker{R: redisClient, Prefix: cfg.Queue.Prefix},
		MaxAge:        cfg.Reconcile.MaxAge,
		BatchSize:     cfg.Reconcile.Batch,
		StatusTimeout: cfg.Gateway.Timeout,
		LockTTL:       cfg.Reconcile.Interval,
		Logger:        appwire.ChildLogger(logger, "reconcile"),
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for asynq")
	}
	asynqLogger := appwire.AsynqLogger{L: logger.With().Str("component", "asynq").Logger()}
	taskServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     2,
		Queues:          map[string]int{"default": 1},
		Logger:          asynqLogger,
		ShutdownTimeout: 20 * time.Second,
	})
	mux := asynq.NewServeMux()
	sweeper.Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC, Logger: asynqLogger})
	entryID, err := reconcile.Schedule(scheduler, cfg.Reconcile.Interval)
	if err != nil {
		logger.Fatal().Err(err).Msg("schedule reconcile sweep")
	}
	logger.Info().Str("entry_id", entryID).Dur("interval", cfg.Reconcile.Interval).Msg("reconcile sweep scheduled")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := taskServer.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		taskServer.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Shutdown()
		return nil
	})
	if worker, ok := mailWorker(cfg, redisClient, logger); ok {
		g.Go(func() error {
			logger.Info().Str("kind", worker.Kind).Int("concurrency", worker.Concurrency).Msg("mail worker starting")
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	srv := &http.Server{Addr: cfg.WorkerAddr, Handler: opsRouter(cfg, pool, redisClient), ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info().Str("addr", cfg.WorkerAddr).Msg("worker started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker shutdown complete")
}

// mailWorker builds the order e-mail consumer. It is skipped when SMTP is
// not configured since the api then never enqueues mail.
func mailWorker(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (queue.Worker, bool) {
	if !cfg.SMTP.Enabled() {
		logger.Warn().Msg("smtp not configured; order e-mails disabled")
		return queue.Worker{}, false
	}
	sender, err := notify.NewSMTPSender(notify.SMTPConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		From:       cfg.SMTP.From,
		RequireTLS: cfg.SMTP.RequireTLS,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure smtp")
	}
	mailer := notify.Mailer{
		Sender:       sender,
		StoreName:    "Supplement Hub",
		StoreBaseURL: cfg.StoreBaseURL,
		Sent:         rdb,
		SentTTL:      7 * 24 * time.Hour,
		Logger:       appwire.ChildLogger(logger, "mailer"),
	}
	return queue.Worker{
		R:                 rdb,
		Prefix:            cfg.Queue.Prefix,
		Kind:              notify.TaskOrderEmail,
		Concurrency:       cfg.Queue.Concurrency,
		VisibilityTimeout: cfg.Queue.Visibility,
		SoftDeadline:      30 * time.Second,
		Handler:           mailer.Handle,
		RetryBase:         cfg.Queue.RetryBase,
		RetryJitter:       0.2,
		Logger:            appwire.ChildLogger(logger, "queue"),
	}, true
}

func opsRouter(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client) http.Handler {
	h := health.Handler{Probes: map[string]health.Probe{
		"db":    health.PoolProbe(pool),
		"redis": health.RedisProbe(rdb),
	}}
	r := chi.NewRouter()
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	token := ""
	if !cfg.Obs.MetricsPublic {
		token = cfg.Obs.PprofToken
	}
	r.Handle("/metrics", obs.MetricsHandler(prometheus.DefaultGatherer, token))
	return r
}
