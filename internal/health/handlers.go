package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness. Shutdown flips it off so load balancers drain
// the instance before the listener closes.
func SetReady(v bool) { ready.Store(v) }

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// PoolProbe pings Postgres.
func PoolProbe(pool *pgxpool.Pool) Probe {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

// RedisProbe pings Redis.
func RedisProbe(rdb redis.UniversalClient) Probe {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

// Handler serves liveness and readiness endpoints.
type Handler struct {
	Probes   map[string]Probe
	Timeout  time.Duration
	Gateways []string
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readyResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Gateways []string          `json:"gateways,omitempty"`
}

// Ready runs every probe concurrently and answers 503 when any fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ok", Checks: make(map[string]string, len(h.Probes)), Gateways: h.Gateways}
	if !ready.Load() {
		resp.Status = "draining"
		common.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	results := make(map[string]error, len(h.Probes))
	names := make([]string, 0, len(h.Probes))
	for name := range h.Probes {
		names = append(names, name)
	}
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		probe := h.Probes[name]
		g.Go(func() error {
			errs[i] = probe(ctx)
			return nil
		})
	}
	_ = g.Wait()
	for i, name := range names {
		results[name] = errs[i]
	}

	status := http.StatusOK
	for name, err := range results {
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	common.JSON(w, status, resp)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 800 * time.Millisecond
	}
	return h.Timeout
}
