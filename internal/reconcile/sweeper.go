// Package reconcile settles pending orders whose payment callback never
// arrived. A periodic asynq task asks each gateway for the attempt's status
// and finalizes or fails it, so no staged order stays pending forever.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/lock"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/payment"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pending"
)

// TaskSweep is the asynq task type that triggers one sweep.
const TaskSweep = "reconcile:pending-orders"

// Failure reasons recorded on the transaction.
const (
	ReasonGatewayFailed = "gateway_failed"
	ReasonExpired       = "expired"
)

// Outcome of reconciling one pending order.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeExpired     Outcome = "expired"
	OutcomeDeferred    Outcome = "deferred"
	OutcomeLateSuccess Outcome = "late_success"
	OutcomeError       Outcome = "error"
)

// Report summarizes one sweep.
type Report struct {
	Scanned  int
	Outcomes map[Outcome]int
	Skipped  bool
}

// Sweeper reconciles stale pending orders.
type Sweeper struct {
	Q        db.Querier
	Gateways payment.Registry
	Settler  payment.Settler
	Locker   lock.Locker

	// MaxAge is how long an attempt may stay unresolved before it expires.
	MaxAge        time.Duration
	BatchSize     int
	StatusTimeout time.Duration
	LockTTL       time.Duration

	Logger *zerolog.Logger
	Now    func() time.Time
}

// NewTask builds the sweep task for enqueueing or scheduling.
func NewTask() *asynq.Task {
	return asynq.NewTask(TaskSweep, nil, asynq.MaxRetry(0))
}

// Schedule registers the sweep with an asynq scheduler.
func Schedule(s *asynq.Scheduler, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	return s.Register(fmt.Sprintf("@every %s", interval), NewTask(), asynq.Timeout(interval), asynq.Unique(interval))
}

// Register mounts the sweep handler on mux.
func (s *Sweeper) Register(mux *asynq.ServeMux) {
	mux.Handle(TaskSweep, s)
}

// ProcessTask implements asynq.Handler.
func (s *Sweeper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep processes one batch of stale pending orders. Only one replica sweeps
// at a time; a concurrent call returns a skipped report.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	report := Report{Outcomes: map[Outcome]int{}}
	err := s.Locker.TryLock(ctx, s.Locker.Key(TaskSweep), s.lockTTL(), func(ctx context.Context) error {
		stale, err := pending.Store{Q: s.Q, Now: s.Now}.ListStale(ctx, s.batchSize())
		if err != nil {
			return err
		}
		report.Scanned = len(stale)
		for _, p := range stale {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome := s.reconcile(ctx, p)
			report.Outcomes[outcome]++
			obs.ReconcileSweepTotal.WithLabelValues(string(outcome)).Inc()
		}
		return nil
	})
	if errors.Is(err, lock.ErrBusy) {
		report.Skipped = true
		return report, nil
	}
	if err != nil {
		return report, err
	}
	if report.Scanned > 0 {
		s.logger().Info().Int("scanned", report.Scanned).Interface("outcomes", report.Outcomes).Msg("reconcile sweep finished")
	}
	return report, nil
}

func (s *Sweeper) reconcile(ctx context.Context, p db.PendingOrder) Outcome {
	log := s.logger().With().
		Str("temp_order_id", p.TempOrderID).
		Str("transaction_id", p.TransactionID).
		Str("provider", p.PaymentMethod).
		Logger()

	gateway, ok := s.Gateways.Get(p.PaymentMethod)
	if !ok || gateway.Name() == db.MethodCOD {
		return s.fail(ctx, log, p, ReasonExpired, OutcomeExpired)
	}

	var gatewayRef string
	if txn, err := s.Q.GetPaymentTransaction(ctx, p.TransactionID); err == nil && txn.GatewayRef != nil {
		gatewayRef = *txn.GatewayRef
	}

	statusCtx, cancel := context.WithTimeout(ctx, s.statusTimeout())
	status, err := gateway.FetchStatus(statusCtx, p.TransactionID, gatewayRef)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("gateway status lookup failed")
		status = payment.StatusPending
	}

	switch status {
	case payment.StatusSuccess:
		if _, err := s.Settler.Complete(ctx, p.TransactionID, nil); err != nil {
			if errors.Is(err, order.ErrLateSuccess) {
				return OutcomeLateSuccess
			}
			log.Error().Err(err).Msg("complete stale order")
			return OutcomeError
		}
		return OutcomeCompleted
	case payment.StatusFailed:
		return s.fail(ctx, log, p, ReasonGatewayFailed, OutcomeFailed)
	}

	if s.age(p) < s.maxAge() {
		return OutcomeDeferred
	}
	return s.fail(ctx, log, p, ReasonExpired, OutcomeExpired)
}

func (s *Sweeper) fail(ctx context.Context, log zerolog.Logger, p db.PendingOrder, reason string, outcome Outcome) Outcome {
	if err := s.Settler.Fail(ctx, p.TransactionID, reason, nil); err != nil {
		if errors.Is(err, order.ErrAlreadyPaid) {
			return OutcomeCompleted
		}
		log.Error().Err(err).Str("reason", reason).Msg("fail stale order")
		return OutcomeError
	}
	return outcome
}

func (s *Sweeper) age(p db.PendingOrder) time.Duration {
	return s.now().Sub(p.CreatedAt)
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sweeper) maxAge() time.Duration {
	if s.MaxAge > 0 {
		return s.MaxAge
	}
	return time.Hour
}

func (s *Sweeper) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 50
}

func (s *Sweeper) statusTimeout() time.Duration {
	if s.StatusTimeout > 0 {
		return s.StatusTimeout
	}
	return 10 * time.Second
}

func (s *Sweeper) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 5 * time.Minute
}

func (s *Sweeper) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
