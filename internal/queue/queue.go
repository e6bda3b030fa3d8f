// Package queue is a small Redis-backed job queue. Ready tasks live in a
// sorted set scored by due time, in-flight tasks in a processing set scored by
// visibility deadline, and exhausted tasks in a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/resilience"
)

// Task represents a job to be processed asynchronously. Attempt is set by the
// worker and starts at 1.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

// Enqueuer publishes tasks.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
	// MaxAttempts applies to tasks that do not set their own.
	MaxAttempts int
}

// Enqueue inserts the task. A task with an idempotency key is enqueued at
// most once per key until it is acked or dead-lettered, or DedupTTL passes.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}

	k := keys{prefix: e.Prefix, kind: kind}
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, k.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	QueueDepth.WithLabelValues(kind).Inc()
	return nil
}

// DeadLetters returns up to limit exhausted tasks of kind, newest first.
func (e Enqueuer) DeadLetters(ctx context.Context, kind string, limit int64) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := e.R.LRange(ctx, keys{prefix: e.Prefix, kind: kind}.dlq(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(raws))
	for _, raw := range raws {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		out = append(out, msg.task())
	}
	return out, nil
}

// Worker consumes tasks of one kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline cancels the handler context this long after start. Zero
	// leaves only the visibility timeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	Logger       *zerolog.Logger
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// handlers. Tasks whose visibility deadline passes are redelivered.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	k := keys{prefix: w.Prefix, kind: kind}
	log := w.logger().With().Str("queue_kind", kind).Logger()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeue := time.NewTicker(visibility / 2)
	defer requeue.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeue.C:
			if err := w.requeueExpired(ctx, k); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("requeue expired tasks")
			}
		default:
		}
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		raw, msg, ok, err := w.claim(ctx, k, visibility)
		if err != nil || !ok {
			<-sem
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("claim task")
			}
			if !sleepCtx(ctx, 100*time.Millisecond) {
				return nil
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, k, raw, msg, log)
		}()
	}
}

// claim moves the next due task from the ready set to the processing set.
func (w Worker) claim(ctx context.Context, k keys, visibility time.Duration) (string, taskMessage, bool, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, k.ready(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now), Count: 1}).Result()
	if err != nil || len(due) == 0 {
		return "", taskMessage{}, false, err
	}
	removed, err := w.R.ZRem(ctx, k.ready(), due[0]).Result()
	if err != nil || removed == 0 {
		// another worker won the race
		return "", taskMessage{}, false, err
	}
	QueueDepth.WithLabelValues(k.kind).Dec()
	msg, err := decodeMessage(due[0])
	if err != nil {
		return "", taskMessage{}, false, err
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return "", taskMessage{}, false, err
	}
	raw := string(encoded)
	deadline := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return "", taskMessage{}, false, err
	}
	return raw, msg, true, nil
}

func (w Worker) process(ctx context.Context, k keys, raw string, msg taskMessage, log zerolog.Logger) {
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if w.SoftDeadline > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.SoftDeadline)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	err := w.Handler(jobCtx, msg.task())
	// bookkeeping must survive shutdown of the run context
	bg := context.WithoutCancel(ctx)
	_ = w.R.ZRem(bg, k.processing(), raw).Err()
	if err == nil {
		QueueProcessedTotal.WithLabelValues(k.kind, "ok").Inc()
		if msg.Key != "" {
			_ = w.R.Del(bg, k.dedup(msg.Key)).Err()
		}
		return
	}

	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		msg.LastError = err.Error()
		encoded, _ := json.Marshal(msg)
		_ = w.R.LPush(bg, k.dlq(), encoded).Err()
		if msg.Key != "" {
			_ = w.R.Del(bg, k.dedup(msg.Key)).Err()
		}
		QueueProcessedTotal.WithLabelValues(k.kind, "dead").Inc()
		QueueDLQSize.WithLabelValues(k.kind).Inc()
		log.Error().Err(err).Str("idempotency_key", msg.Key).Int("attempt", msg.Attempt).Msg("task dead-lettered")
		return
	}

	QueueProcessedTotal.WithLabelValues(k.kind, "retry").Inc()
	log.Warn().Err(err).Str("idempotency_key", msg.Key).Int("attempt", msg.Attempt).Msg("task failed; retrying")
	msg.AvailableAt = time.Now().Add(resilience.Backoff(w.retryBase(), msg.Attempt, w.RetryJitter)).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(bg, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err == nil {
		QueueDepth.WithLabelValues(k.kind).Inc()
	}
}

func (w Worker) requeueExpired(ctx context.Context, k keys) error {
	now := time.Now().UnixNano()
	expired, err := w.R.ZRangeByScore(ctx, k.processing(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, k.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = now
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(now), Member: string(encoded)}).Err(); err != nil {
			return err
		}
		QueueDepth.WithLabelValues(k.kind).Inc()
		w.logger().Warn().Str("queue_kind", k.kind).Int("attempt", msg.Attempt).Msg("task visibility expired; requeued")
	}
	return nil
}

func (w Worker) retryBase() time.Duration {
	if w.RetryBase > 0 {
		return w.RetryBase
	}
	return 200 * time.Millisecond
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

type keys struct {
	prefix string
	kind   string
}

func (k keys) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix + ":queue"
}

func (k keys) ready() string           { return k.base() + ":" + k.kind }
func (k keys) processing() string      { return k.base() + ":" + k.kind + ":processing" }
func (k keys) dlq() string             { return k.base() + ":" + k.kind + ":dlq" }
func (k keys) dedup(key string) string { return k.base() + ":dedup:" + k.kind + ":" + key }

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
	LastError   string `json:"last_error,omitempty"`
}

func (m taskMessage) task() Task {
	return Task{Kind: m.Kind, Payload: m.Payload, IdempotencyKey: m.Key, MaxAttempts: m.MaxAttempts, Attempt: m.Attempt}
}
