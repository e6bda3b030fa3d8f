package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CodeLister loads the codes the index is built from.
type CodeLister interface {
	ListActiveCouponCodes(ctx context.Context, now time.Time) ([]string, error)
}

// Index is a bloom filter over active coupon codes that answers "definitely
// not a coupon" without a database round trip. Until the first Rebuild it
// reports every code as possibly present.
//
// With Bus set, codes written by one API replica are published on Channel
// and added by every replica running Sync, so a new coupon is usable
// everywhere without waiting for the periodic reload. Messages missed while
// disconnected are picked up by that reload.
type Index struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	fp     float64

	Bus     redis.UniversalClient
	Channel string
}

// NewIndex returns an empty index with the given false-positive rate.
func NewIndex(falsePositiveRate float64) *Index {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}
	return &Index{fp: falsePositiveRate}
}

// Rebuild replaces the filter with one holding codes.
func (i *Index) Rebuild(codes []string) {
	n := uint(len(codes))
	if n < 1024 {
		n = 1024
	}
	f := bloom.NewWithEstimates(n, i.fp)
	for _, c := range codes {
		f.AddString(NormalizeCode(c))
	}
	i.mu.Lock()
	i.filter = f
	i.mu.Unlock()
}

// Add records a newly created or re-activated code.
func (i *Index) Add(code string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.filter != nil {
		i.filter.AddString(NormalizeCode(code))
	}
}

// MayContain reports whether code might be an active coupon.
func (i *Index) MayContain(code string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.filter == nil {
		return true
	}
	return i.filter.TestString(NormalizeCode(code))
}

// Announce adds code locally and publishes it to the other replicas.
func (i *Index) Announce(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	i.Add(code)
	if i.Bus == nil {
		return nil
	}
	return errors.Wrap(i.Bus.Publish(ctx, i.channel(), code).Err(), "publish coupon code")
}

func (i *Index) channel() string {
	if i.Channel != "" {
		return i.Channel
	}
	return "coupon:index"
}

// Load rebuilds the index from the store.
func (i *Index) Load(ctx context.Context, q CodeLister, now time.Time) (int, error) {
	codes, err := q.ListActiveCouponCodes(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "load coupon codes")
	}
	i.Rebuild(codes)
	return len(codes), nil
}

// Sync loads the index and keeps it current until ctx ends: it reloads every
// interval and, with Bus set, applies codes announced by other replicas. The
// subscription is confirmed before the first load so no announcement falls
// between the two. Load errors keep the previous filter.
func (i *Index) Sync(ctx context.Context, q CodeLister, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	var announced <-chan *redis.Message
	if i.Bus != nil {
		sub := i.Bus.Subscribe(ctx, i.channel())
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			logger.Warn().Err(err).Msg("coupon index subscribe failed; relying on reload")
		} else {
			announced = sub.Channel()
		}
	}
	i.reload(ctx, q, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.reload(ctx, q, logger)
		case msg, ok := <-announced:
			if !ok {
				announced = nil
				continue
			}
			i.Add(msg.Payload)
		}
	}
}

func (i *Index) reload(ctx context.Context, q CodeLister, logger zerolog.Logger) {
	n, err := i.Load(ctx, q, time.Now())
	if err != nil {
		logger.Warn().Err(err).Msg("coupon index reload failed")
		return
	}
	logger.Debug().Int("codes", n).Msg("coupon index reloaded")
}
