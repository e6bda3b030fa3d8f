package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// Querier captures the database methods required by the coupon service.
type Querier interface {
	GetCouponByCode(ctx context.Context, code string) (db.Coupon, error)
}

// Service resolves coupon codes for checkout.
type Service struct {
	Q      Querier
	Index  *Index
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Lookup returns the active, unexpired coupon for code. found is false, with a
// nil error, when nothing usable matches; err is only set on store failures.
// Callers treat an empty code as "no coupon requested" before calling.
func (s *Service) Lookup(ctx context.Context, code string) (db.Coupon, bool, error) {
	if s == nil || s.Q == nil {
		return db.Coupon{}, false, errors.New("coupon service not configured")
	}
	normalized := NormalizeCode(code)
	if normalized == "" {
		return db.Coupon{}, false, nil
	}
	if s.Index != nil && !s.Index.MayContain(normalized) {
		return db.Coupon{}, false, nil
	}
	c, err := s.Q.GetCouponByCode(ctx, normalized)
	if err != nil {
		if db.IsNotFound(err) {
			return db.Coupon{}, false, nil
		}
		return db.Coupon{}, false, errors.Wrap(err, "get coupon")
	}
	if err := Usable(c, s.now()); err != nil {
		if s.Logger != nil {
			s.Logger.Debug().Str("code", normalized).Err(err).Msg("coupon rejected")
		}
		return db.Coupon{}, false, nil
	}
	return c, true, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
