// Package loyalty manages scoop point balances. One scoop point is worth ₹1.
package loyalty

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
)

var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrUnknownUser        = errors.New("user not found")
	ErrNegativeDelta      = errors.New("point deltas must not be negative")
)

// Querier is the store surface the ledger needs. Pass a transaction-bound
// querier to make the balance change part of a larger unit of work.
type Querier interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (db.User, error)
	AdjustScoopPoints(ctx context.Context, arg db.AdjustScoopPointsParams) (int64, error)
}

var pointsCounter metric.Int64Counter

func init() {
	c, err := otel.Meter("supplement-hub/loyalty").Int64Counter(
		"scoop_points",
		metric.WithDescription("Scoop points moved by the ledger"),
	)
	if err == nil {
		pointsCounter = c
	}
}

// Ledger reads and moves scoop points.
type Ledger struct {
	Q Querier
}

// Balance returns the user's current points.
func (l Ledger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	u, err := l.Q.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return 0, ErrUnknownUser
		}
		return 0, err
	}
	return u.ScoopPoints, nil
}

// DebitAndCredit applies both deltas in one conditional update that only
// succeeds while the balance covers debit, so concurrent redemptions cannot
// drive it negative or overwrite each other.
func (l Ledger) DebitAndCredit(ctx context.Context, userID uuid.UUID, debit, credit int64) (int64, error) {
	if debit < 0 || credit < 0 {
		return 0, ErrNegativeDelta
	}
	balance, err := l.Q.AdjustScoopPoints(ctx, db.AdjustScoopPointsParams{ID: userID, Debit: debit, Credit: credit})
	if err != nil {
		if db.IsNotFound(err) {
			obs.ScoopPointsTotal.WithLabelValues("rejected").Add(float64(debit))
			if _, lookupErr := l.Q.GetUserByID(ctx, userID); db.IsNotFound(lookupErr) {
				return 0, ErrUnknownUser
			}
			return 0, ErrInsufficientPoints
		}
		return 0, err
	}
	record(ctx, "debit", debit)
	record(ctx, "credit", credit)
	return balance, nil
}

func record(ctx context.Context, direction string, n int64) {
	if n == 0 {
		return
	}
	obs.ScoopPointsTotal.WithLabelValues(direction).Add(float64(n))
	if pointsCounter != nil {
		pointsCounter.Add(ctx, n, metric.WithAttributes(attribute.String("direction", direction)))
	}
}
