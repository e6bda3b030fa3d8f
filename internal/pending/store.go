// Package pending stages checkout attempts between submission and payment
// confirmation. A pending order is a reservation: the finalizer or the
// reconciliation sweep always deletes it.
package pending

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pricing"
)

var (
	// ErrNotFound is returned for unknown temp order ids.
	ErrNotFound = errors.New("pending order not found")
	// ErrDuplicateAttempt means the user already staged this attempt key.
	ErrDuplicateAttempt = errors.New("checkout attempt already staged")
)

// Querier is the store surface used for staging.
type Querier interface {
	CreatePendingOrder(ctx context.Context, arg db.CreatePendingOrderParams) (db.PendingOrder, error)
	GetPendingOrder(ctx context.Context, tempOrderID string) (db.PendingOrder, error)
	GetPendingOrderByAttempt(ctx context.Context, arg db.GetPendingOrderByAttemptParams) (db.PendingOrder, error)
	DeletePendingOrder(ctx context.Context, tempOrderID string) (int64, error)
	ListStalePendingOrders(ctx context.Context, arg db.ListStalePendingOrdersParams) ([]db.PendingOrder, error)
}

// NewOrder describes an attempt to stage.
type NewOrder struct {
	UserID        uuid.UUID
	AttemptKey    string
	Items         []db.CartItem
	Quote         pricing.Breakdown
	CouponCode    string
	Address       db.Address
	PaymentMethod string
}

// Store wraps a querier with id generation and TTL bookkeeping. Bind it to a
// transaction-scoped querier to stage inside a larger unit of work.
type Store struct {
	Q   Querier
	TTL time.Duration
	Now func() time.Time
}

// NewTempOrderID returns an ORD_ prefixed id of 36 characters.
func NewTempOrderID() string { return "ORD_" + randomHex() }

// NewTransactionID returns a TXN_ prefixed id of 36 characters; it is used as
// the merchant reference at every gateway.
func NewTransactionID() string { return "TXN_" + randomHex() }

func randomHex() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		id := uuid.New()
		return hex.EncodeToString(id[:])
	}
	return hex.EncodeToString(b[:])
}

// Create stages the attempt with fresh temp order and transaction ids.
func (s Store) Create(ctx context.Context, o NewOrder) (db.PendingOrder, error) {
	now := s.now()
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	attempt := o.AttemptKey
	if attempt == "" {
		attempt = uuid.NewString()
	}
	var coupon *string
	if o.CouponCode != "" {
		c := o.CouponCode
		coupon = &c
	}
	p, err := s.Q.CreatePendingOrder(ctx, db.CreatePendingOrderParams{
		TempOrderID:       NewTempOrderID(),
		UserID:            o.UserID,
		AttemptKey:        attempt,
		CartItems:         o.Items,
		Subtotal:          o.Quote.Subtotal,
		CouponDiscount:    o.Quote.CouponDiscount,
		ScoopDiscount:     o.Quote.ScoopDiscount,
		GatewayDiscount:   o.Quote.GatewayDiscount,
		Discount:          o.Quote.Discount,
		Amount:            o.Quote.Total,
		CouponCode:        coupon,
		Address:           o.Address,
		PaymentMethod:     o.PaymentMethod,
		TransactionID:     NewTransactionID(),
		ScoopPointsUsed:   o.Quote.PointsUsed,
		ScoopPointsEarned: o.Quote.PointsEarned,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return db.PendingOrder{}, ErrDuplicateAttempt
		}
		return db.PendingOrder{}, err
	}
	return p, nil
}

// GetByTempID loads a staged order.
func (s Store) GetByTempID(ctx context.Context, tempOrderID string) (db.PendingOrder, error) {
	p, err := s.Q.GetPendingOrder(ctx, tempOrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return db.PendingOrder{}, ErrNotFound
		}
		return db.PendingOrder{}, err
	}
	return p, nil
}

// GetByAttempt loads the staged order for a user's attempt key.
func (s Store) GetByAttempt(ctx context.Context, userID uuid.UUID, attemptKey string) (db.PendingOrder, error) {
	p, err := s.Q.GetPendingOrderByAttempt(ctx, db.GetPendingOrderByAttemptParams{UserID: userID, AttemptKey: attemptKey})
	if err != nil {
		if db.IsNotFound(err) {
			return db.PendingOrder{}, ErrNotFound
		}
		return db.PendingOrder{}, err
	}
	return p, nil
}

// Delete removes a staged order. Deleting a missing order reports ErrNotFound.
func (s Store) Delete(ctx context.Context, tempOrderID string) error {
	n, err := s.Q.DeletePendingOrder(ctx, tempOrderID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStale returns up to limit orders whose TTL has passed.
func (s Store) ListStale(ctx context.Context, limit int) ([]db.PendingOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.Q.ListStalePendingOrders(ctx, db.ListStalePendingOrdersParams{Before: s.now(), Limit: int32(limit)})
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
