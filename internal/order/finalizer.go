// Package order turns a paid (or cash on delivery) pending order into a
// confirmed order, and cleans up attempts that failed.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/events"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/loyalty"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pending"
)

var (
	// ErrUnknownTransaction is returned when no payment transaction matches.
	ErrUnknownTransaction = errors.New("unknown payment transaction")
	// ErrLateSuccess reports a payment confirmation for an attempt that was
	// already failed and cleaned up. The money needs a manual refund.
	ErrLateSuccess = errors.New("payment succeeded after attempt was failed")
	// ErrAlreadyPaid is returned by Fail for a transaction that settled successfully.
	ErrAlreadyPaid = errors.New("payment transaction already succeeded")
	// ErrPendingMissing means the transaction is pending but its staged order is gone.
	ErrPendingMissing = errors.New("pending order missing for transaction")
)

// State names the lifecycle of a checkout attempt.
type State string

const (
	StateInitiated      State = "INITIATED"
	StatePendingPayment State = "PENDING_PAYMENT"
	StatePaid           State = "PAID"
	StateFinalized      State = "FINALIZED"
	StateFailed         State = "FAILED"
	StateCleanedUp      State = "CLEANED_UP"
)

// StateOf derives the externally visible state of an attempt.
func StateOf(txn db.PaymentTransaction) State {
	switch txn.Status {
	case db.TxnStatusSuccess:
		return StateFinalized
	case db.TxnStatusFailed:
		return StateCleanedUp
	default:
		return StatePendingPayment
	}
}

// Emitter publishes domain events after commit.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID string, payload any) (db.DomainEvent, error)
}

// Finalizer settles payment transactions. Both operations run in a single
// database transaction and are safe to repeat.
type Finalizer struct {
	Store  db.Store
	Events Emitter
	Logger *zerolog.Logger
}

// Complete records a successful payment: it creates the order, credits the
// earned points, clears the cart, marks the transaction successful and
// removes the pending order. A repeated call returns the existing order.
func (f Finalizer) Complete(ctx context.Context, transactionID string, payload []byte) (db.Order, error) {
	var (
		placed db.Order
		fresh  bool
	)
	err := f.Store.ExecTx(ctx, func(q db.Querier) error {
		txn, err := q.GetPaymentTransactionForUpdate(ctx, transactionID)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrUnknownTransaction
			}
			return err
		}
		switch txn.Status {
		case db.TxnStatusSuccess:
			placed, err = q.GetOrderByOrderID(ctx, txn.OrderID)
			return err
		case db.TxnStatusFailed:
			return ErrLateSuccess
		}

		staged := pending.Store{Q: q}
		p, err := q.GetPendingOrderForUpdate(ctx, txn.OrderID)
		if err != nil {
			if !db.IsNotFound(err) {
				return err
			}
			// order row may exist from an interrupted settle
			existing, getErr := q.GetOrderByOrderID(ctx, txn.OrderID)
			if getErr != nil {
				if db.IsNotFound(getErr) {
					return ErrPendingMissing
				}
				return getErr
			}
			placed = existing
			_, err = q.SettlePaymentTransaction(ctx, db.SettlePaymentTransactionParams{
				TransactionID: txn.TransactionID,
				Status:        db.TxnStatusSuccess,
				Payload:       normalizePayload(payload, "paid"),
			})
			return err
		}

		status := db.OrderStatusConfirmed
		if p.PaymentMethod == db.MethodCOD {
			status = db.OrderStatusCODDue
		}
		o, err := q.CreateOrder(ctx, db.CreateOrderParams{
			OrderID:           p.TempOrderID,
			UserID:            p.UserID,
			Items:             p.CartItems,
			Subtotal:          p.Subtotal,
			Discount:          p.Discount,
			Total:             p.Amount,
			Status:            status,
			Address:           p.Address,
			CouponCode:        p.CouponCode,
			PaymentMethod:     p.PaymentMethod,
			TransactionID:     txn.TransactionID,
			ScoopPointsUsed:   p.ScoopPointsUsed,
			ScoopPointsEarned: p.ScoopPointsEarned,
		})
		switch {
		case err == nil:
			fresh = true
			if _, err := (loyalty.Ledger{Q: q}).DebitAndCredit(ctx, p.UserID, 0, p.ScoopPointsEarned); err != nil {
				return err
			}
			if err := q.UpdateUserCart(ctx, db.UpdateUserCartParams{ID: p.UserID, Cart: []db.CartItem{}}); err != nil {
				return err
			}
		case db.IsNotFound(err):
			if o, err = q.GetOrderByOrderID(ctx, p.TempOrderID); err != nil {
				return err
			}
		default:
			return err
		}
		placed = o

		if _, err := q.SettlePaymentTransaction(ctx, db.SettlePaymentTransactionParams{
			TransactionID: txn.TransactionID,
			Status:        db.TxnStatusSuccess,
			Payload:       normalizePayload(payload, "paid"),
		}); err != nil {
			return err
		}
		if err := staged.Delete(ctx, p.TempOrderID); err != nil && !errors.Is(err, pending.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLateSuccess) {
			obs.OrderFinalizeTotal.WithLabelValues("late_success").Inc()
			f.logger(ctx).Error().Str("transaction_id", transactionID).Msg("payment confirmed after attempt failed; manual refund required")
			f.emit(ctx, events.TopicPaymentLate, transactionID, events.PaymentFailed{TransactionID: transactionID, Reason: "late_success"})
		}
		return db.Order{}, err
	}
	if !fresh {
		return placed, nil
	}

	obs.OrderFinalizeTotal.WithLabelValues(string(StateFinalized)).Inc()
	f.logger(ctx).Info().
		Str("transaction_id", transactionID).
		Str("order_id", placed.OrderID).
		Str("payment_method", placed.PaymentMethod).
		Msg("order finalized")

	ev := events.OrderPlaced{
		OrderID:           placed.OrderID,
		UserID:            placed.UserID.String(),
		Total:             placed.Total.StringFixed(2),
		PaymentMethod:     placed.PaymentMethod,
		TransactionID:     placed.TransactionID,
		ScoopPointsEarned: placed.ScoopPointsEarned,
		Items:             len(placed.Items),
	}
	if u, err := f.Store.GetUserByID(ctx, placed.UserID); err == nil {
		ev.Email, ev.Name = u.Email, u.Name
	}
	f.emit(ctx, events.TopicOrderPlaced, placed.OrderID, ev)
	return placed, nil
}

// Fail marks the transaction failed, refunds reserved points and removes the
// pending order. Failing an already failed transaction is a no-op.
func (f Finalizer) Fail(ctx context.Context, transactionID, reason string, payload []byte) error {
	var (
		txn      db.PaymentTransaction
		refunded int64
		noop     bool
	)
	err := f.Store.ExecTx(ctx, func(q db.Querier) error {
		var err error
		txn, err = q.GetPaymentTransactionForUpdate(ctx, transactionID)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrUnknownTransaction
			}
			return err
		}
		switch txn.Status {
		case db.TxnStatusFailed:
			noop = true
			return nil
		case db.TxnStatusSuccess:
			return ErrAlreadyPaid
		}

		p, err := q.GetPendingOrderForUpdate(ctx, txn.OrderID)
		switch {
		case err == nil:
			if p.ScoopPointsUsed > 0 {
				if _, err := (loyalty.Ledger{Q: q}).DebitAndCredit(ctx, p.UserID, 0, p.ScoopPointsUsed); err != nil {
					return err
				}
				refunded = p.ScoopPointsUsed
			}
			if err := (pending.Store{Q: q}).Delete(ctx, p.TempOrderID); err != nil && !errors.Is(err, pending.ErrNotFound) {
				return err
			}
		case !db.IsNotFound(err):
			return err
		}

		_, err = q.SettlePaymentTransaction(ctx, db.SettlePaymentTransactionParams{
			TransactionID: txn.TransactionID,
			Status:        db.TxnStatusFailed,
			Payload:       normalizePayload(payload, reason),
		})
		return err
	})
	if err != nil || noop {
		return err
	}

	obs.OrderFinalizeTotal.WithLabelValues(string(StateCleanedUp)).Inc()
	f.logger(ctx).Info().
		Str("transaction_id", transactionID).
		Str("temp_order_id", txn.OrderID).
		Str("reason", reason).
		Int64("points_refunded", refunded).
		Msg("payment attempt failed")
	f.emit(ctx, events.TopicPaymentFailed, txn.OrderID, events.PaymentFailed{
		OrderID:       txn.OrderID,
		UserID:        txn.UserID.String(),
		TransactionID: txn.TransactionID,
		Provider:      txn.Provider,
		Reason:        reason,
		PointsRefund:  refunded,
	})
	return nil
}

func (f Finalizer) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if f.Events == nil {
		return
	}
	if _, err := f.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		f.logger(ctx).Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("emit domain event")
	}
}

func (f Finalizer) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if f.Logger != nil {
		return f.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func normalizePayload(payload []byte, reason string) []byte {
	if len(payload) > 0 && json.Valid(payload) {
		return payload
	}
	data, _ := json.Marshal(map[string]any{"reason": reason, "at": time.Now().UTC()})
	return data
}
