package order_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db/dbtest"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/events"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pending"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pricing"
)

type captureEmitter struct {
	topics []string
}

func (c *captureEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (db.DomainEvent, error) {
	c.topics = append(c.topics, topic)
	return db.DomainEvent{Topic: topic, AggregateID: aggregateID}, nil
}

// stage mimics checkout: reserve 50 points, stage the order and its transaction.
func stage(t *testing.T, store *dbtest.Memory, method string) (db.User, db.PendingOrder) {
	t.Helper()
	item := db.CartItem{ID: "whey", Name: "Whey", Price: decimal.NewFromInt(700), Quantity: 1}
	u := store.AddUser(200, item)
	var staged db.PendingOrder
	err := store.ExecTx(context.Background(), func(q db.Querier) error {
		p, err := pending.Store{Q: q}.Create(context.Background(), pending.NewOrder{
			UserID: u.ID,
			Items:  []db.CartItem{item},
			Quote: pricing.Breakdown{
				Subtotal:      decimal.NewFromInt(700),
				ScoopDiscount: decimal.NewFromInt(50),
				Discount:      decimal.NewFromInt(50),
				Total:         decimal.NewFromInt(650),
				PointsUsed:    50,
				PointsEarned:  12,
			},
			PaymentMethod: method,
		})
		if err != nil {
			return err
		}
		if _, err := q.CreatePaymentTransaction(context.Background(), db.CreatePaymentTransactionParams{
			TransactionID: p.TransactionID, OrderID: p.TempOrderID, UserID: u.ID, Provider: method, Amount: p.Amount,
		}); err != nil {
			return err
		}
		if _, err := q.AdjustScoopPoints(context.Background(), db.AdjustScoopPointsParams{ID: u.ID, Debit: 50}); err != nil {
			return err
		}
		staged = p
		return nil
	})
	require.NoError(t, err)
	return u, staged
}

func TestCompleteCreatesOrderOnce(t *testing.T) {
	store := dbtest.New()
	emitter := &captureEmitter{}
	f := order.Finalizer{Store: store, Events: emitter}
	u, p := stage(t, store, db.MethodPhonePe)

	o, err := f.Complete(context.Background(), p.TransactionID, []byte(`{"code":"PAYMENT_SUCCESS"}`))
	require.NoError(t, err)
	require.Equal(t, p.TempOrderID, o.OrderID)
	require.Equal(t, db.OrderStatusConfirmed, o.Status)
	require.True(t, o.Total.Equal(decimal.NewFromInt(650)))

	after := store.User(u.ID)
	require.Equal(t, int64(200-50+12), after.ScoopPoints)
	require.Empty(t, after.Cart)
	require.Empty(t, store.Pending)
	require.Equal(t, db.TxnStatusSuccess, store.Txns[p.TransactionID].Status)

	again, err := f.Complete(context.Background(), p.TransactionID, nil)
	require.NoError(t, err)
	require.Equal(t, o.ID, again.ID)
	require.Equal(t, int64(162), store.User(u.ID).ScoopPoints, "replay must not credit twice")
	require.Len(t, store.Orders, 1)
	require.Equal(t, []string{events.TopicOrderPlaced}, emitter.topics)
}

func TestCompleteCODMarksCashDue(t *testing.T) {
	store := dbtest.New()
	f := order.Finalizer{Store: store}
	_, p := stage(t, store, db.MethodCOD)

	o, err := f.Complete(context.Background(), p.TransactionID, nil)
	require.NoError(t, err)
	require.Equal(t, db.OrderStatusCODDue, o.Status)
	require.Equal(t, order.StateFinalized, order.StateOf(store.Txns[p.TransactionID]))
}

func TestCompleteRollsBackOnFailure(t *testing.T) {
	store := dbtest.New()
	f := order.Finalizer{Store: store}
	u, p := stage(t, store, db.MethodCashfree)

	store.FailOn("SettlePaymentTransaction", errors.New("connection reset"))
	_, err := f.Complete(context.Background(), p.TransactionID, nil)
	require.Error(t, err)
	require.Empty(t, store.Orders)
	require.Len(t, store.Pending, 1)
	require.Equal(t, int64(150), store.User(u.ID).ScoopPoints)

	store.FailOn("SettlePaymentTransaction", nil)
	_, err = f.Complete(context.Background(), p.TransactionID, nil)
	require.NoError(t, err)
	require.Len(t, store.Orders, 1)
}

func TestFailRefundsPointsAndIsIdempotent(t *testing.T) {
	store := dbtest.New()
	emitter := &captureEmitter{}
	f := order.Finalizer{Store: store, Events: emitter}
	u, p := stage(t, store, db.MethodPhonePe)
	require.Equal(t, int64(150), store.User(u.ID).ScoopPoints)

	require.NoError(t, f.Fail(context.Background(), p.TransactionID, "gateway_failed", nil))
	require.Equal(t, int64(200), store.User(u.ID).ScoopPoints)
	require.Empty(t, store.Pending)
	require.Empty(t, store.Orders)
	require.Equal(t, db.TxnStatusFailed, store.Txns[p.TransactionID].Status)
	require.Equal(t, order.StateCleanedUp, order.StateOf(store.Txns[p.TransactionID]))

	require.NoError(t, f.Fail(context.Background(), p.TransactionID, "gateway_failed", nil))
	require.Equal(t, int64(200), store.User(u.ID).ScoopPoints)
	require.Equal(t, []string{events.TopicPaymentFailed}, emitter.topics)
}

func TestLateSuccessAfterFailure(t *testing.T) {
	store := dbtest.New()
	emitter := &captureEmitter{}
	f := order.Finalizer{Store: store, Events: emitter}
	_, p := stage(t, store, db.MethodRazorpay)

	require.NoError(t, f.Fail(context.Background(), p.TransactionID, "expired", nil))
	_, err := f.Complete(context.Background(), p.TransactionID, nil)
	require.ErrorIs(t, err, order.ErrLateSuccess)
	require.Empty(t, store.Orders)
	require.Contains(t, emitter.topics, events.TopicPaymentLate)
}

func TestFailAfterSuccessIsRejected(t *testing.T) {
	store := dbtest.New()
	f := order.Finalizer{Store: store}
	_, p := stage(t, store, db.MethodPhonePe)

	_, err := f.Complete(context.Background(), p.TransactionID, nil)
	require.NoError(t, err)
	require.ErrorIs(t, f.Fail(context.Background(), p.TransactionID, "expired", nil), order.ErrAlreadyPaid)
}

func TestUnknownTransaction(t *testing.T) {
	f := order.Finalizer{Store: dbtest.New()}
	_, err := f.Complete(context.Background(), "TXN_missing", nil)
	require.ErrorIs(t, err, order.ErrUnknownTransaction)
	require.ErrorIs(t, f.Fail(context.Background(), "TXN_missing", "x", nil), order.ErrUnknownTransaction)
}

func TestHistoryHandlers(t *testing.T) {
	store := dbtest.New()
	f := order.Finalizer{Store: store}
	u, p := stage(t, store, db.MethodPhonePe)
	_, err := f.Complete(context.Background(), p.TransactionID, nil)
	require.NoError(t, err)

	h := &order.Handler{Q: store}
	r := chi.NewRouter()
	r.Get("/orders", h.List)
	r.Get("/orders/{orderId}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/orders?page=1&limit=10", nil)
	req = req.WithContext(common.WithUserID(req.Context(), u.ID.String()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	require.Contains(t, rec.Body.String(), p.TempOrderID)

	req = httptest.NewRequest(http.MethodGet, "/orders/"+p.TempOrderID, nil)
	req = req.WithContext(common.WithUserID(req.Context(), u.ID.String()))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	other := store.AddUser(0)
	req = httptest.NewRequest(http.MethodGet, "/orders/"+p.TempOrderID, nil)
	req = req.WithContext(common.WithUserID(req.Context(), other.ID.String()))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
