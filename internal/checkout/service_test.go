package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/checkout"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/coupon"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db/dbtest"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/lock"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/payment"
)

type stubGateway struct {
	name     string
	rate     decimal.Decimal
	err      error
	sessions []payment.SessionRequest
}

func (g *stubGateway) Name() string                  { return g.name }
func (g *stubGateway) DiscountRate() decimal.Decimal { return g.rate }

func (g *stubGateway) CreateSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	g.sessions = append(g.sessions, req)
	if g.err != nil {
		return payment.Session{}, g.err
	}
	return payment.Session{Provider: g.name, RedirectURL: "https://pay.example/" + req.TransactionID, GatewayRef: "ref-" + req.TransactionID}, nil
}

func (g *stubGateway) VerifyCallback(*http.Request, []byte) (payment.CallbackResult, error) {
	return payment.CallbackResult{}, errors.New("not used")
}

func (g *stubGateway) FetchStatus(context.Context, string, string) (payment.Status, error) {
	return payment.StatusPending, nil
}

type fixture struct {
	store   *dbtest.Memory
	svc     *checkout.Service
	gateway *stubGateway
	mr      *miniredis.Miniredis
	user    db.User
}

var whey = db.CartItem{ID: "whey", Name: "Whey Isolate", Price: decimal.NewFromInt(700), Quantity: 1, SelectedVariant: "chocolate"}

var addr = &db.Address{FullName: "Riya Shah", Phone: "9000000000", Line1: "12 MG Road", City: "Pune", State: "MH", Pincode: "411001"}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := dbtest.New()
	store.AddCoupon(db.Coupon{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10), IsActive: true})
	gw := &stubGateway{name: db.MethodPhonePe}
	svc := &checkout.Service{
		Store:        store,
		Coupons:      &coupon.Service{Q: store},
		Gateways:     payment.NewRegistry(payment.COD{}, gw, &stubGateway{name: db.MethodCashfree, rate: decimal.RequireFromString("0.03")}),
		Settler:      order.Finalizer{Store: store},
		Locker:       lock.Locker{R: rdb, Prefix: "test", RetryBackoff: 5 * time.Millisecond, MaxWait: 50 * time.Millisecond},
		PendingTTL:   15 * time.Minute,
		APIBaseURL:   "https://api.example.in",
		StoreBaseURL: "https://shop.example.in",
	}
	return fixture{store: store, svc: svc, gateway: gw, mr: mr, user: store.AddUser(100, whey)}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	appErr, ok := common.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, code, appErr.Code)
}

func TestCheckoutStagesGatewayAttempt(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Checkout(context.Background(), f.user.ID, checkout.Request{
		Address: addr, ScoopPoints: 50, PaymentMethod: "PhonePe",
	})
	require.NoError(t, err)
	require.Equal(t, order.StatePendingPayment, res.State)
	require.True(t, res.Breakdown.Total.Equal(decimal.NewFromInt(650)))
	require.Equal(t, int64(12), res.Breakdown.PointsEarned)
	require.Contains(t, res.Payment.RedirectURL, res.TransactionID)

	require.Len(t, f.gateway.sessions, 1)
	sent := f.gateway.sessions[0]
	require.True(t, sent.Amount.Equal(decimal.NewFromInt(650)))
	require.Equal(t, "https://api.example.in/api/v1/payments/webhooks/phonepe", sent.CallbackURL)
	require.Equal(t, "Riya Shah", sent.Customer.Name)

	require.Equal(t, int64(50), f.store.User(f.user.ID).ScoopPoints, "points are reserved at staging")
	require.Len(t, f.store.Pending, 1)
	txn := f.store.Txns[res.TransactionID]
	require.Equal(t, db.TxnStatusPending, txn.Status)
	require.Equal(t, "ref-"+res.TransactionID, *txn.GatewayRef)

	placed, err := order.Finalizer{Store: f.store}.Complete(context.Background(), res.TransactionID, nil)
	require.NoError(t, err)
	require.Equal(t, res.TempOrderID, placed.OrderID)
	require.Equal(t, int64(100-50+12), f.store.User(f.user.ID).ScoopPoints)
}

func TestCheckoutCODFinalizesInline(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Checkout(context.Background(), f.user.ID, checkout.Request{
		Address: addr, CouponCode: " save10 ", PaymentMethod: "cod",
	})
	require.NoError(t, err)
	require.Equal(t, order.StateFinalized, res.State)
	require.NotNil(t, res.Order)
	require.Equal(t, db.OrderStatusCODDue, res.Order.Status)
	require.True(t, res.Breakdown.CouponDiscount.Equal(decimal.NewFromInt(70)))
	require.Equal(t, "SAVE10", *res.Order.CouponCode)
	require.Empty(t, f.store.Pending)
	require.Empty(t, f.store.User(f.user.ID).Cart)
	require.Equal(t, int64(100+12), f.store.User(f.user.ID).ScoopPoints)
}

func TestCheckoutRejectsInvalidCoupon(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), f.user.ID, checkout.Request{
		Address: addr, CouponCode: "NOPE", PaymentMethod: "phonepe",
	})
	requireCode(t, err, "INVALID_COUPON")
	require.Empty(t, f.store.Pending)
	require.Empty(t, f.gateway.sessions)
}

func TestCheckoutCompensatesGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("phonepe: 503")
	_, err := f.svc.Checkout(context.Background(), f.user.ID, checkout.Request{
		Address: addr, ScoopPoints: 40, PaymentMethod: "phonepe",
	})
	requireCode(t, err, "GATEWAY_ERROR")
	require.Empty(t, f.store.Pending)
	require.Equal(t, int64(100), f.store.User(f.user.ID).ScoopPoints)
	require.Len(t, f.store.Txns, 1)
	for _, txn := range f.store.Txns {
		require.Equal(t, db.TxnStatusFailed, txn.Status)
	}
}

func TestCheckoutReplaysAttemptKey(t *testing.T) {
	f := newFixture(t)
	req := checkout.Request{Address: addr, ScoopPoints: 30, PaymentMethod: "phonepe", AttemptKey: "k-1"}
	first, err := f.svc.Checkout(context.Background(), f.user.ID, req)
	require.NoError(t, err)
	second, err := f.svc.Checkout(context.Background(), f.user.ID, req)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.TempOrderID, second.TempOrderID)
	require.Len(t, f.store.Pending, 1)
	require.Len(t, f.gateway.sessions, 1)
	require.Equal(t, int64(70), f.store.User(f.user.ID).ScoopPoints)
}

func TestCheckoutRetryFinalizesStrandedCOD(t *testing.T) {
	f := newFixture(t)
	req := checkout.Request{Address: addr, PaymentMethod: "cod", AttemptKey: "k-cod"}

	f.store.FailOn("CreateOrder", errors.New("connection reset"))
	_, err := f.svc.Checkout(context.Background(), f.user.ID, req)
	requireCode(t, err, "FINALIZE_FAILED")
	require.Len(t, f.store.Pending, 1, "staged attempt survives the failed finalization")
	require.Empty(t, f.store.Orders)

	f.store.FailOn("CreateOrder", nil)
	res, err := f.svc.Checkout(context.Background(), f.user.ID, req)
	require.NoError(t, err)
	require.True(t, res.Replayed)
	require.Equal(t, order.StateFinalized, res.State)
	require.NotNil(t, res.Order)
	require.Equal(t, res.TempOrderID, res.Order.OrderID)
	require.Len(t, f.store.Orders, 1)
	require.Empty(t, f.store.Pending)
	require.Equal(t, db.TxnStatusSuccess, f.store.Txns[res.TransactionID].Status)
	require.Equal(t, int64(100+12), f.store.User(f.user.ID).ScoopPoints)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  checkout.Request
		code string
	}{
		{"unsupported method", checkout.Request{Address: addr, PaymentMethod: "paypal"}, "UNSUPPORTED_PAYMENT_METHOD"},
		{"missing method", checkout.Request{Address: addr}, "INVALID_REQUEST"},
		{"too many points", checkout.Request{Address: addr, ScoopPoints: 101, PaymentMethod: "phonepe"}, "INSUFFICIENT_POINTS"},
		{"missing address", checkout.Request{PaymentMethod: "phonepe"}, "ADDRESS_REQUIRED"},
		{"bad quantity", checkout.Request{Address: addr, PaymentMethod: "phonepe", Items: []db.CartItem{{ID: "x", Name: "x", Price: decimal.NewFromInt(5), Quantity: 0}}}, "INVALID_REQUEST"},
		{"unknown address", checkout.Request{AddressID: ptr(uuid.New()), PaymentMethod: "phonepe"}, "INVALID_ADDRESS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), f.user.ID, tc.req)
			requireCode(t, err, tc.code)
		})
	}
	require.Empty(t, f.store.Pending)

	empty := f.store.AddUser(10)
	_, err := f.svc.Checkout(context.Background(), empty.ID, checkout.Request{Address: addr, PaymentMethod: "cod"})
	requireCode(t, err, "EMPTY_CART")
}

func TestCheckoutBusyWhileLocked(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set(f.svc.Locker.UserKey("checkout", f.user.ID.String()), "other"))
	_, err := f.svc.Checkout(context.Background(), f.user.ID, checkout.Request{Address: addr, PaymentMethod: "cod"})
	requireCode(t, err, "CHECKOUT_IN_PROGRESS")
}

func TestQuoteAppliesGatewayDiscount(t *testing.T) {
	f := newFixture(t)
	quote, err := f.svc.Quote(context.Background(), f.user.ID, checkout.Request{PaymentMethod: "cashfree"})
	require.NoError(t, err)
	require.True(t, quote.GatewayDiscount.Equal(decimal.NewFromInt(21)))
	require.True(t, quote.Total.Equal(decimal.NewFromInt(679)))
	require.Empty(t, f.store.Pending)
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	h := &checkout.Handler{Svc: f.svc}

	body, err := json.Marshal(map[string]any{"address": addr, "paymentMethod": "phonepe"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(body))
	req.Header.Set(common.IdempotencyHeader, "attempt-9")
	req = req.WithContext(common.WithUserID(req.Context(), f.user.ID.String()))
	rec := httptest.NewRecorder()
	h.Checkout(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Data checkout.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, order.StatePendingPayment, out.Data.State)
	require.NotEmpty(t, out.Data.TempOrderID)

	req = httptest.NewRequest(http.MethodPost, "/checkout/quote", bytes.NewReader([]byte(`{"paymentMethod":"cod","couponCode":"SAVE10"}`)))
	req = req.WithContext(common.WithUserID(req.Context(), f.user.ID.String()))
	rec = httptest.NewRecorder()
	h.Quote(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":"630"`)

	rec = httptest.NewRecorder()
	h.Checkout(rec, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func ptr[T any](v T) *T { return &v }
