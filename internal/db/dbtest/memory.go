// Package dbtest provides an in-memory db.Store for unit tests.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// Memory is a db.Store kept in maps. Transactions are serialized and rolled
// back by restoring a snapshot when the callback fails.
type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex

	Users     map[uuid.UUID]db.User
	Addresses map[uuid.UUID]db.UserAddress
	Coupons   map[string]db.Coupon
	Pending   map[string]db.PendingOrder
	Txns      map[string]db.PaymentTransaction
	Orders    map[string]db.Order
	Events    []db.DomainEvent

	failures map[string]error
	Now      func() time.Time
}

var _ db.Store = (*Memory)(nil)

// New returns an empty store.
func New() *Memory {
	return &Memory{
		Users:     map[uuid.UUID]db.User{},
		Addresses: map[uuid.UUID]db.UserAddress{},
		Coupons:   map[string]db.Coupon{},
		Pending:   map[string]db.PendingOrder{},
		Txns:      map[string]db.PaymentTransaction{},
		Orders:    map[string]db.Order{},
		failures:  map[string]error{},
		Now:       time.Now,
	}
}

// FailOn makes the named query return err until cleared with a nil err.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// AddUser seeds a user and returns it.
func (m *Memory) AddUser(points int64, cart ...db.CartItem) db.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := db.User{
		ID:          uuid.New(),
		Email:       uuid.NewString()[:8] + "@example.com",
		Name:        "Test User",
		Roles:       []string{"customer"},
		Cart:        cart,
		ScoopPoints: points,
		CreatedAt:   m.Now(),
		UpdatedAt:   m.Now(),
	}
	m.Users[u.ID] = u
	return u
}

// AddCoupon seeds a coupon.
func (m *Memory) AddCoupon(c db.Coupon) db.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.Coupons[c.Code] = c
	return c
}

// User returns the current state of a user.
func (m *Memory) User(id uuid.UUID) db.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Users[id]
}

// ExecTx implements db.Store.
func (m *Memory) ExecTx(ctx context.Context, fn func(db.Querier) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users     map[uuid.UUID]db.User
	addresses map[uuid.UUID]db.UserAddress
	coupons   map[string]db.Coupon
	pending   map[string]db.PendingOrder
	txns      map[string]db.PaymentTransaction
	orders    map[string]db.Order
	events    []db.DomainEvent
}

func (m *Memory) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot{
		users:     cloneMap(m.Users),
		addresses: cloneMap(m.Addresses),
		coupons:   cloneMap(m.Coupons),
		pending:   cloneMap(m.Pending),
		txns:      cloneMap(m.Txns),
		orders:    cloneMap(m.Orders),
		events:    append([]db.DomainEvent(nil), m.Events...),
	}
}

func (m *Memory) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users, m.Addresses, m.Coupons = s.users, s.addresses, s.coupons
	m.Pending, m.Txns, m.Orders, m.Events = s.pending, s.txns, s.orders, s.events
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *Memory) injected(method string) error {
	return m.failures[method]
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func (m *Memory) GetUserByID(_ context.Context, id uuid.UUID) (db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("GetUserByID"); err != nil {
		return db.User{}, err
	}
	u, ok := m.Users[id]
	if !ok {
		return db.User{}, db.ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserForUpdate(ctx context.Context, id uuid.UUID) (db.User, error) {
	return m.GetUserByID(ctx, id)
}

func (m *Memory) UpdateUserCart(_ context.Context, arg db.UpdateUserCartParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("UpdateUserCart"); err != nil {
		return err
	}
	u, ok := m.Users[arg.ID]
	if !ok {
		return db.ErrNotFound
	}
	u.Cart = append([]db.CartItem(nil), arg.Cart...)
	u.UpdatedAt = m.Now()
	m.Users[arg.ID] = u
	return nil
}

func (m *Memory) AdjustScoopPoints(_ context.Context, arg db.AdjustScoopPointsParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("AdjustScoopPoints"); err != nil {
		return 0, err
	}
	u, ok := m.Users[arg.ID]
	if !ok || u.ScoopPoints < arg.Debit {
		return 0, db.ErrNotFound
	}
	u.ScoopPoints = u.ScoopPoints - arg.Debit + arg.Credit
	m.Users[arg.ID] = u
	return u.ScoopPoints, nil
}

func (m *Memory) GetAddressForUser(_ context.Context, arg db.GetAddressForUserParams) (db.UserAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Addresses[arg.ID]
	if !ok || a.UserID != arg.UserID {
		return db.UserAddress{}, db.ErrNotFound
	}
	return a, nil
}

func (m *Memory) GetCouponByCode(_ context.Context, code string) (db.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("GetCouponByCode"); err != nil {
		return db.Coupon{}, err
	}
	c, ok := m.Coupons[code]
	if !ok {
		return db.Coupon{}, db.ErrNotFound
	}
	return c, nil
}

func (m *Memory) CreateCoupon(_ context.Context, arg db.CreateCouponParams) (db.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Coupons[arg.Code]; exists {
		return db.Coupon{}, uniqueViolation("coupons_code_key")
	}
	now := m.Now()
	c := db.Coupon{
		ID:                 uuid.New(),
		Code:               arg.Code,
		DiscountPercentage: arg.DiscountPercentage,
		IsActive:           arg.IsActive,
		ExpiresAt:          arg.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.Coupons[c.Code] = c
	return c, nil
}

func (m *Memory) UpdateCoupon(_ context.Context, arg db.UpdateCouponParams) (db.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Coupons[arg.Code]
	if !ok {
		return db.Coupon{}, db.ErrNotFound
	}
	if arg.DiscountPercentage != nil {
		c.DiscountPercentage = *arg.DiscountPercentage
	}
	if arg.IsActive != nil {
		c.IsActive = *arg.IsActive
	}
	switch {
	case arg.ClearExpiry:
		c.ExpiresAt = nil
	case arg.ExpiresAt != nil:
		c.ExpiresAt = arg.ExpiresAt
	}
	c.UpdatedAt = m.Now()
	m.Coupons[c.Code] = c
	return c, nil
}

func (m *Memory) ListCoupons(_ context.Context, arg db.ListCouponsParams) ([]db.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.Coupon, 0, len(m.Coupons))
	for _, c := range m.Coupons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return page(out, arg.Limit, arg.Offset), nil
}

func (m *Memory) ListActiveCouponCodes(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []string
	for _, c := range m.Coupons {
		if c.IsActive && (c.ExpiresAt == nil || c.ExpiresAt.After(now)) {
			codes = append(codes, c.Code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (m *Memory) CreatePendingOrder(_ context.Context, arg db.CreatePendingOrderParams) (db.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreatePendingOrder"); err != nil {
		return db.PendingOrder{}, err
	}
	if _, exists := m.Pending[arg.TempOrderID]; exists {
		return db.PendingOrder{}, uniqueViolation("pending_orders_pkey")
	}
	for _, p := range m.Pending {
		if p.TransactionID == arg.TransactionID {
			return db.PendingOrder{}, uniqueViolation("pending_orders_transaction_id_key")
		}
		if p.UserID == arg.UserID && p.AttemptKey == arg.AttemptKey {
			return db.PendingOrder{}, uniqueViolation("pending_orders_user_id_attempt_key_key")
		}
	}
	p := db.PendingOrder{
		TempOrderID:       arg.TempOrderID,
		UserID:            arg.UserID,
		AttemptKey:        arg.AttemptKey,
		CartItems:         append([]db.CartItem(nil), arg.CartItems...),
		Subtotal:          arg.Subtotal,
		CouponDiscount:    arg.CouponDiscount,
		ScoopDiscount:     arg.ScoopDiscount,
		GatewayDiscount:   arg.GatewayDiscount,
		Discount:          arg.Discount,
		Amount:            arg.Amount,
		CouponCode:        arg.CouponCode,
		Address:           arg.Address,
		PaymentMethod:     arg.PaymentMethod,
		Status:            db.PendingStatusAwaitingPayment,
		TransactionID:     arg.TransactionID,
		ScoopPointsUsed:   arg.ScoopPointsUsed,
		ScoopPointsEarned: arg.ScoopPointsEarned,
		CreatedAt:         arg.CreatedAt,
		ExpiresAt:         arg.ExpiresAt,
	}
	m.Pending[p.TempOrderID] = p
	return p, nil
}

func (m *Memory) GetPendingOrder(_ context.Context, tempOrderID string) (db.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Pending[tempOrderID]
	if !ok {
		return db.PendingOrder{}, db.ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetPendingOrderForUpdate(ctx context.Context, tempOrderID string) (db.PendingOrder, error) {
	return m.GetPendingOrder(ctx, tempOrderID)
}

func (m *Memory) GetPendingOrderByAttempt(_ context.Context, arg db.GetPendingOrderByAttemptParams) (db.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Pending {
		if p.UserID == arg.UserID && p.AttemptKey == arg.AttemptKey {
			return p, nil
		}
	}
	return db.PendingOrder{}, db.ErrNotFound
}

func (m *Memory) DeletePendingOrder(_ context.Context, tempOrderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeletePendingOrder"); err != nil {
		return 0, err
	}
	if _, ok := m.Pending[tempOrderID]; !ok {
		return 0, nil
	}
	delete(m.Pending, tempOrderID)
	return 1, nil
}

func (m *Memory) ListStalePendingOrders(_ context.Context, arg db.ListStalePendingOrdersParams) ([]db.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.PendingOrder
	for _, p := range m.Pending {
		if !p.ExpiresAt.After(arg.Before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return page(out, arg.Limit, 0), nil
}

func (m *Memory) CreatePaymentTransaction(_ context.Context, arg db.CreatePaymentTransactionParams) (db.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreatePaymentTransaction"); err != nil {
		return db.PaymentTransaction{}, err
	}
	if _, exists := m.Txns[arg.TransactionID]; exists {
		return db.PaymentTransaction{}, uniqueViolation("payment_transactions_pkey")
	}
	now := m.Now()
	t := db.PaymentTransaction{
		TransactionID: arg.TransactionID,
		OrderID:       arg.OrderID,
		UserID:        arg.UserID,
		Provider:      arg.Provider,
		Status:        db.TxnStatusPending,
		Amount:        arg.Amount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.Txns[t.TransactionID] = t
	return t, nil
}

func (m *Memory) GetPaymentTransaction(_ context.Context, transactionID string) (db.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Txns[transactionID]
	if !ok {
		return db.PaymentTransaction{}, db.ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetPaymentTransactionForUpdate(ctx context.Context, transactionID string) (db.PaymentTransaction, error) {
	return m.GetPaymentTransaction(ctx, transactionID)
}

func (m *Memory) GetPaymentTransactionByGatewayRef(_ context.Context, provider, gatewayRef string) (db.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Txns {
		if t.Provider == provider && t.GatewayRef != nil && *t.GatewayRef == gatewayRef {
			return t, nil
		}
	}
	return db.PaymentTransaction{}, db.ErrNotFound
}

func (m *Memory) GetPaymentTransactionByOrder(_ context.Context, orderID string) (db.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		found db.PaymentTransaction
		ok    bool
	)
	for _, t := range m.Txns {
		if t.OrderID == orderID && (!ok || t.CreatedAt.After(found.CreatedAt)) {
			found, ok = t, true
		}
	}
	if !ok {
		return db.PaymentTransaction{}, db.ErrNotFound
	}
	return found, nil
}

func (m *Memory) SetPaymentTransactionGatewayRef(_ context.Context, arg db.SetPaymentTransactionGatewayRefParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Txns[arg.TransactionID]
	if !ok {
		return db.ErrNotFound
	}
	ref := arg.GatewayRef
	t.GatewayRef = &ref
	m.Txns[t.TransactionID] = t
	return nil
}

func (m *Memory) SettlePaymentTransaction(_ context.Context, arg db.SettlePaymentTransactionParams) (db.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SettlePaymentTransaction"); err != nil {
		return db.PaymentTransaction{}, err
	}
	t, ok := m.Txns[arg.TransactionID]
	if !ok || t.Status != db.TxnStatusPending {
		return db.PaymentTransaction{}, db.ErrNotFound
	}
	t.Status = arg.Status
	if len(arg.Payload) > 0 {
		t.Payload = arg.Payload
	}
	t.UpdatedAt = m.Now()
	m.Txns[t.TransactionID] = t
	return t, nil
}

func (m *Memory) CreateOrder(_ context.Context, arg db.CreateOrderParams) (db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateOrder"); err != nil {
		return db.Order{}, err
	}
	if _, exists := m.Orders[arg.OrderID]; exists {
		return db.Order{}, db.ErrNotFound
	}
	o := db.Order{
		ID:                uuid.New(),
		OrderID:           arg.OrderID,
		UserID:            arg.UserID,
		Items:             append([]db.CartItem(nil), arg.Items...),
		Subtotal:          arg.Subtotal,
		Discount:          arg.Discount,
		Total:             arg.Total,
		Status:            arg.Status,
		Address:           arg.Address,
		CouponCode:        arg.CouponCode,
		PaymentMethod:     arg.PaymentMethod,
		TransactionID:     arg.TransactionID,
		ScoopPointsUsed:   arg.ScoopPointsUsed,
		ScoopPointsEarned: arg.ScoopPointsEarned,
		CreatedAt:         m.Now(),
	}
	m.Orders[o.OrderID] = o
	return o, nil
}

func (m *Memory) GetOrderByOrderID(_ context.Context, orderID string) (db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[orderID]
	if !ok {
		return db.Order{}, db.ErrNotFound
	}
	return o, nil
}

func (m *Memory) GetOrderForUser(ctx context.Context, arg db.GetOrderForUserParams) (db.Order, error) {
	o, err := m.GetOrderByOrderID(ctx, arg.OrderID)
	if err != nil {
		return db.Order{}, err
	}
	if o.UserID != arg.UserID {
		return db.Order{}, db.ErrNotFound
	}
	return o, nil
}

func (m *Memory) ListOrdersForUser(_ context.Context, arg db.ListOrdersForUserParams) ([]db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Order
	for _, o := range m.Orders {
		if o.UserID == arg.UserID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID > out[j].OrderID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, arg.Limit, arg.Offset), nil
}

func (m *Memory) CountOrdersForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.Orders {
		if o.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertDomainEvent(_ context.Context, arg db.InsertDomainEventParams) (db.DomainEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("InsertDomainEvent"); err != nil {
		return db.DomainEvent{}, err
	}
	e := db.DomainEvent{
		ID:          uuid.New(),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     append([]byte(nil), arg.Payload...),
		OccurredAt:  m.Now(),
	}
	m.Events = append(m.Events, e)
	return e, nil
}

func page[T any](in []T, limit, offset int32) []T {
	if offset > 0 {
		if int(offset) >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && int(limit) < len(in) {
		in = in[:limit]
	}
	return in
}
