package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

func startPostgres(t *testing.T) (*db.PgStore, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("supplements"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dsn))

	pool, err := db.NewPool(ctx, dsn, db.PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return db.NewStore(pool), pool
}

func insertUser(t *testing.T, pool *pgxpool.Pool, points int64) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (email, name, scoop_points) VALUES ($1, 'Integration', $2) RETURNING id`,
		uuid.NewString()+"@example.com", points).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestAdjustScoopPointsIsConditional(t *testing.T) {
	store, pool := startPostgres(t)
	ctx := context.Background()
	uid := insertUser(t, pool, 100)

	balance, err := store.AdjustScoopPoints(ctx, db.AdjustScoopPointsParams{ID: uid, Debit: 60, Credit: 10})
	require.NoError(t, err)
	require.Equal(t, int64(50), balance)

	_, err = store.AdjustScoopPoints(ctx, db.AdjustScoopPointsParams{ID: uid, Debit: 60})
	require.ErrorIs(t, err, db.ErrNotFound)

	u, err := store.GetUserByID(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, int64(50), u.ScoopPoints)
}

func TestPendingOrderLifecycleAndOrderIdempotency(t *testing.T) {
	store, pool := startPostgres(t)
	ctx := context.Background()
	uid := insertUser(t, pool, 0)
	now := time.Now().UTC()
	items := []db.CartItem{{ID: "whey-1kg", Name: "Whey", Price: decimal.NewFromInt(500), Quantity: 2}}
	address := db.Address{FullName: "A", Phone: "9999999999", Line1: "L1", City: "Pune", State: "MH", Pincode: "411001"}

	err := store.ExecTx(ctx, func(q db.Querier) error {
		if _, err := q.CreatePendingOrder(ctx, db.CreatePendingOrderParams{
			TempOrderID: "ORD_it", UserID: uid, AttemptKey: "k1", CartItems: items,
			Subtotal: decimal.NewFromInt(1000), Discount: decimal.Zero, Amount: decimal.NewFromInt(1000),
			Address: address, PaymentMethod: "cod", TransactionID: "TXN_it", CreatedAt: now, ExpiresAt: now.Add(time.Minute),
		}); err != nil {
			return err
		}
		_, err := q.CreatePaymentTransaction(ctx, db.CreatePaymentTransactionParams{
			TransactionID: "TXN_it", OrderID: "ORD_it", UserID: uid, Provider: "cod", Amount: decimal.NewFromInt(1000),
		})
		return err
	})
	require.NoError(t, err)

	_, err = store.CreatePendingOrder(ctx, db.CreatePendingOrderParams{
		TempOrderID: "ORD_it2", UserID: uid, AttemptKey: "k1", CartItems: items,
		Subtotal: decimal.NewFromInt(1000), Amount: decimal.NewFromInt(1000),
		Address: address, PaymentMethod: "cod", TransactionID: "TXN_it2", CreatedAt: now, ExpiresAt: now,
	})
	require.True(t, db.IsUniqueViolation(err))

	p, err := store.GetPendingOrder(ctx, "ORD_it")
	require.NoError(t, err)
	require.True(t, p.Amount.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, items[0].ID, p.CartItems[0].ID)

	orderArg := db.CreateOrderParams{
		OrderID: "ORD_it", UserID: uid, Items: items, Subtotal: p.Subtotal, Discount: p.Discount, Total: p.Amount,
		Status: db.OrderStatusCODDue, Address: address, PaymentMethod: "cod", TransactionID: "TXN_it",
	}
	_, err = store.CreateOrder(ctx, orderArg)
	require.NoError(t, err)
	_, err = store.CreateOrder(ctx, orderArg)
	require.ErrorIs(t, err, db.ErrNotFound)

	require.NoError(t, store.SetPaymentTransactionGatewayRef(ctx, db.SetPaymentTransactionGatewayRefParams{TransactionID: "TXN_it", GatewayRef: "order_it"}))
	byRef, err := store.GetPaymentTransactionByGatewayRef(ctx, "cod", "order_it")
	require.NoError(t, err)
	require.Equal(t, "TXN_it", byRef.TransactionID)
	_, err = store.GetPaymentTransactionByGatewayRef(ctx, "razorpay", "order_it")
	require.True(t, db.IsNotFound(err))

	settled, err := store.SettlePaymentTransaction(ctx, db.SettlePaymentTransactionParams{TransactionID: "TXN_it", Status: db.TxnStatusSuccess})
	require.NoError(t, err)
	require.Equal(t, db.TxnStatusSuccess, settled.Status)
	_, err = store.SettlePaymentTransaction(ctx, db.SettlePaymentTransactionParams{TransactionID: "TXN_it", Status: db.TxnStatusFailed})
	require.ErrorIs(t, err, db.ErrNotFound)

	stale, err := store.ListStalePendingOrders(ctx, db.ListStalePendingOrdersParams{Before: now.Add(2 * time.Minute), Limit: 10})
	require.NoError(t, err)
	require.Len(t, stale, 1)

	n, err := store.DeletePendingOrder(ctx, "ORD_it")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestCouponCodesAreStoredUpperCase(t *testing.T) {
	store, _ := startPostgres(t)
	ctx := context.Background()
	_, err := store.CreateCoupon(ctx, db.CreateCouponParams{Code: "lower", DiscountPercentage: decimal.NewFromInt(10), IsActive: true})
	require.Error(t, err)

	c, err := store.CreateCoupon(ctx, db.CreateCouponParams{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10), IsActive: true})
	require.NoError(t, err)
	require.True(t, c.DiscountPercentage.Equal(decimal.NewFromInt(10)))

	codes, err := store.ListActiveCouponCodes(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"SAVE10"}, codes)
}
