package coupon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/coupon"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db/dbtest"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T) (*dbtest.Memory, *coupon.Service) {
	t.Helper()
	store := dbtest.New()
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(time.Hour)
	store.AddCoupon(db.Coupon{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10), IsActive: true})
	store.AddCoupon(db.Coupon{Code: "OLD", DiscountPercentage: decimal.NewFromInt(20), IsActive: true, ExpiresAt: &past})
	store.AddCoupon(db.Coupon{Code: "OFF", DiscountPercentage: decimal.NewFromInt(5), IsActive: false})
	store.AddCoupon(db.Coupon{Code: "SOON", DiscountPercentage: decimal.NewFromInt(15), IsActive: true, ExpiresAt: &future})
	return store, &coupon.Service{Q: store, Now: func() time.Time { return fixedNow }}
}

func TestLookupNormalizesCode(t *testing.T) {
	_, svc := seeded(t)
	c, found, err := svc.Lookup(context.Background(), "  save10 ")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "SAVE10", c.Code)

	c, found, err = svc.Lookup(context.Background(), "soon")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, c.DiscountPercentage.Equal(decimal.NewFromInt(15)))
}

func TestLookupRejectsUnusableCoupons(t *testing.T) {
	_, svc := seeded(t)
	for _, code := range []string{"OLD", "OFF", "MISSING", ""} {
		_, found, err := svc.Lookup(context.Background(), code)
		require.NoError(t, err, code)
		require.False(t, found, code)
	}
}

func TestLookupExpiresAtBoundary(t *testing.T) {
	store, svc := seeded(t)
	exact := fixedNow
	store.AddCoupon(db.Coupon{Code: "EDGE", DiscountPercentage: decimal.NewFromInt(10), IsActive: true, ExpiresAt: &exact})
	_, found, err := svc.Lookup(context.Background(), "EDGE")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLookupSurfacesStoreErrors(t *testing.T) {
	store, svc := seeded(t)
	store.FailOn("GetCouponByCode", errors.New("connection reset"))
	_, found, err := svc.Lookup(context.Background(), "SAVE10")
	require.Error(t, err)
	require.False(t, found)
}

func TestLookupUsesIndexForNegativeAnswers(t *testing.T) {
	store, svc := seeded(t)
	idx := coupon.NewIndex(0.0001)
	n, err := idx.Load(context.Background(), store, fixedNow)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	svc.Index = idx

	store.FailOn("GetCouponByCode", errors.New("must not be called"))
	_, found, err := svc.Lookup(context.Background(), "NOPE-NOT-A-CODE")
	require.NoError(t, err)
	require.False(t, found)

	store.FailOn("GetCouponByCode", nil)
	_, found, err = svc.Lookup(context.Background(), "save10")
	require.NoError(t, err)
	require.True(t, found)
}

func TestIndexBeforeFirstLoadAllowsEverything(t *testing.T) {
	idx := coupon.NewIndex(0)
	require.True(t, idx.MayContain("ANY"))
	idx.Rebuild([]string{"a1"})
	require.True(t, idx.MayContain("A1"))
	idx.Add("new")
	require.True(t, idx.MayContain("NEW"))
}
