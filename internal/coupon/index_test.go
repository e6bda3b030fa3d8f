package coupon_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/coupon"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db/dbtest"
)

func TestIndexAnnouncementsReachOtherReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}
	store := dbtest.New()
	store.AddCoupon(db.Coupon{Code: "SAVE10", DiscountPercentage: decimal.NewFromInt(10), IsActive: true})

	writer := coupon.NewIndex(0.0001)
	writer.Bus, writer.Channel = client(), "test:coupon-index"
	reader := coupon.NewIndex(0.0001)
	reader.Bus, reader.Channel = client(), "test:coupon-index"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reader.Sync(ctx, store, time.Hour, zerolog.Nop())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return !reader.MayContain("FRESH25") }, time.Second, 5*time.Millisecond,
		"reader loads the filter")
	require.True(t, reader.MayContain("save10"))

	// created through the admin API on the writer replica
	store.AddCoupon(db.Coupon{Code: "FRESH25", DiscountPercentage: decimal.NewFromInt(25), IsActive: true})
	require.NoError(t, writer.Announce(context.Background(), " fresh25 "))
	require.True(t, writer.MayContain("FRESH25"))

	require.Eventually(t, func() bool { return reader.MayContain("FRESH25") }, time.Second, 5*time.Millisecond)
	svc := &coupon.Service{Q: store, Index: reader, Now: time.Now}
	c, found, err := svc.Lookup(context.Background(), "fresh25")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "FRESH25", c.Code)
}

func TestIndexAnnounceWithoutBusIsLocal(t *testing.T) {
	idx := coupon.NewIndex(0.0001)
	idx.Rebuild(nil)
	require.False(t, idx.MayContain("SOLO5"))
	require.NoError(t, idx.Announce(context.Background(), "solo5"))
	require.True(t, idx.MayContain("SOLO5"))
}
