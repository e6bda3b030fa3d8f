package common_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

func newIdem(t *testing.T) common.Idem {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}
}

func TestIdemReplaysStoredResponse(t *testing.T) {
	idem := newIdem(t)
	var calls int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		common.JSON(w, http.StatusCreated, map[string]string{"id": "ORD_1"})
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set(common.IdempotencyHeader, "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.JSONEq(t, `{"id":"ORD_1"}`, rec.Body.String())
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdemReleasesKeyAfterServerError(t *testing.T) {
	idem := newIdem(t)
	var calls int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "boom", nil)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set(common.IdempotencyHeader, "retry-me")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdemScopesKeysPerUser(t *testing.T) {
	idem := newIdem(t)
	var calls int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, uid := range []string{"u1", "u2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req = req.WithContext(common.WithUserID(req.Context(), uid))
		req.Header.Set(common.IdempotencyHeader, "same")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
