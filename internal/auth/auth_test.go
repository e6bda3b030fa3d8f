package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/auth"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db/dbtest"
)

const secret = "test-secret-0123456789"

func newVerifier(t *testing.T, now time.Time) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(secret, auth.TokenValidator{ClockSkew: time.Second})
	require.NoError(t, err)
	v.WithNow(func() time.Time { return now })
	return v
}

func sign(t *testing.T, alg jwa.SignatureAlgorithm, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	tok, err := build(jwt.NewBuilder()).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func TestVerifyPrefersUserIDClaim(t *testing.T) {
	now := time.Now()
	v := newVerifier(t, now)

	token := sign(t, jwa.HS256, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("sub-id").Claim("userId", "claim-id").Expiration(now.Add(time.Hour))
	})
	id, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "claim-id", id)

	token = sign(t, jwa.HS256, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("sub-id").Expiration(now.Add(time.Hour))
	})
	id, err = v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "sub-id", id)
}

func TestVerifyRejects(t *testing.T) {
	now := time.Now()
	v := newVerifier(t, now)

	cases := map[string]string{
		"expired": sign(t, jwa.HS256, func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("u").Expiration(now.Add(-time.Minute))
		}),
		"wrong algorithm": sign(t, jwa.HS384, func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("u").Expiration(now.Add(time.Hour))
		}),
		"no user": sign(t, jwa.HS256, func(b *jwt.Builder) *jwt.Builder {
			return b.Expiration(now.Add(time.Hour))
		}),
		"not yet valid": sign(t, jwa.HS256, func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("u").NotBefore(now.Add(5 * time.Minute)).Expiration(now.Add(time.Hour))
		}),
		"no expiry": sign(t, jwa.HS256, func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("u").Claim("userId", "u")
		}),
		"garbage": "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			appErr, ok := common.AsAppError(err)
			require.True(t, ok)
			require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
		})
	}

	other, err := auth.NewVerifier("another-secret", auth.TokenValidator{})
	require.NoError(t, err)
	forged, err := other.Issue("u", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.Error(t, err)
}

func TestValidatorClaims(t *testing.T) {
	now := time.Now()
	tok, err := jwt.NewBuilder().Issuer("other").Audience([]string{"shop"}).
		Subject("sub-id").Claim("userId", "  ").Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)

	id, err := auth.TokenValidator{Audience: "shop"}.Validate(tok, now)
	require.NoError(t, err)
	require.Equal(t, "sub-id", id, "blank userId falls back to sub")

	_, err = auth.TokenValidator{Issuer: "accounts"}.Validate(tok, now)
	require.Error(t, err)
	_, err = auth.TokenValidator{ClockSkew: time.Second}.Validate(tok, now.Add(2*time.Minute))
	require.Error(t, err)
	_, err = auth.TokenValidator{}.Validate(nil, now)
	require.Error(t, err)
}

func TestVerifierHonoursConfiguredAlgorithm(t *testing.T) {
	now := time.Now()
	v, err := auth.NewVerifier(secret, auth.TokenValidator{Algorithm: jwa.HS512})
	require.NoError(t, err)
	v.WithNow(func() time.Time { return now })

	issued, err := v.Issue("user-1", time.Hour)
	require.NoError(t, err)
	id, err := v.Verify(issued)
	require.NoError(t, err)
	require.Equal(t, "user-1", id)

	_, err = v.Verify(sign(t, jwa.HS256, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("user-1").Expiration(now.Add(time.Hour))
	}))
	require.Error(t, err)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := auth.NewVerifier(" ", auth.TokenValidator{})
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	store := dbtest.New()
	customer := store.AddUser(0)
	admin := store.AddUser(0)
	promoted := store.Users[admin.ID]
	promoted.Roles = []string{"Admin"}
	store.Users[admin.ID] = promoted

	v := newVerifier(t, time.Now())
	mw := auth.Middleware{Verifier: v, Users: store}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := common.CurrentUser(r.Context())
		require.NoError(t, err)
		_, _ = w.Write([]byte(id.String()))
	})
	protected := mw.RequireAuth(ok)
	adminOnly := mw.RequireAuth(mw.RequireRole("admin")(ok))

	token := func(id string) string {
		tok, err := v.Issue(id, time.Hour)
		require.NoError(t, err)
		return tok
	}

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: auth.DefaultCookie, Value: token(customer.ID.String())})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, customer.ID.String(), rec.Body.String())
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token(customer.ID.String()))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("non uuid subject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token("legacy-user"))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token(customer.ID.String()))
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token(admin.ID.String()))
		rec = httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
