package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// DefaultCookie is the session cookie set by the storefront.
const DefaultCookie = "authToken"

// UserLookup loads the caller for role checks.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (db.User, error)
}

// Middleware authenticates requests from the session cookie or a bearer
// header.
type Middleware struct {
	Verifier *Verifier
	Cookie   string
	Users    UserLookup
}

// RequireAuth rejects requests without a valid token and stores the user id
// in the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil {
			common.WriteError(w, r, common.Upstream("AUTH_NOT_CONFIGURED", nil))
			return
		}
		token := m.extractToken(r)
		if token == "" {
			common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
			return
		}
		userID, err := m.Verifier.Verify(token)
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		if _, err := uuid.Parse(userID); err != nil {
			common.WriteError(w, r, common.Unauthorized("invalid session"))
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), userID)))
	})
}

// RequireRole allows only users holding one of roles. It must run after
// RequireAuth.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := common.CurrentUser(r.Context())
			if err != nil {
				common.WriteError(w, r, err)
				return
			}
			if m.Users == nil {
				common.WriteError(w, r, common.Upstream("AUTH_NOT_CONFIGURED", nil))
				return
			}
			u, err := m.Users.GetUserByID(r.Context(), userID)
			if err != nil {
				if db.IsNotFound(err) {
					common.WriteError(w, r, common.Unauthorized("unknown user"))
					return
				}
				common.WriteError(w, r, common.Upstream("ROLE_LOOKUP_FAILED", err))
				return
			}
			for _, role := range u.Roles {
				if slices.Contains(roles, strings.ToLower(strings.TrimSpace(role))) {
					next.ServeHTTP(w, r)
					return
				}
			}
			common.WriteError(w, r, common.Forbidden("insufficient role"))
		})
	}
}

func (m Middleware) extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	name := m.Cookie
	if name == "" {
		name = DefaultCookie
	}
	if cookie, err := r.Cookie(name); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
