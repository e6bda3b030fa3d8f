package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

// CSRF enforces double-submit tokens for requests authenticated by the
// session cookie. Bearer requests and exempt prefixes pass through.
type CSRF struct {
	SessionCookie string
	Header        string
	Exempt        []string
}

func (c CSRF) Middleware(next http.Handler) http.Handler {
	header := strings.TrimSpace(c.Header)
	if header == "" {
		header = "X-CSRF-Token"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) || c.exempt(r.URL.Path) || !c.cookieSession(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(r.Header.Get(header))
		cookie, err := r.Cookie(header)
		if token == "" || err != nil || cookie.Value == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_REQUIRED", "missing csrf token", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, "CSRF_MISMATCH", "invalid csrf token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c CSRF) cookieSession(r *http.Request) bool {
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ") {
		return false
	}
	name := c.SessionCookie
	if name == "" {
		name = "authToken"
	}
	_, err := r.Cookie(name)
	return err == nil
}

func (c CSRF) exempt(path string) bool {
	for _, prefix := range c.Exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
