package security

import (
	"net/http"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

// DefaultMaxBody caps JSON request bodies. Gateway callbacks are small too.
const DefaultMaxBody int64 = 1 << 20

// BodyLimit rejects declared oversized bodies up front and caps the reader
// for chunked ones.
func BodyLimit(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = DefaultMaxBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
