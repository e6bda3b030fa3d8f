package checkout

import (
	"net/http"
	"strings"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc *Service
}

// Checkout handles POST /checkout. The Idempotency-Key header, when present,
// doubles as the attempt key so retries never stage a second order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	req.AttemptKey = strings.TrimSpace(r.Header.Get(common.IdempotencyHeader))
	res, err := h.Svc.Checkout(r.Context(), userID, req)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{"data": res})
}

// Quote handles POST /checkout/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	quote, err := h.Svc.Quote(r.Context(), userID, req)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}
