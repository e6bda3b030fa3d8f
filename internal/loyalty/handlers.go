package loyalty

import (
	"errors"
	"net/http"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

// Handler serves the caller's point balance.
type Handler struct {
	Ledger Ledger
}

// Balance handles GET /users/me/points.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			common.WriteError(w, r, common.NotFound("USER_NOT_FOUND", "user not found"))
			return
		}
		common.WriteError(w, r, common.Upstream("INTERNAL", err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"scoopPoints": balance}})
}
