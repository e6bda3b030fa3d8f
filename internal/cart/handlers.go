package cart

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// Handler wires the cart service to HTTP. All routes act on the caller's cart.
type Handler struct {
	Svc *Service
}

// Routes mounts the cart endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Put("/", h.Replace)
	r.Delete("/", h.Clear)
	r.Post("/items", h.AddItem)
	r.Patch("/items/{itemId}", h.UpdateItem)
	r.Delete("/items/{itemId}", h.RemoveItem)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, err := h.Svc.Get(r.Context(), userID)
	h.respond(w, r, http.StatusOK, c, err)
}

func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var payload struct {
		Items []db.CartItem `json:"items"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, err := h.Svc.Replace(r.Context(), userID, payload.Items)
	h.respond(w, r, http.StatusOK, c, err)
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, err := h.Svc.Clear(r.Context(), userID)
	h.respond(w, r, http.StatusOK, c, err)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var item db.CartItem
	if err := common.DecodeJSON(r, &item); err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, err := h.Svc.Add(r.Context(), userID, item)
	h.respond(w, r, http.StatusCreated, c, err)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	var payload struct {
		Quantity int `json:"quantity"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, err := h.Svc.SetQuantity(r.Context(), userID, itemKey(r), payload.Quantity)
	h.respond(w, r, http.StatusOK, c, err)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	c, err := h.Svc.Remove(r.Context(), userID, itemKey(r))
	h.respond(w, r, http.StatusOK, c, err)
}

// itemKey reads the line key; a variant may also be passed as ?variant=.
func itemKey(r *http.Request) string {
	key := chi.URLParam(r, "itemId")
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	if v := r.URL.Query().Get("variant"); v != "" {
		key += ":" + v
	}
	return key
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, c Cart, err error) {
	if err != nil {
		common.WriteError(w, r, mapError(err))
		return
	}
	common.JSON(w, status, map[string]any{"data": c})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrItemNotFound):
		return common.NotFound("CART_ITEM_NOT_FOUND", "cart item not found")
	case errors.Is(err, ErrInvalidItem):
		return common.Validation("INVALID_CART_ITEM", err.Error(), err)
	case errors.Is(err, ErrCartFull):
		return common.Validation("CART_FULL", "cart is full", err)
	case db.IsNotFound(err):
		return common.NotFound("USER_NOT_FOUND", "user not found")
	case common.IsAppError(err):
		return err
	}
	return common.Upstream("CART_FAILED", err)
}
