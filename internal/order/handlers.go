package order

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// Handler serves the caller's order history.
type Handler struct {
	Q db.Querier
}

// OrderView is the JSON shape of an order.
type OrderView struct {
	OrderID           string          `json:"orderId"`
	Status            string          `json:"status"`
	Items             []db.CartItem   `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Discount          decimal.Decimal `json:"discount"`
	Total             decimal.Decimal `json:"total"`
	Address           db.Address      `json:"address"`
	CouponCode        *string         `json:"couponCode,omitempty"`
	PaymentMethod     string          `json:"paymentMethod"`
	TransactionID     string          `json:"transactionId"`
	ScoopPointsUsed   int64           `json:"scoopPointsUsed"`
	ScoopPointsEarned int64           `json:"scoopPointsEarned"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// View renders an order for API responses.
func View(o db.Order) OrderView {
	items := o.Items
	if items == nil {
		items = []db.CartItem{}
	}
	return OrderView{
		OrderID:           o.OrderID,
		Status:            o.Status,
		Items:             items,
		Subtotal:          o.Subtotal,
		Discount:          o.Discount,
		Total:             o.Total,
		Address:           o.Address,
		CouponCode:        o.CouponCode,
		PaymentMethod:     o.PaymentMethod,
		TransactionID:     o.TransactionID,
		ScoopPointsUsed:   o.ScoopPointsUsed,
		ScoopPointsEarned: o.ScoopPointsEarned,
		CreatedAt:         o.CreatedAt,
	}
}

// List handles GET /orders, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	page, perPage := common.ParsePagination(r, 20, 100)
	total, err := h.Q.CountOrdersForUser(r.Context(), userID)
	if err != nil {
		common.WriteError(w, r, common.Upstream("ORDER_LIST_FAILED", err))
		return
	}
	orders, err := h.Q.ListOrdersForUser(r.Context(), db.ListOrdersForUserParams{
		UserID: userID,
		Limit:  int32(perPage),
		Offset: int32(common.Offset(page, perPage)),
	})
	if err != nil {
		common.WriteError(w, r, common.Upstream("ORDER_LIST_FAILED", err))
		return
	}
	data := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		data = append(data, View(o))
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": data,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}

// Get handles GET /orders/{orderId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := common.CurrentUser(r.Context())
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		common.WriteError(w, r, common.Validation("INVALID_ORDER_ID", "order id is required", nil))
		return
	}
	o, err := h.Q.GetOrderForUser(r.Context(), db.GetOrderForUserParams{OrderID: orderID, UserID: userID})
	if err != nil {
		if db.IsNotFound(err) {
			common.WriteError(w, r, common.NotFound("ORDER_NOT_FOUND", "order not found"))
			return
		}
		common.WriteError(w, r, common.Upstream("ORDER_FETCH_FAILED", err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": View(o)})
}
