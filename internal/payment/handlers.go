package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
)

// StatusQuerier is the store surface of the status endpoint.
type StatusQuerier interface {
	GetPaymentTransactionByOrder(ctx context.Context, orderID string) (db.PaymentTransaction, error)
	GetOrderByOrderID(ctx context.Context, orderID string) (db.Order, error)
}

// StatusHandler serves payment status polling for the client's return page.
type StatusHandler struct {
	Q        StatusQuerier
	Gateways Registry
	Settler  Settler
	// Refresh asks the gateway directly while the transaction is pending.
	Refresh bool
	// RefreshTimeout bounds the gateway call.
	RefreshTimeout time.Duration
}

type statusView struct {
	OrderID       string           `json:"orderId"`
	TransactionID string           `json:"transactionId"`
	Provider      string           `json:"provider"`
	Status        string           `json:"status"`
	State         order.State      `json:"state"`
	Amount        decimal.Decimal  `json:"amount"`
	Order         *order.OrderView `json:"order,omitempty"`
}

// Status handles GET /payments/{orderId}/status.
func (h StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
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
	ctx := r.Context()
	txn, err := h.Q.GetPaymentTransactionByOrder(ctx, orderID)
	if err != nil || txn.UserID != userID {
		if err == nil || db.IsNotFound(err) {
			common.WriteError(w, r, common.NotFound("ORDER_NOT_FOUND", "order not found"))
			return
		}
		common.WriteError(w, r, common.Upstream("STATUS_FAILED", err))
		return
	}

	if txn.Status == db.TxnStatusPending && h.Refresh {
		txn = h.refresh(ctx, txn)
	}

	view := statusView{
		OrderID:       txn.OrderID,
		TransactionID: txn.TransactionID,
		Provider:      txn.Provider,
		Status:        txn.Status,
		State:         order.StateOf(txn),
		Amount:        txn.Amount,
	}
	if txn.Status == db.TxnStatusSuccess {
		if o, err := h.Q.GetOrderByOrderID(ctx, txn.OrderID); err == nil {
			v := order.View(o)
			view.Order = &v
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// refresh settles the transaction from the gateway's view when it is final.
// Errors leave the transaction pending for the sweep.
func (h StatusHandler) refresh(ctx context.Context, txn db.PaymentTransaction) db.PaymentTransaction {
	gateway, ok := h.Gateways.Get(txn.Provider)
	if !ok || txn.Provider == db.MethodCOD || h.Settler == nil {
		return txn
	}
	timeout := h.RefreshTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ref := ""
	if txn.GatewayRef != nil {
		ref = *txn.GatewayRef
	}
	status, err := gateway.FetchStatus(callCtx, txn.TransactionID, ref)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("transaction_id", txn.TransactionID).Str("provider", txn.Provider).Msg("payment status refresh failed")
		return txn
	}
	switch status {
	case StatusSuccess:
		if _, err := h.Settler.Complete(ctx, txn.TransactionID, nil); err == nil {
			txn.Status = db.TxnStatusSuccess
		} else if !errors.Is(err, order.ErrLateSuccess) {
			zerolog.Ctx(ctx).Error().Err(err).Str("transaction_id", txn.TransactionID).Msg("finalize on status refresh")
		}
	case StatusFailed:
		if err := h.Settler.Fail(ctx, txn.TransactionID, "gateway_failed", nil); err == nil {
			txn.Status = db.TxnStatusFailed
		}
	}
	return txn
}
