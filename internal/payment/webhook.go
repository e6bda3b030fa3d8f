package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
)

// Settler applies verified gateway outcomes. Implemented by order.Finalizer.
type Settler interface {
	Complete(ctx context.Context, transactionID string, payload []byte) (db.Order, error)
	Fail(ctx context.Context, transactionID, reason string, payload []byte) error
}

// TransactionReader loads payment transactions.
type TransactionReader interface {
	GetPaymentTransaction(ctx context.Context, transactionID string) (db.PaymentTransaction, error)
	GetPaymentTransactionByGatewayRef(ctx context.Context, provider, gatewayRef string) (db.PaymentTransaction, error)
}

// Webhook handles payment provider callbacks.
type Webhook struct {
	Gateways  Registry
	Txns      TransactionReader
	Settler   Settler
	Replay    *redis.Client
	ReplayTTL time.Duration
	MaxBody   int64
}

// Handle serves POST /payments/webhooks/{provider}.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	gateway, ok := h.Gateways.Get(providerKey)
	if !ok || providerKey == db.MethodCOD {
		common.WriteError(w, r, common.NotFound("PROVIDER_NOT_SUPPORTED", "unknown provider"))
		return
	}
	limit := h.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		common.WriteError(w, r, common.Validation("INVALID_BODY", "unable to read payload", err))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	result, err := gateway.VerifyCallback(r, body)
	if err != nil {
		h.count(providerKey, "rejected")
		if errors.Is(err, ErrSignatureMismatch) {
			common.WriteError(w, r, common.SignatureMismatch(err))
			return
		}
		common.WriteError(w, r, common.Validation("WEBHOOK_INVALID", "unable to parse callback", err))
		return
	}

	ctx := r.Context()
	replayKey := ""
	if h.Replay != nil {
		ttl := h.ReplayTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		replayKey = fmt.Sprintf("wh:%s:%s", providerKey, common.Fingerprint(string(body)))
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", ttl).Result()
		if err != nil {
			common.WriteError(w, r, common.Upstream("REPLAY_STORE_ERROR", err))
			return
		}
		if !fresh {
			h.count(providerKey, "duplicate")
			common.JSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
	}
	// a failed settle must stay retryable by the gateway
	release := func() {
		if replayKey != "" {
			_ = h.Replay.Del(context.WithoutCancel(ctx), replayKey).Err()
		}
	}

	txn, err := h.lookup(ctx, gateway.Name(), result)
	if err != nil {
		release()
		if db.IsNotFound(err) {
			h.count(providerKey, "unknown")
			common.WriteError(w, r, common.NotFound("TRANSACTION_NOT_FOUND", "unknown transaction"))
			return
		}
		common.WriteError(w, r, common.Upstream("TRANSACTION_LOOKUP_FAILED", err))
		return
	}
	if txn.Provider != gateway.Name() {
		h.count(providerKey, "rejected")
		common.WriteError(w, r, common.Validation("PROVIDER_MISMATCH", "transaction belongs to another provider", nil))
		return
	}
	if !result.Amount.IsZero() && !result.Amount.Equal(txn.Amount) {
		h.count(providerKey, "amount_mismatch")
		common.WriteError(w, r, common.Validation("AMOUNT_MISMATCH", "provider amount mismatch", nil))
		return
	}

	switch result.Status {
	case StatusSuccess:
		placed, err := h.Settler.Complete(ctx, txn.TransactionID, result.Payload)
		if err != nil {
			if errors.Is(err, order.ErrLateSuccess) {
				h.count(providerKey, "late_success")
				common.JSON(w, http.StatusOK, map[string]any{"status": "refund_required"})
				return
			}
			release()
			h.count(providerKey, "error")
			common.WriteError(w, r, common.Upstream("FINALIZE_FAILED", err))
			return
		}
		h.count(providerKey, "success")
		common.JSON(w, http.StatusOK, map[string]any{"status": "success", "orderId": placed.OrderID})
	case StatusFailed:
		if err := h.Settler.Fail(ctx, txn.TransactionID, "gateway_failed", result.Payload); err != nil {
			if errors.Is(err, order.ErrAlreadyPaid) {
				h.count(providerKey, "ignored")
				common.JSON(w, http.StatusOK, map[string]any{"status": "already_paid"})
				return
			}
			release()
			h.count(providerKey, "error")
			common.WriteError(w, r, common.Upstream("FINALIZE_FAILED", err))
			return
		}
		h.count(providerKey, "failed")
		common.JSON(w, http.StatusOK, map[string]any{"status": "failed"})
	default:
		// pending notifications carry no state change; let later ones through
		release()
		h.count(providerKey, "pending")
		common.JSON(w, http.StatusAccepted, map[string]any{"status": "pending"})
	}
}

func (h Webhook) lookup(ctx context.Context, provider string, result CallbackResult) (db.PaymentTransaction, error) {
	if result.TransactionID != "" {
		return h.Txns.GetPaymentTransaction(ctx, result.TransactionID)
	}
	if result.GatewayRef == "" {
		return db.PaymentTransaction{}, db.ErrNotFound
	}
	return h.Txns.GetPaymentTransactionByGatewayRef(ctx, provider, result.GatewayRef)
}

func (h Webhook) count(provider, result string) {
	obs.PaymentCallbackTotal.WithLabelValues(provider, result).Inc()
}
