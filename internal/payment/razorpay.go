package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/resilience"
)

// RazorpayOrders is the part of the razorpay-go order resource we call.
type RazorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay integrates Razorpay Checkout. CreateSession opens a Razorpay
// order; the client completes payment with Checkout.js using KeyID.
type Razorpay struct {
	Orders        RazorpayOrders
	KeyID         string
	WebhookSecret string
	Breaker       *resilience.Breaker
}

// NewRazorpay builds the gateway on top of the official client.
func NewRazorpay(keyID, keySecret, webhookSecret string, breaker *resilience.Breaker) Razorpay {
	client := razorpay.NewClient(keyID, keySecret)
	return Razorpay{Orders: client.Order, KeyID: keyID, WebhookSecret: webhookSecret, Breaker: breaker}
}

func (z Razorpay) Name() string                  { return db.MethodRazorpay }
func (z Razorpay) DiscountRate() decimal.Decimal { return decimal.Zero }

func (z Razorpay) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	var created map[string]interface{}
	err := instrument(ctx, z.Name(), "create_session", func(ctx context.Context) error {
		return z.guard(ctx, func() error {
			var err error
			created, err = z.Orders.Create(map[string]interface{}{
				"amount":   paise(req.Amount),
				"currency": "INR",
				"receipt":  req.TransactionID,
				"notes": map[string]interface{}{
					"transaction_id": req.TransactionID,
					"temp_order_id":  req.TempOrderID,
				},
			}, nil)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpenCircuit) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: razorpay: %v", ErrGatewayRejected, err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		return Session{}, fmt.Errorf("%w: razorpay returned no order id", ErrGatewayRejected)
	}
	return Session{Provider: z.Name(), SessionID: id, GatewayRef: id, KeyID: z.KeyID}, nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Amount  int64             `json:"amount"`
				Status  string            `json:"status"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID      string `json:"id"`
				Receipt string `json:"receipt"`
				Amount  int64  `json:"amount"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// VerifyCallback checks X-Razorpay-Signature, the hex HMAC-SHA256 of the raw
// body under the webhook secret.
func (z Razorpay) VerifyCallback(r *http.Request, body []byte) (CallbackResult, error) {
	signature := strings.TrimSpace(r.Header.Get("X-Razorpay-Signature"))
	if z.WebhookSecret == "" || signature == "" || !utils.VerifyWebhookSignature(string(body), signature, z.WebhookSecret) {
		return CallbackResult{}, ErrSignatureMismatch
	}
	var hook razorpayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return CallbackResult{}, ErrMalformedCallback
	}
	payment := hook.Payload.Payment.Entity
	order := hook.Payload.Order.Entity
	// payment.* events carry only the payment entity; order notes are not
	// copied onto it, so the Razorpay order id is the usual key.
	txnID := payment.Notes["transaction_id"]
	if txnID == "" {
		txnID = order.Receipt
	}
	ref := payment.OrderID
	if ref == "" {
		ref = order.ID
	}
	if txnID == "" && ref == "" {
		return CallbackResult{}, ErrMalformedCallback
	}
	amount := payment.Amount
	if amount == 0 {
		amount = order.Amount
	}
	status := StatusPending
	switch hook.Event {
	case "payment.captured", "order.paid":
		status = StatusSuccess
	case "payment.failed":
		status = StatusFailed
	}
	return CallbackResult{
		TransactionID: txnID,
		GatewayRef:    ref,
		Status:        status,
		Amount:        fromPaise(amount),
		Payload:       body,
	}, nil
}

// FetchStatus reads the Razorpay order. Razorpay orders never expire on
// their own, so anything but "paid" stays pending until the sweep gives up.
func (z Razorpay) FetchStatus(ctx context.Context, _ string, gatewayRef string) (Status, error) {
	if gatewayRef == "" {
		return StatusFailed, nil
	}
	var fetched map[string]interface{}
	err := instrument(ctx, z.Name(), "fetch_status", func(ctx context.Context) error {
		return z.guard(ctx, func() error {
			var err error
			fetched, err = z.Orders.Fetch(gatewayRef, nil, nil)
			return err
		})
	})
	if err != nil {
		return StatusPending, err
	}
	if status, _ := fetched["status"].(string); status == "paid" {
		return StatusSuccess, nil
	}
	return StatusPending, nil
}

func (z Razorpay) guard(ctx context.Context, fn func() error) error {
	if z.Orders == nil {
		return errors.New("payment: razorpay client not configured")
	}
	if z.Breaker == nil {
		return fn()
	}
	if !z.Breaker.Allow(ctx) {
		return resilience.ErrOpenCircuit
	}
	err := fn()
	z.Breaker.Report(ctx, err == nil)
	return err
}
