package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// DefaultCashfreeAPIVersion is sent as x-api-version when none is configured.
const DefaultCashfreeAPIVersion = "2023-08-01"

// Cashfree integrates Cashfree PG orders. Paying with Cashfree earns a
// discount of Rate on the amount left after coupon and points.
type Cashfree struct {
	HTTP         Doer
	BaseURL      string
	ClientID     string
	ClientSecret string
	APIVersion   string
	Rate         decimal.Decimal
}

func (c Cashfree) Name() string                  { return db.MethodCashfree }
func (c Cashfree) DiscountRate() decimal.Decimal { return c.Rate }

type cashfreeOrderRequest struct {
	OrderID         string      `json:"order_id"`
	OrderAmount     json.Number `json:"order_amount"`
	OrderCurrency   string      `json:"order_currency"`
	CustomerDetails struct {
		CustomerID    string `json:"customer_id"`
		CustomerEmail string `json:"customer_email,omitempty"`
		CustomerPhone string `json:"customer_phone"`
		CustomerName  string `json:"customer_name,omitempty"`
	} `json:"customer_details"`
	OrderMeta struct {
		ReturnURL string `json:"return_url,omitempty"`
		NotifyURL string `json:"notify_url,omitempty"`
	} `json:"order_meta"`
	OrderNote string `json:"order_note,omitempty"`
}

type cashfreeOrder struct {
	CFOrderID        json.RawMessage `json:"cf_order_id"`
	OrderID          string          `json:"order_id"`
	OrderStatus      string          `json:"order_status"`
	PaymentSessionID string          `json:"payment_session_id"`
	Message          string          `json:"message"`
	Code             string          `json:"code"`
}

func (c Cashfree) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	payload := cashfreeOrderRequest{
		OrderID:       req.TransactionID,
		OrderAmount:   json.Number(req.Amount.StringFixed(2)),
		OrderCurrency: "INR",
		OrderNote:     req.TempOrderID,
	}
	payload.CustomerDetails.CustomerID = sanitizeMerchantUser(req.Customer.ID)
	payload.CustomerDetails.CustomerEmail = req.Customer.Email
	payload.CustomerDetails.CustomerPhone = req.Customer.Phone
	payload.CustomerDetails.CustomerName = req.Customer.Name
	payload.OrderMeta.ReturnURL = req.RedirectURL
	payload.OrderMeta.NotifyURL = req.CallbackURL
	body, err := json.Marshal(payload)
	if err != nil {
		return Session{}, err
	}

	var order cashfreeOrder
	err = instrument(ctx, c.Name(), "create_session", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/orders", bytes.NewReader(body))
		if err != nil {
			return err
		}
		c.headers(httpReq)
		httpReq.Header.Set("x-idempotency-key", req.TransactionID)
		return c.do(ctx, httpReq, &order)
	})
	if err != nil {
		return Session{}, err
	}
	if order.PaymentSessionID == "" {
		return Session{}, fmt.Errorf("%w: cashfree returned no payment session", ErrGatewayRejected)
	}
	return Session{
		Provider:   c.Name(),
		SessionID:  order.PaymentSessionID,
		GatewayRef: strings.Trim(string(order.CFOrderID), `"`),
	}, nil
}

type cashfreeWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID     string          `json:"order_id"`
			OrderAmount decimal.Decimal `json:"order_amount"`
		} `json:"order"`
		Payment struct {
			CFPaymentID   json.RawMessage `json:"cf_payment_id"`
			PaymentStatus string          `json:"payment_status"`
		} `json:"payment"`
	} `json:"data"`
}

// VerifyCallback checks x-webhook-signature, the base64 HMAC-SHA256 of the
// x-webhook-timestamp header followed by the raw body.
func (c Cashfree) VerifyCallback(r *http.Request, body []byte) (CallbackResult, error) {
	ts := strings.TrimSpace(r.Header.Get("x-webhook-timestamp"))
	provided := strings.TrimSpace(r.Header.Get("x-webhook-signature"))
	if c.ClientSecret == "" || ts == "" || provided == "" {
		return CallbackResult{}, ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(c.ClientSecret))
	mac.Write([]byte(ts))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return CallbackResult{}, ErrSignatureMismatch
	}
	var hook cashfreeWebhook
	if err := json.Unmarshal(body, &hook); err != nil || hook.Data.Order.OrderID == "" {
		return CallbackResult{}, ErrMalformedCallback
	}
	status := StatusPending
	switch strings.ToUpper(hook.Data.Payment.PaymentStatus) {
	case "SUCCESS":
		status = StatusSuccess
	case "FAILED", "USER_DROPPED", "CANCELLED", "VOID":
		status = StatusFailed
	}
	return CallbackResult{
		TransactionID: hook.Data.Order.OrderID,
		GatewayRef:    strings.Trim(string(hook.Data.Payment.CFPaymentID), `"`),
		Status:        status,
		Amount:        hook.Data.Order.OrderAmount,
		Payload:       body,
	}, nil
}

// FetchStatus calls GET /orders/{order_id}; the order id is our transaction id.
func (c Cashfree) FetchStatus(ctx context.Context, transactionID, _ string) (Status, error) {
	var order cashfreeOrder
	err := instrument(ctx, c.Name(), "fetch_status", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/orders/"+url.PathEscape(transactionID), nil)
		if err != nil {
			return err
		}
		c.headers(httpReq)
		return c.do(ctx, httpReq, &order)
	})
	if err != nil {
		return StatusPending, err
	}
	switch strings.ToUpper(order.OrderStatus) {
	case "PAID":
		return StatusSuccess, nil
	case "EXPIRED", "TERMINATED", "TERMINATION_REQUESTED":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

func (c Cashfree) headers(req *http.Request) {
	version := c.APIVersion
	if version == "" {
		version = DefaultCashfreeAPIVersion
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-version", version)
	req.Header.Set("x-client-id", c.ClientID)
	req.Header.Set("x-client-secret", c.ClientSecret)
}

func (c Cashfree) do(ctx context.Context, req *http.Request, out *cashfreeOrder) error {
	if c.HTTP == nil {
		return errors.New("payment: cashfree http client not configured")
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure cashfreeOrder
		_ = json.Unmarshal(data, &failure)
		return fmt.Errorf("%w: cashfree http %d %s", ErrGatewayRejected, resp.StatusCode, failure.Code)
	}
	return json.Unmarshal(data, out)
}
