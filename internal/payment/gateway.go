// Package payment adapts the external payment gateways behind one contract:
// open a payment session for a transaction, verify the gateway's callback,
// and ask the gateway for a transaction's current status.
package payment

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
)

var (
	// ErrSignatureMismatch is returned when a callback fails verification.
	ErrSignatureMismatch = errors.New("payment: callback signature mismatch")
	// ErrGatewayRejected is returned when a gateway answers with a non-2xx
	// status or an explicit failure flag.
	ErrGatewayRejected = errors.New("payment: gateway rejected request")
	// ErrMalformedCallback is returned for callbacks that verify but cannot be parsed.
	ErrMalformedCallback = errors.New("payment: malformed callback")
)

// Status is the normalized state of a gateway transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Customer identifies the payer for gateways that require it.
type Customer struct {
	ID    string
	Email string
	Phone string
	Name  string
}

// SessionRequest carries everything a gateway needs to open a payment.
// TransactionID is the merchant reference and the gateway idempotency key.
type SessionRequest struct {
	TransactionID string
	TempOrderID   string
	Amount        decimal.Decimal
	Customer      Customer
	CallbackURL   string
	RedirectURL   string
}

// Session is what the client needs to continue the payment.
type Session struct {
	Provider    string `json:"provider"`
	Immediate   bool   `json:"immediate"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	GatewayRef  string `json:"gatewayOrderId,omitempty"`
	KeyID       string `json:"keyId,omitempty"`
}

// CallbackResult is a verified, normalized gateway notification.
type CallbackResult struct {
	// TransactionID may be empty when the provider only names its own
	// reference; the webhook then resolves the attempt by GatewayRef.
	TransactionID string
	GatewayRef    string
	Status        Status
	Amount        decimal.Decimal
	Payload       []byte
}

// Gateway is implemented by every payment method.
type Gateway interface {
	Name() string
	// DiscountRate is the fraction of the post-coupon, post-points amount the
	// method discounts. Zero for most gateways.
	DiscountRate() decimal.Decimal
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	VerifyCallback(r *http.Request, body []byte) (CallbackResult, error)
	FetchStatus(ctx context.Context, transactionID, gatewayRef string) (Status, error)
}

// Doer performs outbound HTTP calls. Satisfied by resilience.HTTPClient.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Registry maps payment method names to gateways.
type Registry map[string]Gateway

// NewRegistry indexes the provided gateways by name.
func NewRegistry(gateways ...Gateway) Registry {
	reg := make(Registry, len(gateways))
	for _, g := range gateways {
		if g == nil {
			continue
		}
		reg[strings.ToLower(g.Name())] = g
	}
	return reg
}

// Get returns the gateway for method, case-insensitively.
func (r Registry) Get(method string) (Gateway, bool) {
	g, ok := r[strings.ToLower(strings.TrimSpace(method))]
	return g, ok
}

// Methods lists the registered method names in order.
func (r Registry) Methods() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// paise converts rupees to the smallest currency unit.
func paise(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func fromPaise(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// instrument wraps a gateway call with a span and latency/outcome metrics.
func instrument(ctx context.Context, provider, operation string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, provider+"."+operation)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("payment.provider", provider),
		attribute.String("payment.operation", operation),
		attribute.Float64("payment.duration_ms", obs.DurationMillis(elapsed)),
		attribute.String("payment.result", result),
	)
	obs.GatewayLatency.WithLabelValues(provider, operation).Observe(obs.DurationMillis(elapsed))
	if operation == "create_session" {
		obs.GatewaySessionTotal.WithLabelValues(provider, result).Inc()
	}
	return err
}
