package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

const phonePePayPath = "/pg/v1/pay"

// PhonePe integrates the PhonePe PG pay page. Requests and callbacks are
// signed with SHA-256 over the payload, API path and salt key, suffixed with
// "###" and the salt index.
type PhonePe struct {
	HTTP       Doer
	BaseURL    string
	MerchantID string
	SaltKey    string
	SaltIndex  string
}

func (p PhonePe) Name() string                  { return db.MethodPhonePe }
func (p PhonePe) DiscountRate() decimal.Decimal { return decimal.Zero }

type phonePePayRequest struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	MerchantUserID        string `json:"merchantUserId"`
	Amount                int64  `json:"amount"`
	RedirectURL           string `json:"redirectUrl"`
	RedirectMode          string `json:"redirectMode"`
	CallbackURL           string `json:"callbackUrl"`
	MobileNumber          string `json:"mobileNumber,omitempty"`
	PaymentInstrument     struct {
		Type string `json:"type"`
	} `json:"paymentInstrument"`
}

type phonePeResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
		InstrumentResponse    struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// Sign computes the X-VERIFY header for data signed together with path.
func (p PhonePe) Sign(data, path string) string {
	sum := sha256.Sum256([]byte(data + path + p.SaltKey))
	return hex.EncodeToString(sum[:]) + "###" + p.SaltIndex
}

func (p PhonePe) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	payload := phonePePayRequest{
		MerchantID:            p.MerchantID,
		MerchantTransactionID: req.TransactionID,
		MerchantUserID:        sanitizeMerchantUser(req.Customer.ID),
		Amount:                paise(req.Amount),
		RedirectURL:           req.RedirectURL,
		RedirectMode:          "POST",
		CallbackURL:           req.CallbackURL,
		MobileNumber:          req.Customer.Phone,
	}
	payload.PaymentInstrument.Type = "PAY_PAGE"
	raw, err := json.Marshal(payload)
	if err != nil {
		return Session{}, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return Session{}, err
	}

	var resp phonePeResponse
	err = instrument(ctx, p.Name(), "create_session", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+phonePePayPath, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-VERIFY", p.Sign(encoded, phonePePayPath))
		return p.do(ctx, httpReq, &resp)
	})
	if err != nil {
		return Session{}, err
	}
	if !resp.Success || resp.Data.InstrumentResponse.RedirectInfo.URL == "" {
		return Session{}, fmt.Errorf("%w: phonepe %s", ErrGatewayRejected, resp.Code)
	}
	return Session{
		Provider:    p.Name(),
		RedirectURL: resp.Data.InstrumentResponse.RedirectInfo.URL,
		GatewayRef:  req.TransactionID,
	}, nil
}

// VerifyCallback checks the server-to-server callback. The body is
// {"response": "<base64 json>"} and X-VERIFY signs the encoded response.
func (p PhonePe) VerifyCallback(r *http.Request, body []byte) (CallbackResult, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Response == "" {
		return CallbackResult{}, ErrMalformedCallback
	}
	expected := p.Sign(envelope.Response, "")
	provided := strings.TrimSpace(r.Header.Get("X-VERIFY"))
	if p.SaltKey == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return CallbackResult{}, ErrSignatureMismatch
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope.Response)
	if err != nil {
		return CallbackResult{}, ErrMalformedCallback
	}
	var resp phonePeResponse
	if err := json.Unmarshal(decoded, &resp); err != nil {
		return CallbackResult{}, ErrMalformedCallback
	}
	if resp.Data.MerchantTransactionID == "" {
		return CallbackResult{}, ErrMalformedCallback
	}
	return CallbackResult{
		TransactionID: resp.Data.MerchantTransactionID,
		GatewayRef:    resp.Data.TransactionID,
		Status:        phonePeStatus(resp),
		Amount:        fromPaise(resp.Data.Amount),
		Payload:       decoded,
	}, nil
}

// FetchStatus calls GET /pg/v1/status/{merchantId}/{transactionId}.
func (p PhonePe) FetchStatus(ctx context.Context, transactionID, _ string) (Status, error) {
	path := fmt.Sprintf("/pg/v1/status/%s/%s", p.MerchantID, transactionID)
	var resp phonePeResponse
	err := instrument(ctx, p.Name(), "fetch_status", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+path, nil)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-VERIFY", p.Sign("", path))
		httpReq.Header.Set("X-MERCHANT-ID", p.MerchantID)
		return p.do(ctx, httpReq, &resp)
	})
	if err != nil {
		return StatusPending, err
	}
	return phonePeStatus(resp), nil
}

func (p PhonePe) do(ctx context.Context, req *http.Request, out *phonePeResponse) error {
	if p.HTTP == nil {
		return errors.New("payment: phonepe http client not configured")
	}
	resp, err := p.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	// PhonePe answers failed payments with 4xx and a JSON body.
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("%w: phonepe http %d", ErrGatewayRejected, resp.StatusCode)
		}
		return err
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: phonepe http %d", ErrGatewayRejected, resp.StatusCode)
	}
	return nil
}

func phonePeStatus(resp phonePeResponse) Status {
	switch {
	case resp.Code == "PAYMENT_SUCCESS", resp.Data.ResponseCode == "SUCCESS":
		return StatusSuccess
	case resp.Code == "PAYMENT_PENDING", resp.Code == "INTERNAL_SERVER_ERROR", resp.Data.State == "PENDING":
		return StatusPending
	default:
		return StatusFailed
	}
}

// PhonePe accepts alphanumerics, underscore and hyphen up to 36 chars.
func sanitizeMerchantUser(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 36 {
		out = out[:36]
	}
	if out == "" {
		out = "guest"
	}
	return out
}
