package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/payment"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/resilience"
)

func testClient(srv *httptest.Server) resilience.HTTPClient {
	return resilience.HTTPClient{
		Client:             srv.Client(),
		Breaker:            resilience.NewBreaker(10, 0.9, time.Second),
		MaxAttempts:        2,
		BaseBackoff:        time.Millisecond,
		IdempotencyHeaders: []string{"x-idempotency-key"},
	}
}

func sessionRequest() payment.SessionRequest {
	return payment.SessionRequest{
		TransactionID: "TXN_0123456789abcdef0123456789abcdef",
		TempOrderID:   "ORD_0123456789abcdef0123456789abcdef",
		Amount:        decimal.RequireFromString("686.50"),
		Customer:      payment.Customer{ID: "3f0c6c1e-0000-4000-8000-000000000001", Phone: "9000000000", Email: "a@b.in"},
		CallbackURL:   "https://api.example.in/api/v1/payments/webhooks/phonepe",
		RedirectURL:   "https://shop.example.in/checkout/status",
	}
}

func TestPhonePeCreateSessionSignsPayload(t *testing.T) {
	gw := payment.PhonePe{MerchantID: "M1", SaltKey: "salt", SaltIndex: "1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pg/v1/pay", r.URL.Path)
		var body struct {
			Request string `json:"request"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, gw.Sign(body.Request, "/pg/v1/pay"), r.Header.Get("X-VERIFY"))

		raw, err := base64.StdEncoding.DecodeString(body.Request)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(raw, &payload))
		require.Equal(t, float64(68650), payload["amount"])
		require.Equal(t, "TXN_0123456789abcdef0123456789abcdef", payload["merchantTransactionId"])

		_, _ = w.Write([]byte(`{"success":true,"code":"PAYMENT_INITIATED","data":{"instrumentResponse":{"redirectInfo":{"url":"https://mercury.phonepe.com/pay/abc"}}}}`))
	}))
	defer srv.Close()
	gw.HTTP = testClient(srv)
	gw.BaseURL = srv.URL

	session, err := gw.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	require.Equal(t, "https://mercury.phonepe.com/pay/abc", session.RedirectURL)
	require.False(t, session.Immediate)
}

func TestPhonePeCreateSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"code":"BAD_REQUEST","message":"invalid"}`))
	}))
	defer srv.Close()
	gw := payment.PhonePe{HTTP: testClient(srv), BaseURL: srv.URL, MerchantID: "M1", SaltKey: "salt", SaltIndex: "1"}

	_, err := gw.CreateSession(context.Background(), sessionRequest())
	require.ErrorIs(t, err, payment.ErrGatewayRejected)
}

func phonePeCallback(t *testing.T, gw payment.PhonePe, code string, amount int64, tamper bool) (*http.Request, []byte) {
	t.Helper()
	decoded, err := json.Marshal(map[string]any{
		"success": code == "PAYMENT_SUCCESS",
		"code":    code,
		"data": map[string]any{
			"merchantTransactionId": "TXN_1",
			"transactionId":         "T2401",
			"amount":                amount,
			"state":                 "COMPLETED",
		},
	})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(decoded)
	body, err := json.Marshal(map[string]string{"response": encoded})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/phonepe", nil)
	sig := gw.Sign(encoded, "")
	if tamper {
		sig += "0"
	}
	req.Header.Set("X-VERIFY", sig)
	return req, body
}

func TestPhonePeVerifyCallback(t *testing.T) {
	gw := payment.PhonePe{MerchantID: "M1", SaltKey: "salt", SaltIndex: "1"}

	req, body := phonePeCallback(t, gw, "PAYMENT_SUCCESS", 68650, false)
	res, err := gw.VerifyCallback(req, body)
	require.NoError(t, err)
	require.Equal(t, "TXN_1", res.TransactionID)
	require.Equal(t, payment.StatusSuccess, res.Status)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("686.50")))

	req, body = phonePeCallback(t, gw, "PAYMENT_ERROR", 68650, false)
	res, err = gw.VerifyCallback(req, body)
	require.NoError(t, err)
	require.Equal(t, payment.StatusFailed, res.Status)

	req, body = phonePeCallback(t, gw, "PAYMENT_SUCCESS", 68650, true)
	_, err = gw.VerifyCallback(req, body)
	require.ErrorIs(t, err, payment.ErrSignatureMismatch)
}

func TestPhonePeFetchStatus(t *testing.T) {
	gw := payment.PhonePe{MerchantID: "M1", SaltKey: "salt", SaltIndex: "1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pg/v1/status/M1/TXN_1", r.URL.Path)
		require.Equal(t, "M1", r.Header.Get("X-MERCHANT-ID"))
		require.Equal(t, gw.Sign("", "/pg/v1/status/M1/TXN_1"), r.Header.Get("X-VERIFY"))
		_, _ = w.Write([]byte(`{"success":false,"code":"PAYMENT_PENDING","data":{"state":"PENDING"}}`))
	}))
	defer srv.Close()
	gw.HTTP = testClient(srv)
	gw.BaseURL = srv.URL

	status, err := gw.FetchStatus(context.Background(), "TXN_1", "")
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, status)
}

func TestCashfreeCreateSessionSendsIdempotencyKey(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		require.Equal(t, "/orders", r.URL.Path)
		require.Equal(t, payment.DefaultCashfreeAPIVersion, r.Header.Get("x-api-version"))
		require.Equal(t, "cid", r.Header.Get("x-client-id"))
		require.Equal(t, "TXN_0123456789abcdef0123456789abcdef", r.Header.Get("x-idempotency-key"))
		raw, _ := io.ReadAll(r.Body)
		require.Contains(t, string(raw), `"order_amount":686.50`)
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"cf_order_id":"2149460581","order_id":"TXN_0123456789abcdef0123456789abcdef","order_status":"ACTIVE","payment_session_id":"session_abc"}`))
	}))
	defer srv.Close()
	gw := payment.Cashfree{HTTP: testClient(srv), BaseURL: srv.URL, ClientID: "cid", ClientSecret: "secret", Rate: decimal.RequireFromString("0.03")}

	session, err := gw.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	require.Equal(t, 2, attempts, "5xx is retried when the request is idempotent")
	require.Equal(t, "session_abc", session.SessionID)
	require.Equal(t, "2149460581", session.GatewayRef)
	require.True(t, gw.DiscountRate().Equal(decimal.RequireFromString("0.03")))
}

func TestCashfreeCreateSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"authentication Failed","code":"request_failed"}`))
	}))
	defer srv.Close()
	gw := payment.Cashfree{HTTP: testClient(srv), BaseURL: srv.URL}

	_, err := gw.CreateSession(context.Background(), sessionRequest())
	require.ErrorIs(t, err, payment.ErrGatewayRejected)
}

func cashfreeSign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestCashfreeVerifyCallback(t *testing.T) {
	gw := payment.Cashfree{ClientSecret: "secret"}
	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"TXN_1","order_amount":686.5},"payment":{"cf_payment_id":5114910,"payment_status":"SUCCESS"}}}`)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("x-webhook-timestamp", "1700000000")
	req.Header.Set("x-webhook-signature", cashfreeSign("secret", "1700000000", body))
	res, err := gw.VerifyCallback(req, body)
	require.NoError(t, err)
	require.Equal(t, "TXN_1", res.TransactionID)
	require.Equal(t, "5114910", res.GatewayRef)
	require.Equal(t, payment.StatusSuccess, res.Status)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("686.5")))

	req.Header.Set("x-webhook-timestamp", "1700000001")
	_, err = gw.VerifyCallback(req, body)
	require.ErrorIs(t, err, payment.ErrSignatureMismatch)
}

func TestCashfreeFetchStatus(t *testing.T) {
	statuses := map[string]payment.Status{
		"PAID":       payment.StatusSuccess,
		"ACTIVE":     payment.StatusPending,
		"EXPIRED":    payment.StatusFailed,
		"TERMINATED": payment.StatusFailed,
	}
	for remote, want := range statuses {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/orders/TXN_1", r.URL.Path)
			_, _ = w.Write([]byte(`{"order_id":"TXN_1","order_status":"` + remote + `"}`))
		}))
		gw := payment.Cashfree{HTTP: testClient(srv), BaseURL: srv.URL}
		got, err := gw.FetchStatus(context.Background(), "TXN_1", "")
		srv.Close()
		require.NoError(t, err)
		require.Equal(t, want, got, remote)
	}
}

type fakeRazorpayOrders struct {
	created map[string]interface{}
	status  string
	err     error
}

func (f *fakeRazorpayOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.created = data
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"id": "order_Nx1", "status": "created"}, nil
}

func (f *fakeRazorpayOrders) Fetch(orderID string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"id": orderID, "status": f.status}, nil
}

func TestRazorpaySession(t *testing.T) {
	orders := &fakeRazorpayOrders{status: "paid"}
	gw := payment.Razorpay{Orders: orders, KeyID: "rzp_test_1", WebhookSecret: "whsec"}

	session, err := gw.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	require.Equal(t, "order_Nx1", session.GatewayRef)
	require.Equal(t, "rzp_test_1", session.KeyID)
	require.Equal(t, int64(68650), orders.created["amount"])
	require.Equal(t, "TXN_0123456789abcdef0123456789abcdef", orders.created["receipt"])

	status, err := gw.FetchStatus(context.Background(), "TXN_1", "order_Nx1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSuccess, status)

	orders.err = errors.New("bad request")
	_, err = gw.CreateSession(context.Background(), sessionRequest())
	require.ErrorIs(t, err, payment.ErrGatewayRejected)
}

func razorpaySign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayVerifyCallback(t *testing.T) {
	gw := payment.Razorpay{WebhookSecret: "whsec"}
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_Nx1","amount":68650,"status":"captured","notes":{"transaction_id":"TXN_1"}}}}}`)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Razorpay-Signature", razorpaySign("whsec", body))
	res, err := gw.VerifyCallback(req, body)
	require.NoError(t, err)
	require.Equal(t, "TXN_1", res.TransactionID)
	require.Equal(t, "order_Nx1", res.GatewayRef)
	require.Equal(t, payment.StatusSuccess, res.Status)

	req.Header.Set("X-Razorpay-Signature", "deadbeef")
	_, err = gw.VerifyCallback(req, body)
	require.ErrorIs(t, err, payment.ErrSignatureMismatch)
}

func TestRazorpayPaymentEventsWithoutNotes(t *testing.T) {
	gw := payment.Razorpay{WebhookSecret: "whsec"}
	cases := []struct {
		event  string
		status payment.Status
	}{
		{"payment.captured", payment.StatusSuccess},
		{"payment.failed", payment.StatusFailed},
		{"payment.authorized", payment.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			body := []byte(`{"event":"` + tc.event + `","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_Nx9","amount":68650,"status":"x","notes":{}}}}}`)
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("X-Razorpay-Signature", razorpaySign("whsec", body))

			res, err := gw.VerifyCallback(req, body)
			require.NoError(t, err)
			require.Empty(t, res.TransactionID)
			require.Equal(t, "order_Nx9", res.GatewayRef)
			require.Equal(t, tc.status, res.Status)
			require.True(t, res.Amount.Equal(decimal.RequireFromString("686.5")))
		})
	}

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","notes":{}}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Razorpay-Signature", razorpaySign("whsec", body))
	_, err := gw.VerifyCallback(req, body)
	require.ErrorIs(t, err, payment.ErrMalformedCallback)
}

func TestRegistry(t *testing.T) {
	reg := payment.NewRegistry(payment.COD{}, payment.Cashfree{}, nil)
	_, ok := reg.Get(" COD ")
	require.True(t, ok)
	_, ok = reg.Get("phonepe")
	require.False(t, ok)
	require.Equal(t, []string{"cashfree", "cod"}, reg.Methods())

	session, err := payment.COD{}.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	require.True(t, session.Immediate)
}
