package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestRazorpay(baseURL string) *Razorpay {
	return NewRazorpay(Settings{Credentials: map[string]string{
		"key_id":         "rzp_test_key",
		"key_secret":     "rzp_test_secret",
		"webhook_secret": "whsec",
		"base_url":       baseURL,
	}})
}

const capturedWebhook = `{
  "event": "payment.captured",
  "payload": {
    "payment": {"entity": {
      "id": "pay_123", "order_id": "order_abc", "status": "captured",
      "amount": 10000, "currency": "INR", "method": "upi", "vpa": "john@okaxis",
      "acquirer_data": {"rrn": "123456789012"},
      "notes": {"order_id": "ORD-1", "merchant_transaction_id": "170000000000001"}
    }}
  }
}`

func TestRazorpayVerifyWebhook(t *testing.T) {
	rp := newTestRazorpay("")
	body := []byte(capturedWebhook)

	assert.NoError(t, rp.VerifyWebhook(context.Background(), http.Header{}, body, sign("whsec", body)))
	assert.ErrorIs(t, rp.VerifyWebhook(context.Background(), http.Header{}, body, sign("other", body)), ErrSignatureMismatch)
	assert.ErrorIs(t, rp.VerifyWebhook(context.Background(), http.Header{}, body, ""), ErrSignatureMismatch)

	tampered := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"amount":1}}}}`)
	assert.ErrorIs(t, rp.VerifyWebhook(context.Background(), http.Header{}, tampered, sign("whsec", body)), ErrSignatureMismatch)
}

func TestRazorpayParsePaymentWebhook(t *testing.T) {
	rp := newTestRazorpay("")
	headers := http.Header{}
	headers.Set("X-Razorpay-Event-Id", "evt_1")

	ev, err := rp.ParseWebhook(context.Background(), headers, []byte(capturedWebhook))
	require.NoError(t, err)

	assert.Equal(t, WebhookKindPayment, ev.Kind)
	assert.Equal(t, "payment.captured", ev.EventType)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, "captured", ev.RawStatus)
	assert.Equal(t, "order_abc", ev.ProviderPaymentID)
	assert.Equal(t, "pay_123", ev.ProviderTransactionID)
	assert.Equal(t, "170000000000001", ev.MerchantTransactionID)
	assert.Equal(t, "ORD-1", ev.OrderID)
	assert.Equal(t, "123456789012", ev.ProviderReferenceID)
	assert.Equal(t, "john@okaxis", ev.PayerHandle)
	require.NotNil(t, ev.AmountMinor)
	assert.EqualValues(t, 10000, *ev.AmountMinor)
}

func TestRazorpayParseRefundWebhook(t *testing.T) {
	rp := newTestRazorpay("")
	body := []byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_123","amount":2500,"currency":"INR","status":"processed","receipt":"R-1"}}}}`)

	ev, err := rp.ParseWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookKindRefund, ev.Kind)
	assert.Equal(t, "rfnd_1", ev.ProviderRefundID)
	assert.Equal(t, "R-1", ev.MerchantRefundID)
	assert.Equal(t, "pay_123", ev.ProviderTransactionID)
	assert.Equal(t, "processed", ev.RawStatus)
}

func TestRazorpayParseMalformedWebhook(t *testing.T) {
	rp := newTestRazorpay("")

	_, err := rp.ParseWebhook(context.Background(), http.Header{}, []byte(`{"payload":{}}`))
	assert.True(t, IsWebhookError(err))

	_, err = rp.ParseWebhook(context.Background(), http.Header{}, []byte(`{"event":"payment.captured","payload":{}}`))
	assert.True(t, IsWebhookError(err))
}

func TestRazorpayVerifyPaymentPrefersCapturedAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "rzp_test_secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/orders/order_abc/payments", r.URL.Path)
		_, _ = w.Write([]byte(`{"entity":"collection","count":2,"items":[
			{"id":"pay_2","order_id":"order_abc","status":"failed","amount":10000,"error_code":"BAD_REQUEST_ERROR"},
			{"id":"pay_1","order_id":"order_abc","status":"captured","amount":10000,"method":"upi"}
		]}`))
	}))
	defer srv.Close()

	res, err := newTestRazorpay(srv.URL).VerifyPayment(context.Background(), VerifyPaymentRequest{ProviderPaymentID: "order_abc"})
	require.NoError(t, err)
	assert.Equal(t, "captured", res.RawStatus)
	assert.Equal(t, "pay_1", res.ProviderTransactionID)
	require.NotNil(t, res.CapturedAmountMinor)
	assert.EqualValues(t, 10000, *res.CapturedAmountMinor)
}

func TestRazorpayServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestRazorpay(srv.URL).CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID: "ORD-1", MerchantTransactionID: "1", AmountMinor: 100, Currency: "INR",
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestRazorpayClientErrorIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too low"}}`))
	}))
	defer srv.Close()

	_, err := newTestRazorpay(srv.URL).CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID: "ORD-1", MerchantTransactionID: "1", AmountMinor: 1, Currency: "INR",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "BAD_REQUEST_ERROR", perr.Code)
	assert.Equal(t, "amount too low", perr.Message)
}
