package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPhonePe(withCallbackAuth bool) *PhonePe {
	creds := map[string]string{
		"merchant_id": "MERCHANTUAT",
		"salt_key":    "salt-key",
		"salt_index":  "1",
	}
	if withCallbackAuth {
		creds["callback_username"] = "hook"
		creds["callback_password"] = "s3cret"
	}
	return NewPhonePe(Settings{Environment: "sandbox", Credentials: creds})
}

func phonePeCallback(t *testing.T, inner string) ([]byte, string) {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString([]byte(inner))
	sum := sha256.Sum256([]byte(encoded + "salt-key"))
	return []byte(`{"response":"` + encoded + `"}`), hex.EncodeToString(sum[:]) + "###1"
}

const phonePeSuccess = `{"success":true,"code":"PAYMENT_SUCCESS","message":"Your payment is successful.",
 "data":{"merchantId":"MERCHANTUAT","merchantTransactionId":"170000000000002","transactionId":"T2401",
 "amount":10000,"state":"COMPLETED","responseCode":"SUCCESS",
 "paymentInstrument":{"type":"UPI","utr":"406512345678","vpa":"jane@ybl"}}}`

func TestPhonePeVerifyWebhookChecksum(t *testing.T) {
	pp := newTestPhonePe(false)
	body, sig := phonePeCallback(t, phonePeSuccess)

	assert.NoError(t, pp.VerifyWebhook(context.Background(), http.Header{}, body, sig))
	assert.ErrorIs(t, pp.VerifyWebhook(context.Background(), http.Header{}, body, "deadbeef###1"), ErrSignatureMismatch)
	assert.ErrorIs(t, pp.VerifyWebhook(context.Background(), http.Header{}, body, ""), ErrSignatureMismatch)
}

func TestPhonePeVerifyWebhookAuthorization(t *testing.T) {
	pp := newTestPhonePe(true)
	body, sig := phonePeCallback(t, phonePeSuccess)

	good := http.Header{}
	good.Set("Authorization", pp.callbackAuthorization())
	assert.NoError(t, pp.VerifyWebhook(context.Background(), good, body, ""))

	bad := http.Header{}
	bad.Set("Authorization", "not-the-credential")
	assert.ErrorIs(t, pp.VerifyWebhook(context.Background(), bad, body, sig), ErrWebhookUnauthorized)

	// No Authorization header falls back to the checksum.
	assert.NoError(t, pp.VerifyWebhook(context.Background(), http.Header{}, body, sig))
	assert.ErrorIs(t, pp.VerifyWebhook(context.Background(), http.Header{}, body, ""), ErrSignatureMismatch)
}

func TestPhonePeParseWebhook(t *testing.T) {
	pp := newTestPhonePe(false)
	body, _ := phonePeCallback(t, phonePeSuccess)

	ev, err := pp.ParseWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookKindPayment, ev.Kind)
	assert.Equal(t, "PAYMENT_SUCCESS", ev.RawStatus)
	assert.Equal(t, "170000000000002", ev.MerchantTransactionID)
	assert.Equal(t, "T2401", ev.ProviderTransactionID)
	assert.Equal(t, "406512345678", ev.ProviderReferenceID)
	assert.Equal(t, "jane@ybl", ev.PayerHandle)
	require.NotNil(t, ev.AmountMinor)
	assert.EqualValues(t, 10000, *ev.AmountMinor)
}

func TestPhonePeParseRefundWebhook(t *testing.T) {
	pp := newTestPhonePe(false)
	body, _ := phonePeCallback(t, `{"success":true,"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"RF-1","originalTransactionId":"170000000000002","transactionId":"TR9","amount":500}}`)

	ev, err := pp.ParseWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookKindRefund, ev.Kind)
	assert.Equal(t, "RF-1", ev.MerchantRefundID)
	assert.Equal(t, "TR9", ev.ProviderRefundID)
	assert.Equal(t, "170000000000002", ev.MerchantTransactionID)
}

func TestPhonePeParseMalformedWebhook(t *testing.T) {
	pp := newTestPhonePe(false)

	_, err := pp.ParseWebhook(context.Background(), http.Header{}, []byte(`{"response":"%%%not-base64"}`))
	assert.True(t, IsWebhookError(err))

	body, _ := phonePeCallback(t, `{"success":true,"data":{"merchantTransactionId":"X"}}`)
	_, err = pp.ParseWebhook(context.Background(), http.Header{}, body)
	assert.True(t, IsWebhookError(err))
}
