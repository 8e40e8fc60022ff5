package adapters

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payorch/internal/lifecycle"
)

func newTestPayOS() *PayOS {
	return NewPayOS(Settings{Credentials: map[string]string{
		"client_id":    "client",
		"api_key":      "api",
		"checksum_key": "checksum",
	}})
}

const payOSPaid = `{
  "code": "00", "desc": "success", "success": true,
  "data": {
    "orderCode": 123, "amount": 3000, "description": "Order ORD-1",
    "accountNumber": "12345678", "reference": "TF230204212323",
    "transactionDateTime": "2023-02-04 18:25:00", "currency": "VND",
    "paymentLinkId": "124c33293c43417ab7879e14c8d9eb18",
    "code": "00", "desc": "Thành công"
  },
  "signature": "412e915d2871504ed31be63c8f62a149a4410d34c4c42affc9006ef9917eaa03"
}`

func TestPayOSVerifyWebhookRejectsBadChecksum(t *testing.T) {
	p := newTestPayOS()
	ctx := context.Background()

	assert.ErrorIs(t, p.VerifyWebhook(ctx, http.Header{}, []byte(payOSPaid), ""), ErrSignatureMismatch)

	unsigned := []byte(`{"code":"00","desc":"success","data":{"orderCode":123,"amount":3000}}`)
	assert.ErrorIs(t, p.VerifyWebhook(ctx, http.Header{}, unsigned, ""), ErrSignatureMismatch)

	assert.ErrorIs(t, p.VerifyWebhook(ctx, http.Header{}, []byte(`not json`), ""), ErrSignatureMismatch)
}

func TestPayOSParsePaidWebhook(t *testing.T) {
	ev, err := newTestPayOS().ParseWebhook(context.Background(), http.Header{}, []byte(payOSPaid))
	require.NoError(t, err)

	assert.Equal(t, WebhookKindPayment, ev.Kind)
	assert.Equal(t, "PAID", ev.RawStatus)
	assert.Equal(t, lifecycle.StatusCompleted, lifecycle.MustNormalize(ev.RawStatus, lifecycle.StatusPending))
	assert.Equal(t, "123", ev.MerchantTransactionID)
	assert.Equal(t, "124c33293c43417ab7879e14c8d9eb18", ev.ProviderPaymentID)
	assert.Equal(t, "TF230204212323", ev.ProviderReferenceID)
	assert.Equal(t, "VND", ev.Currency)
	assert.Empty(t, ev.FailureCode)
	require.NotNil(t, ev.AmountMinor)
	assert.EqualValues(t, 3000, *ev.AmountMinor)
}

func TestPayOSParseFailedWebhook(t *testing.T) {
	body := []byte(`{"code":"00","desc":"success","data":{"orderCode":124,"amount":3000,"code":"07","desc":"Giao dịch thất bại"}}`)

	ev, err := newTestPayOS().ParseWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)

	assert.Equal(t, "FAILED", ev.RawStatus)
	assert.Equal(t, lifecycle.StatusFailed, lifecycle.MustNormalize(ev.RawStatus, lifecycle.StatusPending))
	assert.Equal(t, "124", ev.MerchantTransactionID)
	assert.Equal(t, "07", ev.FailureCode)
	assert.Equal(t, "Giao dịch thất bại", ev.FailureMessage)
}

func TestPayOSParseMalformedWebhook(t *testing.T) {
	_, err := newTestPayOS().ParseWebhook(context.Background(), http.Header{}, []byte(`{"code":"00","data":{"amount":3000}}`))
	assert.True(t, IsWebhookError(err))
}
