package adapters

import (
	"context"
	"fmt"
	"net/http"
)

// Unsupported stands in for a provider name nobody registered.
type Unsupported struct {
	Name string
}

func (u Unsupported) err() error {
	return fmt.Errorf("%w: %q", ErrUnsupportedProvider, u.Name)
}

func (u Unsupported) Provider() string        { return u.Name }
func (u Unsupported) SignatureHeader() string { return "" }

func (u Unsupported) CreatePayment(context.Context, CreatePaymentRequest) (*CreatePaymentResult, error) {
	return nil, u.err()
}

func (u Unsupported) VerifyPayment(context.Context, VerifyPaymentRequest) (*PaymentStatusResult, error) {
	return nil, u.err()
}

func (u Unsupported) CreateRefund(context.Context, CreateRefundRequest) (*RefundResult, error) {
	return nil, u.err()
}

func (u Unsupported) VerifyWebhook(context.Context, http.Header, []byte, string) error {
	return u.err()
}

func (u Unsupported) ParseWebhook(context.Context, http.Header, []byte) (*WebhookEvent, error) {
	return nil, u.err()
}

func (u Unsupported) HealthCheck(context.Context) error { return u.err() }
