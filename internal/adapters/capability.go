package adapters

import (
	"context"
	"net/http"
	"time"
)

// Capability is everything the orchestration core needs from one gateway.
// Adapters report vendor status strings verbatim in RawStatus; mapping them
// to lifecycle statuses is done by lifecycle.Normalize only.
type Capability interface {
	Provider() string
	// SignatureHeader names the header carrying the webhook signature, or ""
	// when the signature travels inside the body.
	SignatureHeader() string

	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*PaymentStatusResult, error)
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*RefundResult, error)

	// VerifyWebhook returns nil when the delivery is authentic,
	// ErrSignatureMismatch when it was not signed by this provider account and
	// ErrWebhookUnauthorized when the callback credential is wrong.
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte, signature string) error
	ParseWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error)

	HealthCheck(ctx context.Context) error
}

type CreatePaymentRequest struct {
	TenantID              string
	OrderID               string
	MerchantTransactionID string
	AmountMinor           int64
	Currency              string
	Method                string
	Description           string
	CustomerID            string
	CustomerEmail         string
	CustomerPhone         string
	ReturnURL             string
	CancelURL             string
	Metadata              map[string]any
}

type CreatePaymentResult struct {
	ProviderPaymentID     string
	ProviderTransactionID string
	RawStatus             string
	CheckoutURL           string
	CheckoutExpiresAt     time.Time
	// RequiresPolling is set for push-based methods (UPI collect, bank
	// transfer) where the final status may never reach us by webhook.
	RequiresPolling bool
	Metadata        map[string]any
}

type VerifyPaymentRequest struct {
	ProviderPaymentID     string
	ProviderTransactionID string
	MerchantTransactionID string
	OrderID               string
	AmountMinor           int64
	Currency              string
}

type PaymentStatusResult struct {
	RawStatus             string
	ResponseCode          string
	ProviderPaymentID     string
	ProviderTransactionID string
	ProviderReferenceID   string
	CapturedAmountMinor   *int64
	PayerHandle           string
	InstrumentType        string
	ReceiptURL            string
	FailureCode           string
	FailureMessage        string
	Metadata              map[string]any
}

type CreateRefundRequest struct {
	ProviderPaymentID     string
	ProviderTransactionID string
	MerchantTransactionID string
	MerchantRefundID      string
	AmountMinor           int64
	Currency              string
	Reason                string
}

type RefundResult struct {
	ProviderRefundID string
	RawStatus        string
	FailureCode      string
	FailureMessage   string
	Metadata         map[string]any
}

type WebhookKind string

const (
	WebhookKindPayment WebhookKind = "payment"
	WebhookKindRefund  WebhookKind = "refund"
)

// WebhookEvent is a provider notification reduced to the fields the core uses.
type WebhookEvent struct {
	Kind      WebhookKind
	EventType string
	EventID   string
	RawStatus string

	ProviderPaymentID     string
	ProviderTransactionID string
	MerchantTransactionID string
	OrderID               string
	ProviderReferenceID   string

	ProviderRefundID string
	MerchantRefundID string

	AmountMinor *int64
	Currency    string

	PayerHandle    string
	InstrumentType string
	ReceiptURL     string
	FailureCode    string
	FailureMessage string

	Metadata map[string]any
}
