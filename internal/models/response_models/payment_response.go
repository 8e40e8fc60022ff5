package response_models

type PaymentResponse struct {
	ID                    string         `json:"id"`
	TenantID              string         `json:"tenant_id"`
	OrderID               string         `json:"order_id"`
	Provider              string         `json:"provider"`
	Environment           string         `json:"environment"`
	Method                string         `json:"method,omitempty"`
	Status                string         `json:"status"`
	AuthorizedAmountMinor int64          `json:"authorized_amount_minor"`
	CapturedAmountMinor   *int64         `json:"captured_amount_minor,omitempty"`
	Currency              string         `json:"currency"`
	MerchantTransactionID string         `json:"merchant_transaction_id"`
	ProviderPaymentID     string         `json:"provider_payment_id,omitempty"`
	ProviderTransactionID string         `json:"provider_transaction_id,omitempty"`
	ProviderReferenceID   string         `json:"provider_reference_id,omitempty"`
	CheckoutURL           string         `json:"checkout_url,omitempty"`
	CheckoutExpiresAt     int64          `json:"checkout_expires_at,omitempty"`
	PayerHandleMasked     string         `json:"payer_handle,omitempty"`
	InstrumentType        string         `json:"instrument_type,omitempty"`
	ReceiptURL            string         `json:"receipt_url,omitempty"`
	FailureCode           string         `json:"failure_code,omitempty"`
	FailureMessage        string         `json:"failure_message,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedAt             int64          `json:"created_at"`
	UpdatedAt             int64          `json:"updated_at"`
	CompletedAt           *int64         `json:"completed_at,omitempty"`
}

type RefundResponse struct {
	ID               string `json:"id"`
	PaymentID        string `json:"payment_id"`
	MerchantRefundID string `json:"merchant_refund_id"`
	ProviderRefundID string `json:"provider_refund_id,omitempty"`
	Provider         string `json:"provider"`
	AmountMinor      int64  `json:"amount_minor"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
	FailureCode      string `json:"failure_code,omitempty"`
	FailureMessage   string `json:"failure_message,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	ProcessedAt      *int64 `json:"processed_at,omitempty"`
}

type PaymentStatusResponse struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	Verified       bool   `json:"verified"`
	ProviderStatus string `json:"provider_status,omitempty"`
	CheckedAt      int64  `json:"checked_at"`
}

type PaymentEventResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Provider   string         `json:"provider,omitempty"`
	PaymentID  string         `json:"payment_id,omitempty"`
	RefundID   string         `json:"refund_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt int64          `json:"occurred_at"`
}

type PollingJobResponse struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	PaymentID        string `json:"payment_id"`
	OrderID          string `json:"order_id"`
	Provider         string `json:"provider"`
	Status           string `json:"status"`
	Attempt          int    `json:"attempt"`
	NextPollAt       int64  `json:"next_poll_at"`
	ExpireAt         int64  `json:"expire_at"`
	LastStatus       string `json:"last_status,omitempty"`
	LastResponseCode string `json:"last_response_code,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	CompletedAt      *int64 `json:"completed_at,omitempty"`
}

type IdempotencyCheckResponse struct {
	Key       string `json:"key"`
	Scope     string `json:"scope"`
	Exists    bool   `json:"exists"`
	Completed bool   `json:"completed"`
	Expired   bool   `json:"expired"`
	Status    string `json:"status,omitempty"`
	Response  any    `json:"response,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type ProviderHealthResponse struct {
	Provider  string `json:"provider"`
	Enabled   bool   `json:"enabled"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type WebhookResponse struct {
	Outcome   string `json:"outcome"`
	Provider  string `json:"provider,omitempty"`
	InboxID   string `json:"inbox_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	RefundID  string `json:"refund_id,omitempty"`
	Status    string `json:"status,omitempty"`
}
