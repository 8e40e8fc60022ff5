package request_models

type CreatePaymentRequest struct {
	OrderID       string         `json:"order_id" binding:"required,max=128"`
	AmountMinor   int64          `json:"amount_minor" binding:"required"`
	Currency      string         `json:"currency" binding:"required,len=3"`
	Provider      string         `json:"provider,omitempty"`
	Method        string         `json:"method,omitempty"`
	Description   string         `json:"description,omitempty"`
	CustomerID    string         `json:"customer_id,omitempty"`
	CustomerEmail string         `json:"customer_email,omitempty"`
	CustomerPhone string         `json:"customer_phone,omitempty"`
	ReturnURL     string         `json:"return_url,omitempty"`
	CancelURL     string         `json:"cancel_url,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type RefundPaymentRequest struct {
	PaymentID        string `json:"payment_id" binding:"required,uuid"`
	MerchantRefundID string `json:"merchant_refund_id,omitempty" binding:"max=128"`
	AmountMinor      int64  `json:"amount_minor" binding:"required"`
	Reason           string `json:"reason,omitempty" binding:"max=255"`
}

type CancelPaymentRequest struct {
	PaymentID string `json:"payment_id" binding:"required,uuid"`
	Reason    string `json:"reason,omitempty" binding:"max=255"`
}

type IdempotencyKeyQuery struct {
	Key   string `form:"key" binding:"required"`
	Scope string `form:"scope" binding:"required"`
}

type PollingJobQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}
