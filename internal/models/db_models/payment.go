package db_models

import (
	"gorm.io/datatypes"

	"payorch/internal/lifecycle"
)

// Payment is the internal record of one payment attempt against a provider.
// Only the orchestration core writes Status and the amount/timestamp fields.
type Payment struct {
	BaseModel
	TenantID    string `gorm:"size:64;not null;index:ix_payments_tenant_order,priority:1"`
	OrderID     string `gorm:"size:128;not null;index:ix_payments_tenant_order,priority:2"`
	Provider    string `gorm:"size:32;not null;index"`
	Environment string `gorm:"size:16;not null"`
	Method      string `gorm:"size:32"`

	// Gateway identifiers
	MerchantTransactionID string `gorm:"size:64;not null;uniqueIndex"` // ours, sent to the provider
	ProviderPaymentID     string `gorm:"size:191;index"`               // provider's order / payment link id
	ProviderTransactionID string `gorm:"size:191;index"`               // provider's charge / transaction id
	ProviderReferenceID   string `gorm:"size:191"`                     // UTR / bank reference

	AuthorizedAmountMinor int64  `gorm:"not null"`
	CapturedAmountMinor   *int64 // only ever equal to AuthorizedAmountMinor
	Currency              string `gorm:"size:3;not null"`

	Status         lifecycle.Status `gorm:"size:32;not null;index"`
	FailureCode    string           `gorm:"size:64"`
	FailureMessage string           `gorm:"size:512"`

	// UPI / instrument details, masked before storage
	PayerHandleMasked string `gorm:"size:128"`
	InstrumentType    string `gorm:"size:64"`
	ReceiptURL        string `gorm:"size:512"`

	CheckoutURL       string `gorm:"size:1024"`
	CheckoutExpiresAt int64

	// Important timestamps (unix seconds)
	AuthorizedAt *int64
	CompletedAt  *int64
	FailedAt     *int64
	CancelledAt  *int64
	OrderPaidAt  *int64 // set when the order was promoted to paid

	Metadata datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
}

// CapturedOrAuthorized returns the captured amount, falling back to the
// authorized amount for records completed before capture was recorded.
func (p *Payment) CapturedOrAuthorized() int64 {
	if p.CapturedAmountMinor != nil {
		return *p.CapturedAmountMinor
	}
	return p.AuthorizedAmountMinor
}
