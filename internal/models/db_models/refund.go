package db_models

import (
	"github.com/google/uuid"

	"payorch/internal/lifecycle"
)

type Refund struct {
	BaseModel
	TenantID         string    `gorm:"size:64;not null;index"`
	PaymentID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_refunds_payment_merchant_ref,priority:1"`
	MerchantRefundID string    `gorm:"size:128;not null;uniqueIndex:ux_refunds_payment_merchant_ref,priority:2"`
	ProviderRefundID string    `gorm:"size:191;index"`
	Provider         string    `gorm:"size:32;not null"`

	AmountMinor int64            `gorm:"not null"`
	Currency    string           `gorm:"size:3;not null"`
	Status      lifecycle.Status `gorm:"size:32;not null;index"`
	Reason      string           `gorm:"size:255"`

	FailureCode    string `gorm:"size:64"`
	FailureMessage string `gorm:"size:512"`
	ProcessedAt    *int64
}
