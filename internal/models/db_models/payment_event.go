package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventPaymentCreated       = "payment.created"
	EventPaymentSuccess       = "payment.success"
	EventPaymentFailed        = "payment.failed"
	EventPaymentCancelled     = "payment.cancelled"
	EventPaymentRefunded      = "payment.refunded"
	EventPaymentStatusChanged = "payment.status_changed"
	EventTransitionRejected   = "payment.transition_rejected"
	EventAmountMismatch       = "amount_mismatch"
	EventRefundCreated        = "refund.created"
	EventRefundStatusChanged  = "refund.status_changed"
	EventWebhookProcessed     = "webhook.processed"
	EventPollingJobExpired    = "polling.expired"
)

// PaymentEvent is an append-only audit entry. Rows are only removed by the
// retention sweep.
type PaymentEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TenantID   string         `gorm:"size:64;not null;index"`
	Provider   string         `gorm:"size:32"`
	PaymentID  *uuid.UUID     `gorm:"type:uuid;index"`
	RefundID   *uuid.UUID     `gorm:"type:uuid"`
	Type       string         `gorm:"size:64;not null;index"`
	Data       datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
	OccurredAt int64          `gorm:"not null;index"`
}

func (p *PaymentEvent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
