package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InboxStatus string

const (
	InboxStatusProcessing InboxStatus = "processing"
	InboxStatusProcessed  InboxStatus = "processed"
	InboxStatusRejected   InboxStatus = "rejected" // verification failed
	InboxStatusFailed     InboxStatus = "failed"   // verified but could not be applied
)

// WebhookInboxEntry is the durable record of one provider notification. The
// unique index on (tenant, provider, dedupe key) is the at-most-once gate.
type WebhookInboxEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  string    `gorm:"size:64;not null;uniqueIndex:ux_webhook_inbox_dedupe,priority:1"`
	Provider  string    `gorm:"size:32;not null;uniqueIndex:ux_webhook_inbox_dedupe,priority:2"`
	DedupeKey string    `gorm:"size:64;not null;uniqueIndex:ux_webhook_inbox_dedupe,priority:3"`

	EventType         string      `gorm:"size:100;index"`
	Status            InboxStatus `gorm:"size:16;not null;index"`
	SignatureVerified bool        `gorm:"not null;default:false"`
	Attempts          int         `gorm:"not null;default:1"`
	ProcessingError   string      `gorm:"type:text"`

	Headers    datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
	RawPayload string         `gorm:"type:text;not null"`

	PaymentID *uuid.UUID `gorm:"type:uuid;index"`
	RefundID  *uuid.UUID `gorm:"type:uuid"`

	ReceivedAt  int64 `gorm:"not null;index"`
	ClaimedAt   int64 `gorm:"not null"`
	ProcessedAt *int64
}

func (WebhookInboxEntry) TableName() string { return "webhook_inbox" }

func (w *WebhookInboxEntry) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
