package db_models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PollingJobStatus string

const (
	PollingJobPending   PollingJobStatus = "pending"
	PollingJobCompleted PollingJobStatus = "completed"
	PollingJobFailed    PollingJobStatus = "failed"
	PollingJobExpired   PollingJobStatus = "expired"
)

func (s PollingJobStatus) IsTerminal() bool {
	return s == PollingJobCompleted || s == PollingJobFailed || s == PollingJobExpired
}

// PollingJob is a persisted unit of reconciliation work. Only the polling
// worker mutates it, and a terminal job is never picked up again.
type PollingJob struct {
	ID                    uuid.UUID        `gorm:"type:uuid;primaryKey"`
	TenantID              string           `gorm:"size:64;not null;uniqueIndex:ux_polling_jobs_tenant_payment,priority:1"`
	PaymentID             uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:ux_polling_jobs_tenant_payment,priority:2"`
	OrderID               string           `gorm:"size:128;not null"`
	Provider              string           `gorm:"size:32;not null"`
	MerchantTransactionID string           `gorm:"size:64;not null"`
	Status                PollingJobStatus `gorm:"size:16;not null;index:ix_polling_jobs_due,priority:1"`
	Attempt               int              `gorm:"not null;default:0"`
	NextPollAt            int64            `gorm:"not null;index:ix_polling_jobs_due,priority:2"`
	ExpireAt              int64            `gorm:"not null"`
	LastStatus            string           `gorm:"size:64"`
	LastResponseCode      string           `gorm:"size:64"`
	LastError             string           `gorm:"type:text"`
	CompletedAt           *int64
	CreatedAt             int64 `gorm:"not null"`
	UpdatedAt             int64 `gorm:"not null"`
}

func (p *PollingJob) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
