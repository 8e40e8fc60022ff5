package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type IdempotencyStatus string

const (
	IdempotencyStatusInProgress IdempotencyStatus = "in_progress"
	IdempotencyStatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyKey caches the response of the single execution claimed for a
// (key, scope) pair. Unique constraint: (key, scope).
type IdempotencyKey struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Key         string            `gorm:"column:idempotency_key;size:255;not null;uniqueIndex:ux_idempotency_key_scope,priority:1"`
	Scope       string            `gorm:"size:191;not null;uniqueIndex:ux_idempotency_key_scope,priority:2"`
	Status      IdempotencyStatus `gorm:"size:16;not null"`
	Response    datatypes.JSON    `gorm:"type:jsonb"`
	CreatedAt   int64             `gorm:"not null"`
	CompletedAt *int64
	ExpiresAt   int64 `gorm:"not null;index"`
}

func (k *IdempotencyKey) Expired(now int64) bool {
	return now >= k.ExpiresAt
}

func (i *IdempotencyKey) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
