package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"payorch/internal/models/db_models"
)

type WebhookInboxRepository interface {
	// Claim inserts the entry. A second claim for the same dedupe key fails
	// with gorm.ErrDuplicatedKey.
	Claim(ctx context.Context, entry *db_models.WebhookInboxEntry) error
	FindByDedupeKey(ctx context.Context, tenantID, provider, dedupeKey string) (*db_models.WebhookInboxEntry, error)
	FindByID(ctx context.Context, id uuid.UUID) (*db_models.WebhookInboxEntry, error)
	// Reclaim takes over an existing entry if it is still in the observed
	// status with the observed claim time.
	Reclaim(ctx context.Context, entry *db_models.WebhookInboxEntry, now int64, rawPayload string, headers []byte) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	PurgeProcessedBefore(ctx context.Context, cutoff int64) (int64, error)
}

type webhookInboxRepository struct {
	db *gorm.DB
}

func NewWebhookInboxRepository(db *gorm.DB) WebhookInboxRepository {
	return &webhookInboxRepository{db: db}
}

func (r *webhookInboxRepository) Claim(ctx context.Context, entry *db_models.WebhookInboxEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *webhookInboxRepository) FindByDedupeKey(ctx context.Context, tenantID, provider, dedupeKey string) (*db_models.WebhookInboxEntry, error) {
	var entry db_models.WebhookInboxEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ? AND dedupe_key = ?", tenantID, provider, dedupeKey).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *webhookInboxRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.WebhookInboxEntry, error) {
	var entry db_models.WebhookInboxEntry
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *webhookInboxRepository) Reclaim(ctx context.Context, entry *db_models.WebhookInboxEntry, now int64, rawPayload string, headers []byte) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.WebhookInboxEntry{}).
		Where("id = ? AND status = ? AND claimed_at = ?", entry.ID, entry.Status, entry.ClaimedAt).
		Updates(map[string]interface{}{
			"status":             db_models.InboxStatusProcessing,
			"claimed_at":         now,
			"attempts":           gorm.Expr("attempts + 1"),
			"raw_payload":        rawPayload,
			"headers":            datatypes.JSON(headers),
			"processing_error":   "",
			"signature_verified": false,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *webhookInboxRepository) Finish(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&db_models.WebhookInboxEntry{}).Where("id = ?", id).Updates(updates).Error
}

func (r *webhookInboxRepository) PurgeProcessedBefore(ctx context.Context, cutoff int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND received_at < ?", db_models.InboxStatusProcessed, cutoff).
		Delete(&db_models.WebhookInboxEntry{})
	return res.RowsAffected, res.Error
}
