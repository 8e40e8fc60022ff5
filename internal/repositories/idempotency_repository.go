package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payorch/internal/models/db_models"
)

type IdempotencyRepository interface {
	// Insert claims (key, scope). A concurrent claim fails with gorm.ErrDuplicatedKey.
	Insert(ctx context.Context, entry *db_models.IdempotencyKey) error
	Find(ctx context.Context, key, scope string) (*db_models.IdempotencyKey, error)
	Complete(ctx context.Context, id uuid.UUID, response []byte, completedAt int64) (bool, error)
	Delete(ctx context.Context, key, scope string) (int64, error)
	// DeleteClaim removes one specific row, and only in the observed state.
	DeleteClaim(ctx context.Context, id uuid.UUID, status db_models.IdempotencyStatus, createdAt int64) (bool, error)
	PurgeExpired(ctx context.Context, now int64) (int64, error)
}

type idempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Insert(ctx context.Context, entry *db_models.IdempotencyKey) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *idempotencyRepository) Find(ctx context.Context, key, scope string) (*db_models.IdempotencyKey, error) {
	var entry db_models.IdempotencyKey
	err := r.db.WithContext(ctx).Where("idempotency_key = ? AND scope = ?", key, scope).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, id uuid.UUID, response []byte, completedAt int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.IdempotencyKey{}).
		Where("id = ? AND status = ?", id, db_models.IdempotencyStatusInProgress).
		Updates(map[string]interface{}{
			"status":       db_models.IdempotencyStatusCompleted,
			"response":     response,
			"completed_at": completedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *idempotencyRepository) Delete(ctx context.Context, key, scope string) (int64, error) {
	res := r.db.WithContext(ctx).Where("idempotency_key = ? AND scope = ?", key, scope).Delete(&db_models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}

func (r *idempotencyRepository) DeleteClaim(ctx context.Context, id uuid.UUID, status db_models.IdempotencyStatus, createdAt int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND created_at = ?", id, status, createdAt).
		Delete(&db_models.IdempotencyKey{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *idempotencyRepository) PurgeExpired(ctx context.Context, now int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&db_models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
