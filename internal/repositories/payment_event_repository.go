package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payorch/internal/models/db_models"
)

type PaymentEventRepository interface {
	WithTx(tx *gorm.DB) PaymentEventRepository
	Append(ctx context.Context, event *db_models.PaymentEvent) error
	ListByPayment(ctx context.Context, tenantID string, paymentID uuid.UUID, limit int) ([]db_models.PaymentEvent, error)
	CountByType(ctx context.Context, paymentID uuid.UUID, eventType string) (int64, error)
	ListOlderThan(ctx context.Context, cutoff int64, limit int) ([]db_models.PaymentEvent, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type paymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

func (r *paymentEventRepository) WithTx(tx *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: tx}
}

func (r *paymentEventRepository) Append(ctx context.Context, event *db_models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *paymentEventRepository) ListByPayment(ctx context.Context, tenantID string, paymentID uuid.UUID, limit int) ([]db_models.PaymentEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var events []db_models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *paymentEventRepository) CountByType(ctx context.Context, paymentID uuid.UUID, eventType string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&db_models.PaymentEvent{}).
		Where("payment_id = ? AND type = ?", paymentID, eventType).
		Count(&n).Error
	return n, err
}

func (r *paymentEventRepository) ListOlderThan(ctx context.Context, cutoff int64, limit int) ([]db_models.PaymentEvent, error) {
	var events []db_models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("occurred_at < ?", cutoff).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *paymentEventRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&db_models.PaymentEvent{})
	return res.RowsAffected, res.Error
}
