package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
)

type RefundRepository interface {
	WithTx(tx *gorm.DB) RefundRepository
	Create(ctx context.Context, refund *db_models.Refund) error
	FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*db_models.Refund, error)
	FindByMerchantRefundID(ctx context.Context, paymentID uuid.UUID, merchantRefundID string) (*db_models.Refund, error)
	FindByProviderRefundID(ctx context.Context, tenantID, provider, providerRefundID string) (*db_models.Refund, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]db_models.Refund, error)
	// SumCommitted totals refunds that are not failed or cancelled.
	SumCommitted(ctx context.Context, paymentID uuid.UUID) (int64, error)
	SumCompleted(ctx context.Context, paymentID uuid.UUID) (int64, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from lifecycle.Status, updates map[string]interface{}) (bool, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
}

type refundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

func (r *refundRepository) WithTx(tx *gorm.DB) RefundRepository {
	return &refundRepository{db: tx}
}

func (r *refundRepository) Create(ctx context.Context, refund *db_models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *refundRepository) first(ctx context.Context, query string, args ...interface{}) (*db_models.Refund, error) {
	var refund db_models.Refund
	err := r.db.WithContext(ctx).Where(query, args...).First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &refund, nil
}

func (r *refundRepository) FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*db_models.Refund, error) {
	return r.first(ctx, "tenant_id = ? AND id = ?", tenantID, id)
}

func (r *refundRepository) FindByMerchantRefundID(ctx context.Context, paymentID uuid.UUID, merchantRefundID string) (*db_models.Refund, error) {
	return r.first(ctx, "payment_id = ? AND merchant_refund_id = ?", paymentID, merchantRefundID)
}

func (r *refundRepository) FindByProviderRefundID(ctx context.Context, tenantID, provider, providerRefundID string) (*db_models.Refund, error) {
	return r.first(ctx, "tenant_id = ? AND provider = ? AND provider_refund_id = ?", tenantID, provider, providerRefundID)
}

func (r *refundRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]db_models.Refund, error) {
	var refunds []db_models.Refund
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&refunds).Error
	return refunds, err
}

func (r *refundRepository) sum(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&db_models.Refund{}).
		Select("COALESCE(SUM(amount_minor), 0)").
		Where(query, args...).
		Scan(&total).Error
	return total, err
}

func (r *refundRepository) SumCommitted(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	return r.sum(ctx, "payment_id = ? AND status NOT IN ?", paymentID,
		[]lifecycle.Status{lifecycle.StatusFailed, lifecycle.StatusCancelled})
}

func (r *refundRepository) SumCompleted(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	return r.sum(ctx, "payment_id = ? AND status = ?", paymentID, lifecycle.StatusCompleted)
}

func (r *refundRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from lifecycle.Status, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.Refund{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *refundRepository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&db_models.Refund{}).Where("id = ?", id).Updates(updates).Error
}
