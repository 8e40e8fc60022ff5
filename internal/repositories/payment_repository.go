package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
)

// PaymentLookup lists the identifiers a provider notification may carry, in
// the order they are tried.
type PaymentLookup struct {
	TenantID              string
	Provider              string
	ProviderPaymentID     string
	MerchantTransactionID string
	OrderID               string
}

type PaymentRepository interface {
	WithTx(tx *gorm.DB) PaymentRepository
	Create(ctx context.Context, payment *db_models.Payment) error
	FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*db_models.Payment, error)
	FindByLookup(ctx context.Context, lookup PaymentLookup) (*db_models.Payment, error)
	FindByProviderTransactionID(ctx context.Context, tenantID, provider, providerTxnID string) (*db_models.Payment, error)
	ListByOrder(ctx context.Context, tenantID, orderID string) ([]db_models.Payment, error)
	// CompareAndSetStatus applies updates only while the row still has status
	// from. It reports whether the row was changed.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from lifecycle.Status, updates map[string]interface{}) (bool, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) WithTx(tx *gorm.DB) PaymentRepository {
	return &paymentRepository{db: tx}
}

func (r *paymentRepository) Create(ctx context.Context, payment *db_models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepository) first(ctx context.Context, query string, args ...interface{}) (*db_models.Payment, error) {
	var payment db_models.Payment
	err := r.db.WithContext(ctx).Where(query, args...).Order("created_at DESC").First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*db_models.Payment, error) {
	return r.first(ctx, "tenant_id = ? AND id = ?", tenantID, id)
}

func (r *paymentRepository) FindByLookup(ctx context.Context, lookup PaymentLookup) (*db_models.Payment, error) {
	if lookup.ProviderPaymentID != "" {
		p, err := r.first(ctx, "tenant_id = ? AND provider = ? AND provider_payment_id = ?",
			lookup.TenantID, lookup.Provider, lookup.ProviderPaymentID)
		if err != nil || p != nil {
			return p, err
		}
	}
	if lookup.MerchantTransactionID != "" {
		p, err := r.first(ctx, "tenant_id = ? AND merchant_transaction_id = ?",
			lookup.TenantID, lookup.MerchantTransactionID)
		if err != nil || p != nil {
			return p, err
		}
	}
	if lookup.OrderID != "" {
		return r.first(ctx, "tenant_id = ? AND provider = ? AND order_id = ?",
			lookup.TenantID, lookup.Provider, lookup.OrderID)
	}
	return nil, nil
}

func (r *paymentRepository) FindByProviderTransactionID(ctx context.Context, tenantID, provider, providerTxnID string) (*db_models.Payment, error) {
	return r.first(ctx, "tenant_id = ? AND provider = ? AND provider_transaction_id = ?", tenantID, provider, providerTxnID)
}

func (r *paymentRepository) ListByOrder(ctx context.Context, tenantID, orderID string) ([]db_models.Payment, error) {
	var payments []db_models.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from lifecycle.Status, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *paymentRepository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&db_models.Payment{}).Where("id = ?", id).Updates(updates).Error
}
