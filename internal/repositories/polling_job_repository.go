package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payorch/internal/models/db_models"
)

type PollingJobRepository interface {
	// Create inserts the job. A second job for the same (tenant, payment)
	// fails with gorm.ErrDuplicatedKey.
	Create(ctx context.Context, job *db_models.PollingJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*db_models.PollingJob, error)
	FindByPayment(ctx context.Context, tenantID string, paymentID uuid.UUID) (*db_models.PollingJob, error)
	FindDue(ctx context.Context, now int64, limit int) ([]db_models.PollingJob, error)
	// Claim moves next_poll_at forward if nobody else did since it was read.
	Claim(ctx context.Context, id uuid.UUID, observedNextPollAt, leaseUntil, now int64) (bool, error)
	// Update writes the outcome of a poll; terminal jobs are left untouched.
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	List(ctx context.Context, tenantID string, status db_models.PollingJobStatus, limit int) ([]db_models.PollingJob, error)
}

type pollingJobRepository struct {
	db *gorm.DB
}

func NewPollingJobRepository(db *gorm.DB) PollingJobRepository {
	return &pollingJobRepository{db: db}
}

func (r *pollingJobRepository) Create(ctx context.Context, job *db_models.PollingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *pollingJobRepository) first(ctx context.Context, query string, args ...interface{}) (*db_models.PollingJob, error) {
	var job db_models.PollingJob
	if err := r.db.WithContext(ctx).Where(query, args...).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *pollingJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.PollingJob, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *pollingJobRepository) FindByPayment(ctx context.Context, tenantID string, paymentID uuid.UUID) (*db_models.PollingJob, error) {
	return r.first(ctx, "tenant_id = ? AND payment_id = ?", tenantID, paymentID)
}

func (r *pollingJobRepository) FindDue(ctx context.Context, now int64, limit int) ([]db_models.PollingJob, error) {
	var jobs []db_models.PollingJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_poll_at <= ?", db_models.PollingJobPending, now).
		Order("next_poll_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *pollingJobRepository) Claim(ctx context.Context, id uuid.UUID, observedNextPollAt, leaseUntil, now int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.PollingJob{}).
		Where("id = ? AND status = ? AND next_poll_at = ?", id, db_models.PollingJobPending, observedNextPollAt).
		Updates(map[string]interface{}{"next_poll_at": leaseUntil, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pollingJobRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.PollingJob{}).
		Where("id = ? AND status = ?", id, db_models.PollingJobPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pollingJobRepository) List(ctx context.Context, tenantID string, status db_models.PollingJobStatus, limit int) ([]db_models.PollingJob, error) {
	q := r.db.WithContext(ctx).Model(&db_models.PollingJob{})
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var jobs []db_models.PollingJob
	err := q.Order("next_poll_at ASC").Limit(limit).Find(&jobs).Error
	return jobs, err
}
