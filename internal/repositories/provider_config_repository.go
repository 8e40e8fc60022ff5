package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payorch/internal/models/db_models"
)

type ProviderConfigRepository interface {
	FindProviderConfig(ctx context.Context, tenantID, provider, environment string) (*db_models.ProviderConfig, error)
	ListEnabledProviderConfigs(ctx context.Context, tenantID, environment string) ([]db_models.ProviderConfig, error)
	ListProviderConfigs(ctx context.Context, tenantID, environment string) ([]db_models.ProviderConfig, error)
	FindTenantRouting(ctx context.Context, tenantID, environment string) (*db_models.TenantRouting, error)
	UpsertProviderConfig(ctx context.Context, cfg *db_models.ProviderConfig) error
	UpsertTenantRouting(ctx context.Context, routing *db_models.TenantRouting) error
}

type providerConfigRepository struct {
	db *gorm.DB
}

func NewProviderConfigRepository(db *gorm.DB) ProviderConfigRepository {
	return &providerConfigRepository{db: db}
}

func (r *providerConfigRepository) FindProviderConfig(ctx context.Context, tenantID, provider, environment string) (*db_models.ProviderConfig, error) {
	var cfg db_models.ProviderConfig
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ? AND environment = ?", tenantID, provider, environment).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *providerConfigRepository) ListEnabledProviderConfigs(ctx context.Context, tenantID, environment string) ([]db_models.ProviderConfig, error) {
	var configs []db_models.ProviderConfig
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND environment = ? AND enabled = ?", tenantID, environment, true).
		Order("priority ASC, provider ASC").
		Find(&configs).Error
	return configs, err
}

func (r *providerConfigRepository) ListProviderConfigs(ctx context.Context, tenantID, environment string) ([]db_models.ProviderConfig, error) {
	var configs []db_models.ProviderConfig
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND environment = ?", tenantID, environment).
		Order("priority ASC, provider ASC").
		Find(&configs).Error
	return configs, err
}

func (r *providerConfigRepository) FindTenantRouting(ctx context.Context, tenantID, environment string) (*db_models.TenantRouting, error) {
	var routing db_models.TenantRouting
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND environment = ?", tenantID, environment).
		First(&routing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &routing, nil
}

func (r *providerConfigRepository) UpsertProviderConfig(ctx context.Context, cfg *db_models.ProviderConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider"}, {Name: "environment"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "priority", "credentials", "updated_at"}),
	}).Create(cfg).Error
}

func (r *providerConfigRepository) UpsertTenantRouting(ctx context.Context, routing *db_models.TenantRouting) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "environment"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider_order", "updated_at"}),
	}).Create(routing).Error
}
