package infra

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payorch/internal/models/db_models"
)

// Models lists every table owned by the service, in migration order.
func Models() []any {
	return []any{
		&db_models.ProviderConfig{},
		&db_models.TenantRouting{},
		&db_models.Payment{},
		&db_models.Refund{},
		&db_models.WebhookInboxEntry{},
		&db_models.IdempotencyKey{},
		&db_models.PollingJob{},
		&db_models.PaymentEvent{},
	}
}

// GormConfig is shared by every dialect. TranslateError turns unique
// violations into gorm.ErrDuplicatedKey, which the claim paths rely on.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

func InitPostgresql(cfg *Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.PostgresURL == "" {
		return nil, errors.New("POSTGRES_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresURL), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	log.Info("connected to postgres")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func ClosePostgresql(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("get database instance", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("close database connection", zap.Error(err))
		return
	}
	log.Info("postgres connection closed")
}
