package testutil

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payorch/internal/infra"
	"payorch/internal/models/db_models"
)

// sqlite has no array type, so tenant_routing is created by hand; lib/pq's
// StringArray stores the '{a,b}' literal in a text column.
const sqliteTenantRouting = `CREATE TABLE IF NOT EXISTS tenant_routing (
	id text PRIMARY KEY,
	created_at integer,
	updated_at integer,
	deleted_at datetime,
	tenant_id text NOT NULL,
	environment text NOT NULL,
	provider_order text,
	UNIQUE (tenant_id, environment)
)`

// NewDB opens a migrated sqlite database in a temp dir. A single connection
// serializes access the way row locks would in postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	cfg := infra.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)

	path := filepath.Join(t.TempDir(), "payorch.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec(sqliteTenantRouting).Error)
	for _, m := range infra.Models() {
		if _, ok := m.(*db_models.TenantRouting); ok {
			continue
		}
		require.NoError(t, db.AutoMigrate(m))
	}
	return db
}

func Credentials(t *testing.T, m map[string]string) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

// SeedProviderConfig stores an enabled configuration for provider.
func SeedProviderConfig(t *testing.T, db *gorm.DB, tenantID, provider, environment string, priority int, creds map[string]string) *db_models.ProviderConfig {
	t.Helper()
	cfg := &db_models.ProviderConfig{
		TenantID:    tenantID,
		Provider:    provider,
		Environment: environment,
		Enabled:     true,
		Priority:    priority,
		Credentials: Credentials(t, creds),
	}
	require.NoError(t, db.Create(cfg).Error)
	return cfg
}
