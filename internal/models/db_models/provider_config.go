package db_models

import (
	"encoding/json"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// ProviderConfig is a tenant's configuration of one gateway in one environment.
type ProviderConfig struct {
	BaseModel
	TenantID    string         `gorm:"size:64;not null;uniqueIndex:ux_provider_configs_scope,priority:1"`
	Provider    string         `gorm:"size:32;not null;uniqueIndex:ux_provider_configs_scope,priority:2"`
	Environment string         `gorm:"size:16;not null;uniqueIndex:ux_provider_configs_scope,priority:3"`
	Enabled     bool           `gorm:"not null;default:false"`
	Priority    int            `gorm:"not null;default:100"`
	Credentials datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
}

// CredentialMap decodes Credentials. Non-string values are ignored.
func (c *ProviderConfig) CredentialMap() map[string]string {
	out := map[string]string{}
	if len(c.Credentials) == 0 {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal(c.Credentials, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// TenantRouting holds an explicit provider fallback order for a tenant.
type TenantRouting struct {
	BaseModel
	TenantID      string         `gorm:"size:64;not null;uniqueIndex:ux_tenant_routing_scope,priority:1"`
	Environment   string         `gorm:"size:16;not null;uniqueIndex:ux_tenant_routing_scope,priority:2"`
	ProviderOrder pq.StringArray `gorm:"type:text[]"`
}

func (TenantRouting) TableName() string { return "tenant_routing" }
