package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payorch/internal/adapters"
	"payorch/internal/models/db_models"
)

func TestProviderRows(t *testing.T) {
	creds, err := json.Marshal(map[string]string{"key_id": "k", "key_secret": "s"})
	require.NoError(t, err)

	rows := providerRows(adapters.DefaultRegistry(), []db_models.ProviderConfig{
		{Provider: "razorpay", Enabled: true, Priority: 2, Credentials: creds},
		{Provider: "stripe", Enabled: true},
	})

	assert.Equal(t, []providerRow{
		{Provider: "payos"},
		{Provider: "phonepe"},
		{Provider: "razorpay", Configured: true, Enabled: true, Priority: 2, Missing: []string{"webhook_secret"}},
	}, rows)
}
