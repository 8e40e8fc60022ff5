package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payorch/internal/models/db_models"
)

type memorySource struct {
	configs []db_models.ProviderConfig
	routing *db_models.TenantRouting
	lookups int
}

func (m *memorySource) FindProviderConfig(_ context.Context, tenantID, provider, environment string) (*db_models.ProviderConfig, error) {
	m.lookups++
	for i := range m.configs {
		c := m.configs[i]
		if c.TenantID == tenantID && c.Provider == provider && c.Environment == environment {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memorySource) ListEnabledProviderConfigs(_ context.Context, tenantID, environment string) ([]db_models.ProviderConfig, error) {
	var out []db_models.ProviderConfig
	for _, c := range m.configs {
		if c.TenantID == tenantID && c.Environment == environment && c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memorySource) FindTenantRouting(context.Context, string, string) (*db_models.TenantRouting, error) {
	return m.routing, nil
}

func creds(t *testing.T, m map[string]string) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestResolverResolve(t *testing.T) {
	src := &memorySource{configs: []db_models.ProviderConfig{
		{TenantID: "t1", Provider: "razorpay", Environment: "sandbox", Enabled: true, Priority: 2,
			Credentials: creds(t, map[string]string{"key_id": "k", "key_secret": "s", "webhook_secret": "w"})},
		{TenantID: "t1", Provider: "phonepe", Environment: "sandbox", Enabled: true, Priority: 1,
			Credentials: creds(t, map[string]string{"merchant_id": "m"})},
		{TenantID: "t1", Provider: "payos", Environment: "sandbox", Enabled: false, Priority: 3,
			Credentials: creds(t, map[string]string{"client_id": "c", "api_key": "a", "checksum_key": "x"})},
	}}
	r := NewResolver(DefaultRegistry(), src, ResolverOptions{}, zap.NewNop())
	ctx := context.Background()

	t.Run("enabled provider resolves and is cached", func(t *testing.T) {
		c, err := r.Resolve(ctx, "Razorpay", "sandbox", "t1")
		require.NoError(t, err)
		assert.Equal(t, "razorpay", c.Provider())

		before := src.lookups
		_, err = r.Resolve(ctx, "razorpay", "sandbox", "t1")
		require.NoError(t, err)
		assert.Equal(t, before, src.lookups)

		r.Invalidate("t1", "razorpay", "sandbox")
		_, err = r.Resolve(ctx, "razorpay", "sandbox", "t1")
		require.NoError(t, err)
		assert.Equal(t, before+1, src.lookups)
	})

	t.Run("missing credentials is a configuration error", func(t *testing.T) {
		_, err := r.Resolve(ctx, "phonepe", "sandbox", "t1")
		var cerr *ConfigurationError
		require.True(t, errors.As(err, &cerr))
		assert.ElementsMatch(t, []string{"salt_key", "salt_index"}, cerr.Missing)
		assert.Equal(t, "t1", cerr.TenantID)
	})

	t.Run("disabled and unconfigured providers", func(t *testing.T) {
		_, err := r.Resolve(ctx, "payos", "sandbox", "t1")
		assert.ErrorIs(t, err, ErrProviderDisabled)

		_, err = r.Resolve(ctx, "razorpay", "live", "t1")
		assert.ErrorIs(t, err, ErrProviderDisabled)
	})

	t.Run("unknown provider yields unsupported capability", func(t *testing.T) {
		c, err := r.Resolve(ctx, "stripe", "sandbox", "t1")
		require.NoError(t, err)
		_, err = c.CreatePayment(ctx, CreatePaymentRequest{})
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
		assert.False(t, r.Supports("stripe"))
		assert.True(t, r.Supports("payos"))
	})
}

func TestResolverCandidates(t *testing.T) {
	src := &memorySource{configs: []db_models.ProviderConfig{
		{TenantID: "t1", Provider: "razorpay", Environment: "sandbox", Enabled: true, Priority: 2},
		{TenantID: "t1", Provider: "phonepe", Environment: "sandbox", Enabled: true, Priority: 1},
		{TenantID: "t1", Provider: "payos", Environment: "sandbox", Enabled: false, Priority: 0},
	}}
	r := NewResolver(DefaultRegistry(), src, ResolverOptions{}, zap.NewNop())

	got, err := r.Candidates(context.Background(), "t1", "sandbox")
	require.NoError(t, err)
	assert.Equal(t, []string{"phonepe", "razorpay"}, got)

	src.routing = &db_models.TenantRouting{TenantID: "t1", Environment: "sandbox",
		ProviderOrder: pq.StringArray{"razorpay", "payos", "phonepe", "razorpay"}}
	got, err = r.Candidates(context.Background(), "t1", "sandbox")
	require.NoError(t, err)
	assert.Equal(t, []string{"razorpay", "phonepe"}, got)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(RazorpayRegistration()))
	assert.Error(t, reg.Register(RazorpayRegistration()))
	assert.Equal(t, []string{"razorpay"}, reg.Names())
}

func TestResolverPicksUpConfigChangesAfterCacheTTL(t *testing.T) {
	src := &memorySource{configs: []db_models.ProviderConfig{
		{TenantID: "t1", Provider: "payos", Environment: "sandbox", Enabled: true,
			Credentials: creds(t, map[string]string{"client_id": "c", "api_key": "a", "checksum_key": "k"})},
	}}
	r := NewResolver(DefaultRegistry(), src, ResolverOptions{}, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)
	r.cache.WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := r.Resolve(ctx, "payos", "sandbox", "t1")
	require.NoError(t, err)

	// Another process disables the provider.
	src.configs[0].Enabled = false

	now = now.Add(DefaultCacheTTL - time.Second)
	_, err = r.Resolve(ctx, "payos", "sandbox", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.lookups)

	now = now.Add(2 * time.Second)
	_, err = r.Resolve(ctx, "payos", "sandbox", "t1")
	assert.ErrorIs(t, err, ErrProviderDisabled)
	assert.Equal(t, 2, src.lookups)
}

func TestRegistrationMissingFields(t *testing.T) {
	reg := PayOSRegistration()
	assert.Equal(t, []string{"api_key", "checksum_key"}, reg.MissingFields(map[string]string{"client_id": "c", "api_key": "  "}))
	assert.Empty(t, reg.MissingFields(map[string]string{"client_id": "c", "api_key": "a", "checksum_key": "k"}))
}
