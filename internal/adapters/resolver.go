package adapters

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"payorch/internal/models/db_models"
	"payorch/pkg/memcache"
)

// ConfigSource is the persisted tenant configuration the resolver reads.
type ConfigSource interface {
	FindProviderConfig(ctx context.Context, tenantID, provider, environment string) (*db_models.ProviderConfig, error)
	ListEnabledProviderConfigs(ctx context.Context, tenantID, environment string) ([]db_models.ProviderConfig, error)
	FindTenantRouting(ctx context.Context, tenantID, environment string) (*db_models.TenantRouting, error)
}

// DefaultCacheTTL bounds how long a running process keeps using a capability
// after its configuration changed elsewhere.
const DefaultCacheTTL = time.Minute

type ResolverOptions struct {
	CacheTTL        time.Duration
	ProviderTimeout time.Duration
	HTTPClient      *http.Client
}

// Resolver turns (tenant, provider, environment) into a ready Capability.
type Resolver struct {
	registry *Registry
	source   ConfigSource
	cache    *memcache.TTLStore[Capability]
	opts     ResolverOptions
	log      *zap.Logger
}

func NewResolver(registry *Registry, source ConfigSource, opts ResolverOptions, log *zap.Logger) *Resolver {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return &Resolver{
		registry: registry,
		source:   source,
		cache:    memcache.NewTTLStore[Capability](opts.CacheTTL),
		opts:     opts,
		log:      log.Named("resolver"),
	}
}

func cacheKey(tenantID, provider, environment string) string {
	return tenantID + "|" + provider + "|" + environment
}

// Supports reports whether a provider name has a registered adapter.
func (r *Resolver) Supports(provider string) bool {
	_, ok := r.registry.Lookup(provider)
	return ok
}

// Resolve returns an Unsupported capability (and no error) for names nobody
// registered, so callers can still report ErrUnsupportedProvider uniformly.
func (r *Resolver) Resolve(ctx context.Context, provider, environment, tenantID string) (Capability, error) {
	provider = NormalizeProvider(provider)
	reg, ok := r.registry.Lookup(provider)
	if !ok {
		return Unsupported{Name: provider}, nil
	}

	key := cacheKey(tenantID, provider, environment)
	if c, ok := r.cache.Get(key); ok {
		return c, nil
	}

	cfg, err := r.source.FindProviderConfig(ctx, tenantID, provider, environment)
	if err != nil {
		return nil, fmt.Errorf("load %s config: %w", provider, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s is not configured for tenant %s (%s)", ErrProviderDisabled, provider, tenantID, environment)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: %s for tenant %s (%s)", ErrProviderDisabled, provider, tenantID, environment)
	}

	creds := cfg.CredentialMap()
	if missing := reg.MissingFields(creds); len(missing) > 0 {
		return nil, &ConfigurationError{Provider: provider, Environment: environment, TenantID: tenantID, Missing: missing}
	}

	capability, err := reg.New(Settings{
		TenantID:    tenantID,
		Provider:    provider,
		Environment: environment,
		Credentials: creds,
		Timeout:     r.opts.ProviderTimeout,
		HTTPClient:  r.opts.HTTPClient,
	})
	if err != nil {
		return nil, &ConfigurationError{Provider: provider, Environment: environment, TenantID: tenantID, Err: err}
	}

	r.cache.Set(key, capability)
	return capability, nil
}

// Candidates lists the providers to try for a tenant: the explicit fallback
// order when one is stored, else enabled configs by priority.
func (r *Resolver) Candidates(ctx context.Context, tenantID, environment string) ([]string, error) {
	configs, err := r.source.ListEnabledProviderConfigs(ctx, tenantID, environment)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	enabled := make(map[string]db_models.ProviderConfig, len(configs))
	for _, c := range configs {
		enabled[NormalizeProvider(c.Provider)] = c
	}

	routing, err := r.source.FindTenantRouting(ctx, tenantID, environment)
	if err != nil {
		return nil, fmt.Errorf("load tenant routing: %w", err)
	}
	if routing != nil && len(routing.ProviderOrder) > 0 {
		out := make([]string, 0, len(routing.ProviderOrder))
		seen := map[string]bool{}
		for _, name := range routing.ProviderOrder {
			name = NormalizeProvider(name)
			if _, ok := enabled[name]; ok && !seen[name] {
				out = append(out, name)
				seen[name] = true
			}
		}
		return out, nil
	}

	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].Priority != configs[j].Priority {
			return configs[i].Priority < configs[j].Priority
		}
		return configs[i].Provider < configs[j].Provider
	})
	out := make([]string, 0, len(configs))
	for _, c := range configs {
		out = append(out, NormalizeProvider(c.Provider))
	}
	return out, nil
}

// Invalidate drops a cached capability after its configuration changed.
// An empty provider drops every provider of the tenant.
func (r *Resolver) Invalidate(tenantID, provider, environment string) {
	if provider != "" {
		r.cache.Delete(cacheKey(tenantID, NormalizeProvider(provider), environment))
		return
	}
	prefix := tenantID + "|"
	n := r.cache.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
	r.log.Debug("invalidated cached capabilities", zap.String("tenant", tenantID), zap.Int("count", n))
}
