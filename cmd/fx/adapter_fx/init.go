package adapter_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"payorch/internal/adapters"
	"payorch/internal/infra"
	"payorch/internal/repositories"
)

var Module = fx.Provide(
	adapters.DefaultRegistry,
	provideResolver,
)

func provideResolver(registry *adapters.Registry, configs repositories.ProviderConfigRepository, cfg *infra.Config, log *zap.Logger) *adapters.Resolver {
	return adapters.NewResolver(registry, configs, adapters.ResolverOptions{
		CacheTTL:        cfg.ResolverCacheTTL,
		ProviderTimeout: cfg.ProviderTimeout,
	}, log)
}
