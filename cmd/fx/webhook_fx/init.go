package webhook_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"payorch/internal/adapters"
	"payorch/internal/infra"
	"payorch/internal/repositories"
	"payorch/internal/services"
	"payorch/pkg/middleware"
	"payorch/pkg/utils"
)

var Module = fx.Provide(
	provideWebhookService,
	provideWebhookRateLimiter,
)

func provideWebhookService(
	inbox repositories.WebhookInboxRepository,
	payments repositories.PaymentRepository,
	refunds repositories.RefundRepository,
	resolver *adapters.Resolver,
	updater *services.PaymentUpdater,
	clock utils.Clock,
	cfg *infra.Config,
	log *zap.Logger,
) services.WebhookService {
	return services.NewWebhookService(inbox, payments, refunds, resolver, updater, clock, services.WebhookOptions{
		Environment:     cfg.PaymentEnvironment,
		Timeout:         cfg.WebhookTimeout,
		InboxLease:      cfg.WebhookInboxLease,
		ProviderTimeout: cfg.ProviderTimeout,
	}, log)
}

func provideWebhookRateLimiter(cfg *infra.Config) *middleware.IPRateLimiter {
	return middleware.NewIPRateLimiter(cfg.WebhookRPS, cfg.WebhookBurst)
}
