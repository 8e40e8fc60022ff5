package repository_fx

import (
	"go.uber.org/fx"

	"payorch/internal/repositories"
)

var Module = fx.Provide(
	repositories.NewPaymentRepository,
	repositories.NewRefundRepository,
	repositories.NewPaymentEventRepository,
	repositories.NewProviderConfigRepository,
	repositories.NewWebhookInboxRepository,
	repositories.NewIdempotencyRepository,
	repositories.NewPollingJobRepository,
)
