package idempotency_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"payorch/internal/infra"
	"payorch/internal/repositories"
	"payorch/internal/services"
	"payorch/pkg/utils"
)

var Module = fx.Provide(provideIdempotencyService)

func provideIdempotencyService(repo repositories.IdempotencyRepository, clock utils.Clock, cfg *infra.Config, log *zap.Logger) services.IdempotencyService {
	return services.NewIdempotencyService(repo, clock, services.IdempotencyOptions{
		TTL:          cfg.IdempotencyTTL,
		ClaimLease:   cfg.IdempotencyClaimLease,
		PollInterval: cfg.IdempotencyPollInterval,
		WaitTimeout:  cfg.IdempotencyWaitTimeout,
	}, log)
}
