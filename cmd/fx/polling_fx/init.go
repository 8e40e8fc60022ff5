package polling_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"payorch/internal/adapters"
	"payorch/internal/infra"
	"payorch/internal/repositories"
	"payorch/internal/services"
	"payorch/pkg/utils"
)

var Module = fx.Options(
	fx.Provide(providePollingWorker, provideJobRegistrar),
	fx.Invoke(registerLifecycle),
)

func providePollingWorker(
	jobs repositories.PollingJobRepository,
	payments repositories.PaymentRepository,
	events repositories.PaymentEventRepository,
	resolver *adapters.Resolver,
	updater *services.PaymentUpdater,
	clock utils.Clock,
	cfg *infra.Config,
	log *zap.Logger,
) services.PollingWorker {
	return services.NewPollingWorker(jobs, payments, events, resolver, updater, clock, services.PollingOptions{
		TickInterval:        cfg.PollingTickInterval,
		BatchSize:           cfg.PollingBatchSize,
		Concurrency:         cfg.PollingConcurrency,
		InitialInterval:     cfg.PollingInitialInterval,
		MaxInterval:         cfg.PollingMaxInterval,
		DefaultExpiry:       cfg.PollingDefaultExpiry,
		ClaimLease:          cfg.PollingClaimLease,
		ProviderCallTimeout: cfg.ProviderTimeout,
		ProviderRPS:         cfg.ProviderPollRPS,
		ProviderBurst:       cfg.ProviderPollBurst,
	}, log)
}

func provideJobRegistrar(worker services.PollingWorker) services.JobRegistrar {
	return worker
}

func registerLifecycle(lc fx.Lifecycle, worker services.PollingWorker) {
	lc.Append(fx.Hook{
		OnStart: worker.Start,
		OnStop:  worker.Stop,
	})
}
