package payment_service_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payorch/internal/adapters"
	"payorch/internal/api/controllers"
	"payorch/internal/infra"
	"payorch/internal/repositories"
	"payorch/internal/services"
	"payorch/pkg/utils"
)

var Module = fx.Provide(
	services.NewPaymentUpdater,
	providePaymentService,
	providePaymentController,
)

func providePaymentService(
	db *gorm.DB,
	payments repositories.PaymentRepository,
	refunds repositories.RefundRepository,
	events repositories.PaymentEventRepository,
	configs repositories.ProviderConfigRepository,
	resolver *adapters.Resolver,
	idem services.IdempotencyService,
	updater *services.PaymentUpdater,
	registrar services.JobRegistrar,
	clock utils.Clock,
	cfg *infra.Config,
	log *zap.Logger,
) services.PaymentService {
	return services.NewPaymentService(db, payments, refunds, events, configs, resolver, idem, updater, registrar, clock,
		services.PaymentServiceOptions{
			Environment:     cfg.PaymentEnvironment,
			ProviderTimeout: cfg.ProviderTimeout,
			ReturnURL:       cfg.CheckoutReturnURL,
			CancelURL:       cfg.CheckoutCancelURL,
			PollingExpiry:   cfg.PollingDefaultExpiry,
		}, log)
}

func providePaymentController(paymentService services.PaymentService) *controllers.PaymentController {
	return controllers.NewPaymentController(paymentService)
}
