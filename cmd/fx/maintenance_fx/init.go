package maintenance_fx

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"payorch/internal/infra"
	"payorch/internal/repositories"
	"payorch/internal/services"
	"payorch/pkg/utils"
)

var Module = fx.Options(
	fx.Provide(provideMongo, provideEventArchive, provideMaintenanceService),
	fx.Invoke(registerLifecycle),
)

func provideMongo(lc fx.Lifecycle, cfg *infra.Config, log *zap.Logger) (*mongo.Client, error) {
	client, err := infra.NewMongoClient(context.Background(), cfg)
	if err != nil || client == nil {
		return client, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("disconnecting mongo")
			return client.Disconnect(ctx)
		},
	})
	return client, nil
}

func provideEventArchive(client *mongo.Client, cfg *infra.Config, log *zap.Logger) repositories.EventArchive {
	if client == nil {
		log.Info("MONGO_URI not set, expired payment events are deleted without archiving")
		return repositories.NewNoopEventArchive()
	}
	return repositories.NewMongoEventArchive(client, cfg.MongoDatabase, cfg.MongoEventsArchive)
}

func provideMaintenanceService(
	events repositories.PaymentEventRepository,
	inbox repositories.WebhookInboxRepository,
	archive repositories.EventArchive,
	idem services.IdempotencyService,
	clock utils.Clock,
	cfg *infra.Config,
	log *zap.Logger,
) services.MaintenanceService {
	return services.NewMaintenanceService(events, inbox, archive, idem, clock, services.MaintenanceOptions{
		EventRetention: cfg.EventRetention,
		Interval:       cfg.SweepInterval,
	}, log)
}

func registerLifecycle(lc fx.Lifecycle, svc services.MaintenanceService) {
	lc.Append(fx.Hook{
		OnStart: svc.Start,
		OnStop:  svc.Stop,
	})
}
