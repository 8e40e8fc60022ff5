package notifier_fx

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"payorch/internal/infra"
	"payorch/internal/services"
)

var Module = fx.Provide(
	provideRedis,
	provideOrderNotifier,
)

func provideRedis(lc fx.Lifecycle, cfg *infra.Config, log *zap.Logger) (*redis.Client, error) {
	client, err := infra.NewRedisClient(context.Background(), cfg)
	if err != nil || client == nil {
		return client, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing redis client")
			return client.Close()
		},
	})
	return client, nil
}

func provideOrderNotifier(client *redis.Client, cfg *infra.Config, log *zap.Logger) services.OrderNotifier {
	if client == nil {
		log.Info("REDIS_URL not set, order-paid notifications are only logged")
		return services.NewLogOrderNotifier(log)
	}
	return services.NewRedisOrderNotifier(client, cfg.OrderPaidChannel)
}
