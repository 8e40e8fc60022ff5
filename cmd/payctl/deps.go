package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payorch/internal/adapters"
	"payorch/internal/infra"
	"payorch/internal/repositories"
	"payorch/internal/services"
	"payorch/pkg/utils"
)

// deps is the subset of the server's object graph the CLI needs, built
// without fx so each command stays a short-lived process.
type deps struct {
	cfg   *infra.Config
	log   *zap.Logger
	db    *gorm.DB
	mongo *mongo.Client
	clock utils.Clock

	payments repositories.PaymentRepository
	refunds  repositories.RefundRepository
	events   repositories.PaymentEventRepository
	configs  repositories.ProviderConfigRepository
	inbox    repositories.WebhookInboxRepository
	jobs     repositories.PollingJobRepository
	idemRepo repositories.IdempotencyRepository

	registry *adapters.Registry
	resolver *adapters.Resolver
	idem     services.IdempotencyService
	updater  *services.PaymentUpdater
}

func newDeps(ctx context.Context) (*deps, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := infra.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	db, err := infra.InitPostgresql(cfg, log)
	if err != nil {
		return nil, err
	}

	rt := &deps{
		cfg:      cfg,
		log:      log,
		db:       db,
		clock:    utils.SystemClock(),
		payments: repositories.NewPaymentRepository(db),
		refunds:  repositories.NewRefundRepository(db),
		events:   repositories.NewPaymentEventRepository(db),
		configs:  repositories.NewProviderConfigRepository(db),
		inbox:    repositories.NewWebhookInboxRepository(db),
		jobs:     repositories.NewPollingJobRepository(db),
		idemRepo: repositories.NewIdempotencyRepository(db),
	}
	rt.registry = adapters.DefaultRegistry()
	rt.resolver = adapters.NewResolver(rt.registry, rt.configs, adapters.ResolverOptions{
		CacheTTL:        cfg.ResolverCacheTTL,
		ProviderTimeout: cfg.ProviderTimeout,
	}, log)
	rt.idem = services.NewIdempotencyService(rt.idemRepo, rt.clock, services.IdempotencyOptions{
		TTL:          cfg.IdempotencyTTL,
		ClaimLease:   cfg.IdempotencyClaimLease,
		PollInterval: cfg.IdempotencyPollInterval,
		WaitTimeout:  cfg.IdempotencyWaitTimeout,
	}, log)
	rt.updater = services.NewPaymentUpdater(db, rt.payments, rt.refunds, rt.events, services.NewLogOrderNotifier(log), rt.clock, log)
	return rt, nil
}

func (rt *deps) pollingWorker() services.PollingWorker {
	return services.NewPollingWorker(rt.jobs, rt.payments, rt.events, rt.resolver, rt.updater, rt.clock, services.PollingOptions{
		BatchSize:           rt.cfg.PollingBatchSize,
		Concurrency:         rt.cfg.PollingConcurrency,
		InitialInterval:     rt.cfg.PollingInitialInterval,
		MaxInterval:         rt.cfg.PollingMaxInterval,
		DefaultExpiry:       rt.cfg.PollingDefaultExpiry,
		ClaimLease:          rt.cfg.PollingClaimLease,
		ProviderCallTimeout: rt.cfg.ProviderTimeout,
		ProviderRPS:         rt.cfg.ProviderPollRPS,
		ProviderBurst:       rt.cfg.ProviderPollBurst,
	}, rt.log)
}

func (rt *deps) eventArchive(ctx context.Context) (repositories.EventArchive, error) {
	client, err := infra.NewMongoClient(ctx, rt.cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return repositories.NewNoopEventArchive(), nil
	}
	rt.mongo = client
	return repositories.NewMongoEventArchive(client, rt.cfg.MongoDatabase, rt.cfg.MongoEventsArchive), nil
}

func (rt *deps) Close(ctx context.Context) {
	if rt.mongo != nil {
		_ = rt.mongo.Disconnect(ctx)
	}
	infra.ClosePostgresql(rt.db, rt.log)
	_ = rt.log.Sync()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
