package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payorch/internal/adapters"
	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
	"payorch/internal/repositories"
	"payorch/internal/testutil"
)

const (
	testTenant = "tenant-1"
	testEnv    = "sandbox"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []OrderPaidNotification
}

func (r *recordingNotifier) NotifyOrderPaid(_ context.Context, n OrderPaidNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Sent() []OrderPaidNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderPaidNotification(nil), r.sent...)
}

// harness wires the services against sqlite and two scriptable gateways:
// primary (priority 1) and backup (priority 2).
type harness struct {
	db    *gorm.DB
	clock *testutil.Clock

	primary *testutil.FakeCapability
	backup  *testutil.FakeCapability

	resolver *adapters.Resolver
	notifier *recordingNotifier

	paymentRepo repositories.PaymentRepository
	refundRepo  repositories.RefundRepository
	eventRepo   repositories.PaymentEventRepository
	inboxRepo   repositories.WebhookInboxRepository
	jobRepo     repositories.PollingJobRepository
	configRepo  repositories.ProviderConfigRepository

	idem     IdempotencyService
	updater  *PaymentUpdater
	polling  PollingWorker
	payments PaymentService
	webhooks WebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewDB(t)
	h := &harness{
		db:          db,
		clock:       testutil.NewClock(time.Unix(1_700_000_000, 0)),
		primary:     testutil.NewFakeCapability("fakepay"),
		backup:      testutil.NewFakeCapability("backuppay"),
		notifier:    &recordingNotifier{},
		paymentRepo: repositories.NewPaymentRepository(db),
		refundRepo:  repositories.NewRefundRepository(db),
		eventRepo:   repositories.NewPaymentEventRepository(db),
		inboxRepo:   repositories.NewWebhookInboxRepository(db),
		jobRepo:     repositories.NewPollingJobRepository(db),
		configRepo:  repositories.NewProviderConfigRepository(db),
	}
	log := zap.NewNop()

	registry := adapters.NewRegistry()
	registry.MustRegister(h.primary.Registration())
	registry.MustRegister(h.backup.Registration())
	registry.MustRegister(testutil.NewFakeCapability("brokenpay").Registration())

	testutil.SeedProviderConfig(t, db, testTenant, "fakepay", testEnv, 1, map[string]string{"secret": "s1"})
	testutil.SeedProviderConfig(t, db, testTenant, "backuppay", testEnv, 2, map[string]string{"secret": "s2"})

	h.resolver = adapters.NewResolver(registry, h.configRepo, adapters.ResolverOptions{}, log)
	h.idem = NewIdempotencyService(repositories.NewIdempotencyRepository(db), h.clock, IdempotencyOptions{
		TTL:          time.Hour,
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  5 * time.Second,
	}, log)
	h.updater = NewPaymentUpdater(db, h.paymentRepo, h.refundRepo, h.eventRepo, h.notifier, h.clock, log)
	h.polling = NewPollingWorker(h.jobRepo, h.paymentRepo, h.eventRepo, h.resolver, h.updater, h.clock, PollingOptions{
		InitialInterval: 5 * time.Second,
		MaxInterval:     time.Minute,
		DefaultExpiry:   10 * time.Minute,
		ClaimLease:      30 * time.Second,
	}, log)
	h.payments = NewPaymentService(db, h.paymentRepo, h.refundRepo, h.eventRepo, h.configRepo, h.resolver, h.idem,
		h.updater, h.polling, h.clock, PaymentServiceOptions{
			Environment:   testEnv,
			PollingExpiry: 10 * time.Minute,
		}, log)
	h.webhooks = NewWebhookService(h.inboxRepo, h.paymentRepo, h.refundRepo, h.resolver, h.updater, h.clock,
		WebhookOptions{Environment: testEnv}, log)
	return h
}

// seedPayment stores a payment directly, bypassing any provider call.
func (h *harness) seedPayment(t *testing.T, provider string, status lifecycle.Status, amount int64) *db_models.Payment {
	t.Helper()
	p := &db_models.Payment{
		TenantID:              testTenant,
		OrderID:               "order-" + uuid.NewString()[:8],
		Provider:              provider,
		Environment:           testEnv,
		MerchantTransactionID: "MT" + uuid.NewString()[:12],
		ProviderPaymentID:     "pp_" + uuid.NewString()[:8],
		AuthorizedAmountMinor: amount,
		Currency:              "INR",
		Status:                status,
	}
	if status.IsSuccess() {
		p.CapturedAmountMinor = &amount
	}
	require.NoError(t, h.db.Create(p).Error)
	return p
}

func (h *harness) payment(t *testing.T, id uuid.UUID) *db_models.Payment {
	t.Helper()
	p, err := h.paymentRepo.FindByID(context.Background(), testTenant, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (h *harness) countEvents(t *testing.T, paymentID uuid.UUID, eventType string) int64 {
	t.Helper()
	n, err := h.eventRepo.CountByType(context.Background(), paymentID, eventType)
	require.NoError(t, err)
	return n
}
