package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payorch/internal/adapters"
	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
	"payorch/internal/models/response_models"
	"payorch/internal/testutil"
	"payorch/pkg/utils"
)

func createInput(orderID string, amount int64) CreatePaymentInput {
	return CreatePaymentInput{
		OrderID:     orderID,
		AmountMinor: amount,
		Currency:    "inr",
		Provider:    "fakepay",
		Method:      "upi",
		Metadata:    map[string]any{"cart": "c-1"},
	}
}

func paymentID(t *testing.T, resp *response_models.PaymentResponse) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	return id
}

func TestCreatePaymentThenWebhookCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.payments.CreatePayment(ctx, testTenant, "idem-1", createInput("order-1", 10000))
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.StatusPending), resp.Status)
	assert.Equal(t, "INR", resp.Currency)
	assert.Equal(t, "fakepay", resp.Provider)
	assert.Equal(t, "fpay_"+resp.MerchantTransactionID, resp.ProviderPaymentID)
	assert.Equal(t, "c-1", resp.Metadata["cart"])

	replay, err := h.payments.CreatePayment(ctx, testTenant, "idem-1", createInput("order-1", 10000))
	require.NoError(t, err)
	assert.Equal(t, resp.ID, replay.ID)
	assert.Equal(t, int32(1), h.primary.CreateCalls.Load())

	res, err := h.webhooks.HandleWebhook(ctx, WebhookInput{
		TenantID: testTenant,
		Provider: "fakepay",
		Headers:  signedHeaders(),
		Body: testutil.FakeWebhook{
			Event:             "payment.captured",
			Status:            "captured",
			ProviderPaymentID: resp.ProviderPaymentID,
			Amount:            testutil.Int64(10000),
		}.Body(),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)

	got, err := h.payments.GetPayment(ctx, testTenant, paymentID(t, resp))
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.StatusCompleted), got.Status)
	require.NotNil(t, got.CapturedAmountMinor)
	assert.Equal(t, int64(10000), *got.CapturedAmountMinor)

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "order-1", sent[0].OrderID)
	assert.Equal(t, int64(10000), sent[0].AmountMinor)

	_, err = h.payments.CreatePayment(ctx, testTenant, "idem-2", createInput("order-1", 10000))
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodeOrderAlreadyPaid), "got %v", err)

	events, err := h.payments.ListEvents(ctx, testTenant, paymentID(t, resp), 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, db_models.EventPaymentCreated)
	assert.Contains(t, types, db_models.EventPaymentStatusChanged)
	assert.Contains(t, types, db_models.EventPaymentSuccess)
}

func TestCreatePaymentValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.payments.CreatePayment(ctx, testTenant, "", createInput("o", 100))
	assert.ErrorIs(t, err, utils.ErrIdempotencyKeyRequired)

	_, err = h.payments.CreatePayment(ctx, testTenant, "k1", createInput("o", 0))
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodeInvalidAmount))

	in := createInput("o", 100)
	in.Currency = "RUPEE"
	_, err = h.payments.CreatePayment(ctx, testTenant, "k2", in)
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodeInvalidCurrency))

	in = createInput("o", 100)
	in.Provider = "nopay"
	_, err = h.payments.CreatePayment(ctx, testTenant, "k3", in)
	assert.ErrorIs(t, err, utils.ErrInvalidRequest)

	_, err = h.payments.CreatePayment(ctx, testTenant, "k4", createInput(" ", 100))
	assert.ErrorIs(t, err, utils.ErrInvalidRequest)
	assert.Zero(t, h.primary.CreateCalls.Load())
}

func TestCreatePaymentRejectsDifferentAmountForActiveOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.payments.CreatePayment(ctx, testTenant, "a", createInput("order-2", 10000))
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.payments.CreatePayment(ctx, testTenant, "b", createInput("order-2", 9000))
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodeAmountMismatch), "got %v", err)

	h.clock.Advance(time.Second)
	second, err := h.payments.CreatePayment(ctx, testTenant, "c", createInput("order-2", 10000))
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.StatusPending), second.Status)
}

func TestCreatePaymentFallsThroughUnavailableProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.primary.SetCreateResult(nil, &adapters.ProviderError{Provider: "fakepay", StatusCode: 503, Message: "down"})

	in := createInput("order-3", 5000)
	in.Provider = ""
	resp, err := h.payments.CreatePayment(ctx, testTenant, "fall-1", in)
	require.NoError(t, err)
	assert.Equal(t, "backuppay", resp.Provider)
	assert.Equal(t, int32(1), h.primary.CreateCalls.Load())
	assert.Equal(t, int32(1), h.backup.CreateCalls.Load())

	attempts, err := h.paymentRepo.ListByOrder(ctx, testTenant, "order-3")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		if a.Provider == "fakepay" {
			assert.Equal(t, lifecycle.StatusFailed, a.Status)
			assert.Equal(t, "PROVIDER_UNAVAILABLE", a.FailureCode)
		}
	}
}

func TestCreatePaymentNamedProviderRejection(t *testing.T) {
	h := newHarness(t)
	h.primary.SetCreateResult(nil, &adapters.ProviderError{Provider: "fakepay", StatusCode: 400, Code: "BAD_REQUEST", Message: "invalid vpa"})

	_, err := h.payments.CreatePayment(context.Background(), testTenant, "rej-1", createInput("order-4", 100))
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodeProviderRejected), "got %v", err)
	assert.Zero(t, h.backup.CreateCalls.Load())

	check, err := h.idem.CheckKey(context.Background(), "rej-1", TenantScope(ScopeCreatePayment, testTenant))
	require.NoError(t, err)
	assert.False(t, check.Exists)
}

func TestCreatePaymentRegistersPollingJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.primary.SetCreateResult(&adapters.CreatePaymentResult{
		ProviderPaymentID: "collect_1",
		RawStatus:         "PAYMENT_PENDING",
		RequiresPolling:   true,
		CheckoutExpiresAt: h.clock.Now().Add(20 * time.Minute),
	}, nil)

	resp, err := h.payments.CreatePayment(ctx, testTenant, "poll-1", createInput("order-5", 100))
	require.NoError(t, err)

	jobs, err := h.polling.ListJobs(ctx, testTenant, db_models.PollingJobPending, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, resp.ID, jobs[0].PaymentID.String())
	assert.Equal(t, h.clock.Now().Add(20*time.Minute).Unix(), jobs[0].ExpireAt)
}

func TestCreatePaymentRenewsExpiredCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.primary.SetCreateResult(&adapters.CreatePaymentResult{
		RawStatus:         "created",
		CheckoutURL:       "https://pay.example/c/1",
		CheckoutExpiresAt: h.clock.Now().Add(10 * time.Minute),
	}, nil)

	first, err := h.payments.CreatePayment(ctx, testTenant, "exp-1", createInput("order-6", 100))
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/c/1", first.CheckoutURL)

	h.clock.Advance(11 * time.Minute)
	h.primary.SetCreateResult(&adapters.CreatePaymentResult{
		RawStatus:         "created",
		CheckoutURL:       "https://pay.example/c/2",
		CheckoutExpiresAt: h.clock.Now().Add(10 * time.Minute),
	}, nil)

	second, err := h.payments.CreatePayment(ctx, testTenant, "exp-1", createInput("order-6", 100))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "https://pay.example/c/2", second.CheckoutURL)
	assert.Equal(t, int32(2), h.primary.CreateCalls.Load())
	assert.Equal(t, lifecycle.StatusCancelled, h.payment(t, paymentID(t, first)).Status)
}

func TestRefundPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedPayment(t, "fakepay", lifecycle.StatusCompleted, 1000)

	first, err := h.payments.RefundPayment(ctx, testTenant, "rk-1", RefundInput{PaymentID: p.ID, AmountMinor: 400, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.StatusCompleted), first.Status)
	assert.Equal(t, "rk-1", first.MerchantRefundID)
	assert.Equal(t, "rk-1", h.primary.LastRefundInput().MerchantRefundID)
	assert.Equal(t, lifecycle.StatusPartiallyRefunded, h.payment(t, p.ID).Status)

	replay, err := h.payments.RefundPayment(ctx, testTenant, "rk-1", RefundInput{PaymentID: p.ID, AmountMinor: 900})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, int64(400), replay.AmountMinor)
	assert.Equal(t, int32(1), h.primary.RefundCalls.Load())

	_, err = h.payments.RefundPayment(ctx, testTenant, "rk-2", RefundInput{PaymentID: p.ID, AmountMinor: 700})
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodeRefundExceedsCaptured), "got %v", err)

	_, err = h.payments.RefundPayment(ctx, testTenant, "rk-3", RefundInput{PaymentID: p.ID, AmountMinor: 600})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusRefunded, h.payment(t, p.ID).Status)

	_, err = h.payments.RefundPayment(ctx, testTenant, "rk-4", RefundInput{PaymentID: p.ID, AmountMinor: 1})
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodePaymentNotRefundable), "got %v", err)
}

func TestConcurrentRefundsWithOneKeyCallProviderOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedPayment(t, "fakepay", lifecycle.StatusCompleted, 1000)

	const callers = 6
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h.payments.RefundPayment(ctx, testTenant, "same-key", RefundInput{PaymentID: p.ID, AmountMinor: 250})
			errs[i] = err
			if resp != nil {
				ids[i] = resp.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int32(1), h.primary.RefundCalls.Load())
	assert.Equal(t, int64(250), h.primary.LastRefundInput().AmountMinor)

	refunds, err := h.refundRepo.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)
}

func TestRefundRules(t *testing.T) {
	t.Run("pending payment", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedPayment(t, "fakepay", lifecycle.StatusPending, 1000)
		_, err := h.payments.RefundPayment(context.Background(), testTenant, "k", RefundInput{PaymentID: p.ID, AmountMinor: 10})
		assert.True(t, utils.IsPaymentErrorCode(err, utils.CodePaymentNotRefundable))
	})

	t.Run("unknown payment", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.payments.RefundPayment(context.Background(), testTenant, "k", RefundInput{PaymentID: uuid.New(), AmountMinor: 10})
		assert.ErrorIs(t, err, utils.ErrPaymentNotFound)
	})

	t.Run("non positive amount", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.payments.RefundPayment(context.Background(), testTenant, "k", RefundInput{PaymentID: uuid.New()})
		assert.True(t, utils.IsPaymentErrorCode(err, utils.CodeInvalidAmount))
	})

	t.Run("provider without refunds", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedPayment(t, "fakepay", lifecycle.StatusCompleted, 1000)
		h.primary.SetRefundResult(nil, fmt.Errorf("fakepay: %w", adapters.ErrOperationNotSupported))
		_, err := h.payments.RefundPayment(context.Background(), testTenant, "k", RefundInput{PaymentID: p.ID, AmountMinor: 10})
		assert.True(t, utils.IsPaymentErrorCode(err, utils.CodePaymentNotRefundable))
	})

	t.Run("failed provider refund is kept", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		p := h.seedPayment(t, "fakepay", lifecycle.StatusCompleted, 1000)
		h.primary.SetRefundResult(nil, errors.New("connection reset"))

		_, err := h.payments.RefundPayment(ctx, testTenant, "k", RefundInput{PaymentID: p.ID, AmountMinor: 1000})
		assert.ErrorIs(t, err, utils.ErrProviderCallFailed)

		retry, err := h.payments.RefundPayment(ctx, testTenant, "k", RefundInput{PaymentID: p.ID, AmountMinor: 1000})
		require.NoError(t, err)
		assert.Equal(t, string(lifecycle.StatusFailed), retry.Status)
		assert.Equal(t, int32(1), h.primary.RefundCalls.Load())

		h.primary.SetRefundResult(nil, nil)
		fresh, err := h.payments.RefundPayment(ctx, testTenant, "k2", RefundInput{PaymentID: p.ID, AmountMinor: 1000})
		require.NoError(t, err)
		assert.Equal(t, string(lifecycle.StatusCompleted), fresh.Status)
	})
}

func TestCancelPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pending := h.seedPayment(t, "fakepay", lifecycle.StatusPending, 100)

	resp, err := h.payments.CancelPayment(ctx, testTenant, pending.ID, "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.StatusCancelled), resp.Status)
	assert.Equal(t, "customer changed mind", resp.Metadata["cancel_reason"])

	again, err := h.payments.CancelPayment(ctx, testTenant, pending.ID, "")
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.StatusCancelled), again.Status)
	assert.Equal(t, int64(1), h.countEvents(t, pending.ID, db_models.EventPaymentCancelled))

	completed := h.seedPayment(t, "fakepay", lifecycle.StatusCompleted, 100)
	_, err = h.payments.CancelPayment(ctx, testTenant, completed.ID, "")
	assert.True(t, utils.IsPaymentErrorCode(err, utils.CodePaymentNotCancellable))

	_, err = h.payments.CancelPayment(ctx, "other-tenant", pending.ID, "")
	assert.ErrorIs(t, err, utils.ErrPaymentNotFound)
}

func TestGetStatus(t *testing.T) {
	t.Run("verifies open payment", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedPayment(t, "fakepay", lifecycle.StatusPending, 100)
		h.primary.SetVerifyResults(&adapters.PaymentStatusResult{RawStatus: "captured", ProviderTransactionID: "txn_9"})

		out, err := h.payments.GetStatus(context.Background(), testTenant, p.ID)
		require.NoError(t, err)
		assert.True(t, out.Verified)
		assert.Equal(t, string(lifecycle.StatusCompleted), out.Status)
		assert.Equal(t, "captured", out.ProviderStatus)
		assert.Equal(t, "txn_9", h.payment(t, p.ID).ProviderTransactionID)
	})

	t.Run("final failure is not re-verified", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedPayment(t, "fakepay", lifecycle.StatusFailed, 100)
		out, err := h.payments.GetStatus(context.Background(), testTenant, p.ID)
		require.NoError(t, err)
		assert.False(t, out.Verified)
		assert.Equal(t, string(lifecycle.StatusFailed), out.Status)
		assert.Zero(t, h.primary.VerifyCalls.Load())
	})

	t.Run("provider error keeps stored status", func(t *testing.T) {
		h := newHarness(t)
		p := h.seedPayment(t, "fakepay", lifecycle.StatusPending, 100)
		h.primary.SetVerifyError(errors.New("timeout"))
		out, err := h.payments.GetStatus(context.Background(), testTenant, p.ID)
		require.NoError(t, err)
		assert.False(t, out.Verified)
		assert.Equal(t, string(lifecycle.StatusPending), out.Status)
	})
}

func TestProviderHealth(t *testing.T) {
	h := newHarness(t)
	h.backup.SetHealthError(errors.New("401 unauthorized"))

	out, err := h.payments.ProviderHealth(context.Background(), testTenant)
	require.NoError(t, err)
	require.Len(t, out, 2)

	byName := map[string]response_models.ProviderHealthResponse{}
	for _, r := range out {
		byName[r.Provider] = r
	}
	assert.True(t, byName["fakepay"].Healthy)
	assert.False(t, byName["backuppay"].Healthy)
	assert.Contains(t, byName["backuppay"].Error, "401")
}
