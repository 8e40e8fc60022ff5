package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
	"payorch/internal/testutil"
)

func TestInboxClaimIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookInboxRepository(testutil.NewDB(t))

	entry := func() *db_models.WebhookInboxEntry {
		return &db_models.WebhookInboxEntry{
			TenantID:   "tenant-1",
			Provider:   "razorpay",
			DedupeKey:  "dk-1",
			Status:     db_models.InboxStatusProcessing,
			RawPayload: "{}",
			ReceivedAt: 100,
			ClaimedAt:  100,
		}
	}

	first := entry()
	require.NoError(t, repo.Claim(ctx, first))
	assert.ErrorIs(t, repo.Claim(ctx, entry()), gorm.ErrDuplicatedKey)

	other := entry()
	other.Provider = "phonepe"
	require.NoError(t, repo.Claim(ctx, other))

	found, err := repo.FindByDedupeKey(ctx, "tenant-1", "razorpay", "dk-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	missing, err := repo.FindByDedupeKey(ctx, "tenant-2", "razorpay", "dk-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInboxReclaimRequiresObservedState(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookInboxRepository(testutil.NewDB(t))

	e := &db_models.WebhookInboxEntry{
		TenantID:   "tenant-1",
		Provider:   "razorpay",
		DedupeKey:  "dk-1",
		Status:     db_models.InboxStatusFailed,
		RawPayload: "{}",
		ReceivedAt: 100,
		ClaimedAt:  100,
	}
	require.NoError(t, repo.Claim(ctx, e))

	stale := *e
	ok, err := repo.Reclaim(ctx, e, 200, `{"retry":true}`, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Reclaim(ctx, &stale, 300, "{}", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, db_models.InboxStatusProcessing, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.EqualValues(t, 200, got.ClaimedAt)
	assert.Equal(t, `{"retry":true}`, got.RawPayload)
}

func TestRefundSums(t *testing.T) {
	ctx := context.Background()
	repo := NewRefundRepository(testutil.NewDB(t))
	paymentID := uuid.New()

	add := func(ref string, amount int64, status lifecycle.Status) *db_models.Refund {
		r := &db_models.Refund{
			TenantID:         "tenant-1",
			PaymentID:        paymentID,
			MerchantRefundID: ref,
			Provider:         "razorpay",
			AmountMinor:      amount,
			Currency:         "INR",
			Status:           status,
		}
		require.NoError(t, repo.Create(ctx, r))
		return r
	}
	add("r1", 100, lifecycle.StatusCompleted)
	pending := add("r2", 200, lifecycle.StatusPending)
	add("r3", 400, lifecycle.StatusFailed)
	add("r4", 800, lifecycle.StatusCancelled)

	committed, err := repo.SumCommitted(ctx, paymentID)
	require.NoError(t, err)
	assert.EqualValues(t, 300, committed)

	completed, err := repo.SumCompleted(ctx, paymentID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, completed)

	ok, err := repo.CompareAndSetStatus(ctx, pending.ID, lifecycle.StatusPending, map[string]interface{}{"status": lifecycle.StatusCompleted})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.CompareAndSetStatus(ctx, pending.ID, lifecycle.StatusPending, map[string]interface{}{"status": lifecycle.StatusFailed})
	require.NoError(t, err)
	assert.False(t, ok)

	completed, err = repo.SumCompleted(ctx, paymentID)
	require.NoError(t, err)
	assert.EqualValues(t, 300, completed)

	none, err := repo.SumCommitted(ctx, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, none)

	err = repo.Create(ctx, &db_models.Refund{
		TenantID: "tenant-1", PaymentID: paymentID, MerchantRefundID: "r1",
		Provider: "razorpay", AmountMinor: 1, Currency: "INR", Status: lifecycle.StatusPending,
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}
