package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payorch/internal/repositories"
	"payorch/internal/testutil"
	"payorch/pkg/utils"
)

type echoResponse struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

func newTestIdempotency(t *testing.T) (IdempotencyService, *testutil.Clock) {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	svc := NewIdempotencyService(repositories.NewIdempotencyRepository(db), clock, IdempotencyOptions{
		TTL:          time.Hour,
		ClaimLease:   time.Minute,
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  5 * time.Second,
	}, zap.NewNop())
	return svc, clock
}

func TestIdempotencyConcurrentCallersShareOneExecution(t *testing.T) {
	svc, _ := newTestIdempotency(t)
	ctx := context.Background()

	var runs atomic.Int32
	const callers = 8
	results := make([]echoResponse, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ExecuteJSON(ctx, svc, "key-1", "scope-a", func(ctx context.Context) (echoResponse, error) {
				n := runs.Add(1)
				time.Sleep(20 * time.Millisecond)
				return echoResponse{Value: int(n), Label: "first"}, nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, echoResponse{Value: 1, Label: "first"}, results[i])
	}
}

func TestIdempotencyScopesAreIndependent(t *testing.T) {
	svc, _ := newTestIdempotency(t)
	ctx := context.Background()

	var runs atomic.Int32
	op := func(ctx context.Context) (echoResponse, error) {
		return echoResponse{Value: int(runs.Add(1))}, nil
	}

	a, err := ExecuteJSON(ctx, svc, "same", TenantScope(ScopeCreatePayment, "t1"), op)
	require.NoError(t, err)
	b, err := ExecuteJSON(ctx, svc, "same", TenantScope(ScopeCreatePayment, "t2"), op)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Value)
	assert.Equal(t, 2, b.Value)
}

func TestIdempotencyFailureReleasesClaim(t *testing.T) {
	svc, _ := newTestIdempotency(t)
	ctx := context.Background()
	boom := errors.New("provider down")

	_, err := ExecuteJSON(ctx, svc, "k", "s", func(ctx context.Context) (echoResponse, error) {
		return echoResponse{}, boom
	})
	require.ErrorIs(t, err, boom)

	check, err := svc.CheckKey(ctx, "k", "s")
	require.NoError(t, err)
	assert.False(t, check.Exists)

	out, err := ExecuteJSON(ctx, svc, "k", "s", func(ctx context.Context) (echoResponse, error) {
		return echoResponse{Value: 7}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, out.Value)
}

func TestIdempotencyExpiredEntryRunsAgain(t *testing.T) {
	svc, clock := newTestIdempotency(t)
	ctx := context.Background()

	var runs atomic.Int32
	op := func(ctx context.Context) (echoResponse, error) {
		return echoResponse{Value: int(runs.Add(1))}, nil
	}

	first, err := ExecuteJSON(ctx, svc, "k", "s", op)
	require.NoError(t, err)
	replay, err := ExecuteJSON(ctx, svc, "k", "s", op)
	require.NoError(t, err)
	assert.Equal(t, first, replay)

	clock.Advance(time.Hour)

	check, err := svc.CheckKey(ctx, "k", "s")
	require.NoError(t, err)
	assert.True(t, check.Exists)
	assert.True(t, check.Expired)

	again, err := ExecuteJSON(ctx, svc, "k", "s", op)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Value)
}

func TestIdempotencyStaleClaimIsTakenOver(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	repo := repositories.NewIdempotencyRepository(db)
	svc := NewIdempotencyService(repo, clock, IdempotencyOptions{
		TTL:          time.Hour,
		ClaimLease:   time.Minute,
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  time.Second,
	}, zap.NewNop())
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Execute(ctx, "k", "s", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return echoResponse{Value: 1}, nil
		})
	}()
	<-started

	_, err := svc.Execute(ctx, "k", "s", func(ctx context.Context) (any, error) {
		return echoResponse{Value: 99}, nil
	})
	require.ErrorIs(t, err, utils.ErrIdempotencyInFlight)

	clock.Advance(2 * time.Minute)
	out, err := ExecuteJSON(ctx, svc, "k", "s", func(ctx context.Context) (echoResponse, error) {
		return echoResponse{Value: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Value)

	close(release)
	<-done
	check, err := svc.CheckKey(ctx, "k", "s")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":2,"label":""}`, string(check.Response))
}

func TestIdempotencyKeyRequired(t *testing.T) {
	svc, _ := newTestIdempotency(t)
	_, err := svc.Execute(context.Background(), "", "s", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, utils.ErrIdempotencyKeyRequired)
}

func TestIdempotencyInvalidateAndPurge(t *testing.T) {
	svc, clock := newTestIdempotency(t)
	ctx := context.Background()
	op := func(ctx context.Context) (any, error) { return echoResponse{Value: 1}, nil }

	_, err := svc.Execute(ctx, "a", "s", op)
	require.NoError(t, err)
	_, err = svc.Execute(ctx, "b", "s", op)
	require.NoError(t, err)

	deleted, err := svc.InvalidateKey(ctx, "a", "s")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.InvalidateKey(ctx, "a", "s")
	require.NoError(t, err)
	assert.False(t, deleted)

	clock.Advance(2 * time.Hour)
	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGenerateKeyIsScoped(t *testing.T) {
	svc, _ := newTestIdempotency(t)
	a := svc.GenerateKey("payments.create")
	b := svc.GenerateKey("payments.create")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "payments.create:")
}
