package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payorch/internal/models/db_models"
	"payorch/internal/repositories"
	"payorch/pkg/utils"
)

const (
	ScopeCreatePayment = "payments.create"
	ScopeRefundPayment = "payments.refund"
)

func TenantScope(operation, tenantID string) string {
	return operation + ":" + tenantID
}

type IdempotencyCheck struct {
	Exists    bool
	Completed bool
	Expired   bool
	Status    db_models.IdempotencyStatus
	Response  json.RawMessage
	CreatedAt int64
	ExpiresAt int64
}

type IdempotencyOptions struct {
	TTL          time.Duration
	ClaimLease   time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

type IdempotencyService interface {
	GenerateKey(scope string) string
	CheckKey(ctx context.Context, key, scope string) (*IdempotencyCheck, error)
	// Execute runs op at most once per unexpired (key, scope) and returns the
	// JSON of its result to every caller.
	Execute(ctx context.Context, key, scope string, op func(ctx context.Context) (any, error)) (json.RawMessage, error)
	InvalidateKey(ctx context.Context, key, scope string) (bool, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

type idempotencyService struct {
	repo  repositories.IdempotencyRepository
	clock utils.Clock
	opts  IdempotencyOptions
	log   *zap.Logger
}

func NewIdempotencyService(repo repositories.IdempotencyRepository, clock utils.Clock, opts IdempotencyOptions, log *zap.Logger) IdempotencyService {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	return &idempotencyService{repo: repo, clock: clock, opts: opts, log: log.Named("idempotency")}
}

// ExecuteJSON is Execute with the response decoded into T.
func ExecuteJSON[T any](ctx context.Context, svc IdempotencyService, key, scope string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := svc.Execute(ctx, key, scope, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode cached response for %s: %w", scope, err)
	}
	return out, nil
}

func (s *idempotencyService) GenerateKey(scope string) string {
	id := uuid.New()
	return scope + ":" + hex.EncodeToString(id[:])
}

func (s *idempotencyService) CheckKey(ctx context.Context, key, scope string) (*IdempotencyCheck, error) {
	entry, err := s.repo.Find(ctx, key, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if entry == nil {
		return &IdempotencyCheck{}, nil
	}
	return &IdempotencyCheck{
		Exists:    true,
		Completed: entry.Status == db_models.IdempotencyStatusCompleted,
		Expired:   entry.Expired(s.clock.Now().Unix()),
		Status:    entry.Status,
		Response:  json.RawMessage(entry.Response),
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

func (s *idempotencyService) Execute(ctx context.Context, key, scope string, op func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	if key == "" {
		return nil, utils.ErrIdempotencyKeyRequired
	}

	waitTimer := time.NewTimer(s.opts.WaitTimeout)
	defer waitTimer.Stop()

	for {
		entry, err := s.repo.Find(ctx, key, scope)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
		}

		if entry != nil {
			now := s.clock.Now().Unix()
			switch {
			case entry.Expired(now):
				s.dropClaim(ctx, entry, "expired")
				continue
			case entry.Status == db_models.IdempotencyStatusCompleted:
				return json.RawMessage(entry.Response), nil
			case now-entry.CreatedAt >= seconds(s.opts.ClaimLease):
				s.dropClaim(ctx, entry, "stale claim")
				continue
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-waitTimer.C:
				return nil, utils.ErrIdempotencyInFlight
			case <-time.After(s.opts.PollInterval):
			}
			continue
		}

		now := s.clock.Now().Unix()
		claim := &db_models.IdempotencyKey{
			Key:       key,
			Scope:     scope,
			Status:    db_models.IdempotencyStatusInProgress,
			CreatedAt: now,
			ExpiresAt: now + seconds(s.opts.TTL),
		}
		if err := s.repo.Insert(ctx, claim); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return nil, fmt.Errorf("%w: claim idempotency key: %v", utils.ErrDatabaseError, err)
		}

		return s.runClaimed(ctx, claim, op)
	}
}

func (s *idempotencyService) runClaimed(ctx context.Context, claim *db_models.IdempotencyKey, op func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	// The claim must be resolved even if the caller goes away mid-operation.
	persistCtx := context.WithoutCancel(ctx)

	result, opErr := op(ctx)
	if opErr != nil {
		if _, err := s.repo.DeleteClaim(persistCtx, claim.ID, db_models.IdempotencyStatusInProgress, claim.CreatedAt); err != nil {
			s.log.Error("release failed claim", zap.String("scope", claim.Scope), zap.Error(err))
		}
		return nil, opErr
	}

	raw, err := json.Marshal(result)
	if err != nil {
		_, _ = s.repo.DeleteClaim(persistCtx, claim.ID, db_models.IdempotencyStatusInProgress, claim.CreatedAt)
		return nil, fmt.Errorf("encode idempotent response: %w", err)
	}

	ok, err := s.repo.Complete(persistCtx, claim.ID, raw, s.clock.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: store idempotent response: %v", utils.ErrDatabaseError, err)
	}
	if !ok {
		s.log.Warn("claim was taken over before completion", zap.String("scope", claim.Scope))
	}
	return raw, nil
}

func (s *idempotencyService) dropClaim(ctx context.Context, entry *db_models.IdempotencyKey, reason string) {
	deleted, err := s.repo.DeleteClaim(ctx, entry.ID, entry.Status, entry.CreatedAt)
	if err != nil {
		s.log.Warn("drop idempotency entry", zap.String("scope", entry.Scope), zap.String("reason", reason), zap.Error(err))
		return
	}
	if deleted {
		s.log.Debug("dropped idempotency entry", zap.String("scope", entry.Scope), zap.String("reason", reason))
	}
}

func (s *idempotencyService) InvalidateKey(ctx context.Context, key, scope string) (bool, error) {
	n, err := s.repo.Delete(ctx, key, scope)
	if err != nil {
		return false, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	return n > 0, nil
}

func (s *idempotencyService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	return n, nil
}

// seconds rounds d down to whole seconds, with a floor of one.
func seconds(d time.Duration) int64 {
	if s := int64(d / time.Second); s > 0 {
		return s
	}
	return 1
}
