package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"payorch/internal/adapters"
	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
	"payorch/internal/repositories"
	"payorch/pkg/utils"
)

const (
	MinJobExpiry = 300 * time.Second
	MaxJobExpiry = 3600 * time.Second
)

type PollingOptions struct {
	TickInterval        time.Duration
	BatchSize           int
	Concurrency         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	DefaultExpiry       time.Duration
	ClaimLease          time.Duration
	ProviderCallTimeout time.Duration
	ProviderRPS         float64
	ProviderBurst       int
}

type RegisterJobInput struct {
	TenantID              string
	PaymentID             uuid.UUID
	OrderID               string
	Provider              string
	MerchantTransactionID string
	Expiry                time.Duration
	CreatedAt             time.Time
}

type TickSummary struct {
	Due         int `json:"due"`
	Skipped     int `json:"skipped"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Expired     int `json:"expired"`
	Rescheduled int `json:"rescheduled"`
	Errors      int `json:"errors"`
}

type jobOutcome int

const (
	outcomeSkipped jobOutcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeExpired
	outcomeRescheduled
)

// JobRegistrar is the part of the worker payment creation depends on.
type JobRegistrar interface {
	RegisterJob(ctx context.Context, in RegisterJobInput) (*db_models.PollingJob, error)
}

type PollingWorker interface {
	JobRegistrar
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Tick(ctx context.Context) (TickSummary, error)
	ListJobs(ctx context.Context, tenantID string, status db_models.PollingJobStatus, limit int) ([]db_models.PollingJob, error)
}

type pollingWorker struct {
	jobs     repositories.PollingJobRepository
	payments repositories.PaymentRepository
	events   repositories.PaymentEventRepository
	resolver *adapters.Resolver
	updater  *PaymentUpdater
	clock    utils.Clock
	opts     PollingOptions
	log      *zap.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	loop *backgroundLoop
}

func NewPollingWorker(
	jobs repositories.PollingJobRepository,
	payments repositories.PaymentRepository,
	events repositories.PaymentEventRepository,
	resolver *adapters.Resolver,
	updater *PaymentUpdater,
	clock utils.Clock,
	opts PollingOptions,
	log *zap.Logger,
) PollingWorker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 5 * time.Second
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = opts.InitialInterval
	}
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = 15 * time.Minute
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 30 * time.Second
	}
	if opts.ProviderCallTimeout <= 0 {
		opts.ProviderCallTimeout = 10 * time.Second
	}

	w := &pollingWorker{
		jobs:     jobs,
		payments: payments,
		events:   events,
		resolver: resolver,
		updater:  updater,
		clock:    clock,
		opts:     opts,
		log:      log.Named("polling_worker"),
		limiters: make(map[string]*rate.Limiter),
	}
	w.loop = newBackgroundLoop("polling", opts.TickInterval, w.log, func(ctx context.Context) {
		summary, err := w.Tick(ctx)
		if err != nil {
			w.log.Error("tick failed", zap.Error(err))
			return
		}
		if summary.Due > 0 {
			w.log.Debug("tick", zap.Any("summary", summary))
		}
	})
	return w
}

// ClampExpiry bounds a job's lifetime to [MinJobExpiry, MaxJobExpiry].
func ClampExpiry(d time.Duration) time.Duration {
	if d < MinJobExpiry {
		return MinJobExpiry
	}
	if d > MaxJobExpiry {
		return MaxJobExpiry
	}
	return d
}

func (w *pollingWorker) RegisterJob(ctx context.Context, in RegisterJobInput) (*db_models.PollingJob, error) {
	expiry := in.Expiry
	if expiry <= 0 {
		expiry = w.opts.DefaultExpiry
	}
	expiry = ClampExpiry(expiry)

	created := in.CreatedAt
	if created.IsZero() {
		created = w.clock.Now()
	}
	createdAt := created.Unix()
	expireAt := createdAt + int64(expiry/time.Second)
	nextPollAt := min(createdAt+seconds(w.opts.InitialInterval), expireAt)

	job := &db_models.PollingJob{
		TenantID:              in.TenantID,
		PaymentID:             in.PaymentID,
		OrderID:               in.OrderID,
		Provider:              in.Provider,
		MerchantTransactionID: in.MerchantTransactionID,
		Status:                db_models.PollingJobPending,
		NextPollAt:            nextPollAt,
		ExpireAt:              expireAt,
		CreatedAt:             createdAt,
		UpdatedAt:             createdAt,
	}
	if err := w.jobs.Create(ctx, job); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: register polling job: %v", utils.ErrDatabaseError, err)
		}
		existing, ferr := w.jobs.FindByPayment(ctx, in.TenantID, in.PaymentID)
		if ferr != nil || existing == nil {
			return nil, fmt.Errorf("%w: load existing polling job: %v", utils.ErrDatabaseError, ferr)
		}
		return existing, nil
	}

	w.log.Info("polling job registered",
		zap.String("tenant", in.TenantID),
		zap.String("payment_id", in.PaymentID.String()),
		zap.String("provider", in.Provider),
		zap.Int64("expire_at", expireAt))
	return job, nil
}

func (w *pollingWorker) Start(context.Context) error {
	w.loop.Start()
	return nil
}

func (w *pollingWorker) Stop(ctx context.Context) error {
	return w.loop.Stop(ctx)
}

func (w *pollingWorker) ListJobs(ctx context.Context, tenantID string, status db_models.PollingJobStatus, limit int) ([]db_models.PollingJob, error) {
	jobs, err := w.jobs.List(ctx, tenantID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	return jobs, nil
}

// Tick polls every due job once. Jobs are independent: a failure is recorded
// on its own job and never aborts the batch.
func (w *pollingWorker) Tick(ctx context.Context) (TickSummary, error) {
	var summary TickSummary

	due, err := w.jobs.FindDue(ctx, w.clock.Now().Unix(), w.opts.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("%w: load due jobs: %v", utils.ErrDatabaseError, err)
	}
	summary.Due = len(due)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for i := range due {
		job := due[i]
		g.Go(func() error {
			outcome, jobErr := w.processJob(ctx, &job)
			mu.Lock()
			defer mu.Unlock()
			if jobErr != nil {
				summary.Errors++
			}
			switch outcome {
			case outcomeSkipped:
				summary.Skipped++
			case outcomeCompleted:
				summary.Completed++
			case outcomeFailed:
				summary.Failed++
			case outcomeExpired:
				summary.Expired++
			case outcomeRescheduled:
				summary.Rescheduled++
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

func (w *pollingWorker) limiter(provider string) *rate.Limiter {
	w.limitersMu.Lock()
	defer w.limitersMu.Unlock()
	l, ok := w.limiters[provider]
	if !ok {
		limit := rate.Inf
		if w.opts.ProviderRPS > 0 {
			limit = rate.Limit(w.opts.ProviderRPS)
		}
		burst := w.opts.ProviderBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		w.limiters[provider] = l
	}
	return l
}

// backoff returns the delay before poll number attempt+1.
func (w *pollingWorker) backoff(attempt int) time.Duration {
	d := w.opts.InitialInterval
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.opts.MaxInterval {
			return w.opts.MaxInterval
		}
	}
	return d
}

func (w *pollingWorker) processJob(ctx context.Context, job *db_models.PollingJob) (outcome jobOutcome, err error) {
	log := w.log.With(
		zap.String("job_id", job.ID.String()),
		zap.String("tenant", job.TenantID),
		zap.String("payment_id", job.PaymentID.String()),
		zap.String("provider", job.Provider))

	now := w.clock.Now().Unix()
	claimed, err := w.jobs.Claim(ctx, job.ID, job.NextPollAt, now+seconds(w.opts.ClaimLease), now)
	if err != nil {
		return outcomeSkipped, err
	}
	if !claimed {
		return outcomeSkipped, nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("polling job panicked", zap.Any("panic", r))
			outcome, err = w.recordFailure(ctx, job, job.Attempt+1, "", fmt.Errorf("panic: %v", r))
		}
	}()

	payment, err := w.payments.FindByID(ctx, job.TenantID, job.PaymentID)
	if err != nil {
		return w.recordFailure(ctx, job, job.Attempt, "", err)
	}
	if payment == nil {
		return w.finish(ctx, job, db_models.PollingJobFailed, job.Attempt, "", "payment not found")
	}
	if payment.Status.IsSettled() {
		return w.finishForStatus(ctx, job, payment.Status, job.Attempt, string(payment.Status))
	}

	if err := w.limiter(job.Provider).Wait(ctx); err != nil {
		return w.recordFailure(ctx, job, job.Attempt, "", fmt.Errorf("rate limiter: %w", err))
	}

	attempt := job.Attempt + 1
	capability, err := w.resolver.Resolve(ctx, job.Provider, payment.Environment, job.TenantID)
	if err != nil {
		return w.recordFailure(ctx, job, attempt, "", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.opts.ProviderCallTimeout)
	res, err := capability.VerifyPayment(callCtx, adapters.VerifyPaymentRequest{
		ProviderPaymentID:     payment.ProviderPaymentID,
		ProviderTransactionID: payment.ProviderTransactionID,
		MerchantTransactionID: payment.MerchantTransactionID,
		OrderID:               payment.OrderID,
		AmountMinor:           payment.AuthorizedAmountMinor,
		Currency:              payment.Currency,
	})
	cancel()
	if err != nil {
		log.Warn("verify payment failed", zap.Int("attempt", attempt), zap.Error(err))
		return w.recordFailure(ctx, job, attempt, "", err)
	}

	status, ok := lifecycle.Normalize(res.RawStatus)
	if !ok {
		return w.recordFailure(ctx, job, attempt, res.ResponseCode, fmt.Errorf("unrecognized provider status %q", res.RawStatus))
	}

	applied, err := w.updater.ApplyPaymentStatus(ctx, job.TenantID, job.PaymentID, StatusUpdate{
		Status:                status,
		RawStatus:             res.RawStatus,
		Source:                "polling",
		ProviderPaymentID:     res.ProviderPaymentID,
		ProviderTransactionID: res.ProviderTransactionID,
		ProviderReferenceID:   res.ProviderReferenceID,
		CapturedAmountMinor:   res.CapturedAmountMinor,
		PayerHandle:           res.PayerHandle,
		InstrumentType:        res.InstrumentType,
		ReceiptURL:            res.ReceiptURL,
		FailureCode:           res.FailureCode,
		FailureMessage:        res.FailureMessage,
		Metadata:              res.Metadata,
	})
	if err != nil {
		return w.recordFailure(ctx, job, attempt, res.ResponseCode, err)
	}

	current := applied.Payment.Status
	if current.IsSettled() {
		return w.finishForStatus(ctx, job, current, attempt, res.RawStatus)
	}
	return w.reschedule(ctx, job, attempt, res.RawStatus, res.ResponseCode, "")
}

func (w *pollingWorker) finishForStatus(ctx context.Context, job *db_models.PollingJob, status lifecycle.Status, attempt int, lastStatus string) (jobOutcome, error) {
	if status.IsSuccess() {
		return w.finish(ctx, job, db_models.PollingJobCompleted, attempt, lastStatus, "")
	}
	return w.finish(ctx, job, db_models.PollingJobFailed, attempt, lastStatus, "")
}

func (w *pollingWorker) finish(ctx context.Context, job *db_models.PollingJob, status db_models.PollingJobStatus, attempt int, lastStatus, lastError string) (jobOutcome, error) {
	now := w.clock.Now().Unix()
	updates := map[string]interface{}{
		"status":       status,
		"attempt":      attempt,
		"completed_at": now,
		"updated_at":   now,
	}
	if lastStatus != "" {
		updates["last_status"] = lastStatus
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	if _, err := w.jobs.Update(ctx, job.ID, updates); err != nil {
		return outcomeSkipped, err
	}
	if status == db_models.PollingJobCompleted {
		return outcomeCompleted, nil
	}
	return outcomeFailed, nil
}

// recordFailure keeps the error on the job and still counts the attempt.
func (w *pollingWorker) recordFailure(ctx context.Context, job *db_models.PollingJob, attempt int, responseCode string, cause error) (jobOutcome, error) {
	outcome, err := w.reschedule(ctx, job, attempt, "", responseCode, truncate(cause.Error(), 1000))
	if err != nil {
		return outcome, err
	}
	return outcome, cause
}

// reschedule expires the job once its window has passed, otherwise sets the
// next poll from the backoff, never later than the expiry.
func (w *pollingWorker) reschedule(ctx context.Context, job *db_models.PollingJob, attempt int, lastStatus, responseCode, lastError string) (jobOutcome, error) {
	now := w.clock.Now().Unix()
	updates := map[string]interface{}{
		"attempt":            attempt,
		"updated_at":         now,
		"last_error":         lastError,
		"last_response_code": responseCode,
	}
	if lastStatus != "" {
		updates["last_status"] = lastStatus
	}

	if now >= job.ExpireAt {
		updates["status"] = db_models.PollingJobExpired
		updates["completed_at"] = now
		ok, err := w.jobs.Update(ctx, job.ID, updates)
		if err != nil {
			return outcomeSkipped, err
		}
		if ok {
			w.recordExpiry(ctx, job, attempt)
		}
		return outcomeExpired, nil
	}

	next := now + seconds(w.backoff(attempt))
	if next > job.ExpireAt {
		next = job.ExpireAt
	}
	updates["next_poll_at"] = next
	if _, err := w.jobs.Update(ctx, job.ID, updates); err != nil {
		return outcomeSkipped, err
	}
	return outcomeRescheduled, nil
}

func (w *pollingWorker) recordExpiry(ctx context.Context, job *db_models.PollingJob, attempt int) {
	payment, err := w.payments.FindByID(ctx, job.TenantID, job.PaymentID)
	if err != nil || payment == nil {
		return
	}
	if err := w.updater.RecordEvent(ctx, payment, nil, db_models.EventPollingJobExpired, map[string]any{
		"job_id":   job.ID.String(),
		"attempts": attempt,
	}); err != nil {
		w.log.Warn("record polling expiry", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	w.log.Info("polling job expired", zap.String("job_id", job.ID.String()), zap.Int("attempts", attempt))
}
