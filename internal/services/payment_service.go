package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"payorch/internal/adapters"
	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
	"payorch/internal/models/response_models"
	"payorch/internal/repositories"
	"payorch/pkg/utils"
)

const maxMerchantIDAttempts = 3

type CreatePaymentInput struct {
	OrderID       string
	AmountMinor   int64
	Currency      string
	Provider      string
	Method        string
	Description   string
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
	ReturnURL     string
	CancelURL     string
	Metadata      map[string]any
}

type RefundInput struct {
	PaymentID        uuid.UUID
	MerchantRefundID string
	AmountMinor      int64
	Reason           string
}

type PaymentServiceOptions struct {
	Environment     string
	ProviderTimeout time.Duration
	ReturnURL       string
	CancelURL       string
	PollingExpiry   time.Duration
}

type PaymentService interface {
	CreatePayment(ctx context.Context, tenantID, idemKey string, in CreatePaymentInput) (*response_models.PaymentResponse, error)
	RefundPayment(ctx context.Context, tenantID, idemKey string, in RefundInput) (*response_models.RefundResponse, error)
	CancelPayment(ctx context.Context, tenantID string, paymentID uuid.UUID, reason string) (*response_models.PaymentResponse, error)
	GetStatus(ctx context.Context, tenantID string, paymentID uuid.UUID) (*response_models.PaymentStatusResponse, error)
	GetPayment(ctx context.Context, tenantID string, paymentID uuid.UUID) (*response_models.PaymentResponse, error)
	ListEvents(ctx context.Context, tenantID string, paymentID uuid.UUID, limit int) ([]response_models.PaymentEventResponse, error)
	ProviderHealth(ctx context.Context, tenantID string) ([]response_models.ProviderHealthResponse, error)
}

type paymentService struct {
	db        *gorm.DB
	payments  repositories.PaymentRepository
	refunds   repositories.RefundRepository
	events    repositories.PaymentEventRepository
	configs   repositories.ProviderConfigRepository
	resolver  *adapters.Resolver
	idem      IdempotencyService
	updater   *PaymentUpdater
	registrar JobRegistrar
	clock     utils.Clock
	opts      PaymentServiceOptions
	log       *zap.Logger
}

func NewPaymentService(
	db *gorm.DB,
	payments repositories.PaymentRepository,
	refunds repositories.RefundRepository,
	events repositories.PaymentEventRepository,
	configs repositories.ProviderConfigRepository,
	resolver *adapters.Resolver,
	idem IdempotencyService,
	updater *PaymentUpdater,
	registrar JobRegistrar,
	clock utils.Clock,
	opts PaymentServiceOptions,
	log *zap.Logger,
) PaymentService {
	if opts.Environment == "" {
		opts.Environment = "sandbox"
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	return &paymentService{
		db:        db,
		payments:  payments,
		refunds:   refunds,
		events:    events,
		configs:   configs,
		resolver:  resolver,
		idem:      idem,
		updater:   updater,
		registrar: registrar,
		clock:     clock,
		opts:      opts,
		log:       log.Named("payment_service"),
	}
}

func validateCreate(in *CreatePaymentInput) error {
	in.OrderID = strings.TrimSpace(in.OrderID)
	if in.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", utils.ErrInvalidRequest)
	}
	if in.AmountMinor <= 0 {
		return utils.NewPaymentError(utils.CodeInvalidAmount, "amount must be greater than zero, got %d", in.AmountMinor)
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if len(in.Currency) != 3 || strings.Trim(in.Currency, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
		return utils.NewPaymentError(utils.CodeInvalidCurrency, "currency must be a 3-letter ISO code, got %q", in.Currency)
	}
	in.Provider = adapters.NormalizeProvider(in.Provider)
	return nil
}

func (s *paymentService) CreatePayment(ctx context.Context, tenantID, idemKey string, in CreatePaymentInput) (*response_models.PaymentResponse, error) {
	if strings.TrimSpace(idemKey) == "" {
		return nil, utils.ErrIdempotencyKeyRequired
	}
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	scope := TenantScope(ScopeCreatePayment, tenantID)
	execute := func() (*response_models.PaymentResponse, error) {
		return ExecuteJSON(ctx, s.idem, idemKey, scope, func(ctx context.Context) (*response_models.PaymentResponse, error) {
			return s.createPayment(ctx, tenantID, in)
		})
	}

	resp, err := execute()
	if err != nil {
		return nil, err
	}

	// A replayed response may point at a checkout page that no longer works.
	if resp.CheckoutExpiresAt > 0 && s.clock.Now().Unix() >= resp.CheckoutExpiresAt {
		renewed, err := s.expireCheckout(ctx, tenantID, resp)
		if err != nil {
			return nil, err
		}
		if renewed {
			if _, err := s.idem.InvalidateKey(ctx, idemKey, scope); err != nil {
				return nil, err
			}
			s.log.Info("checkout expired, creating a fresh attempt",
				zap.String("tenant", tenantID),
				zap.String("order_id", in.OrderID),
				zap.String("expired_payment_id", resp.ID))
			return execute()
		}
	}
	return resp, nil
}

// expireCheckout cancels the payment behind an expired checkout when it is
// still open. It reports whether a new attempt may be started.
func (s *paymentService) expireCheckout(ctx context.Context, tenantID string, resp *response_models.PaymentResponse) (bool, error) {
	id, err := uuid.Parse(resp.ID)
	if err != nil {
		return false, nil
	}
	p, err := s.payments.FindByID(ctx, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if p == nil || p.Status.IsSettled() {
		return false, nil
	}
	res, err := s.updater.ApplyPaymentStatus(ctx, tenantID, id, StatusUpdate{
		Status:    lifecycle.StatusCancelled,
		RawStatus: "checkout_expired",
		Source:    "checkout_expiry",
	})
	if err != nil {
		return false, err
	}
	return res.Payment.Status == lifecycle.StatusCancelled, nil
}

func (s *paymentService) createPayment(ctx context.Context, tenantID string, in CreatePaymentInput) (*response_models.PaymentResponse, error) {
	log := s.log.With(zap.String("tenant", tenantID), zap.String("order_id", in.OrderID))

	if err := s.checkOrderAttempts(ctx, tenantID, in); err != nil {
		return nil, err
	}

	candidates, err := s.paymentCandidates(ctx, tenantID, in.Provider)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, provider := range candidates {
		capability, err := s.resolver.Resolve(ctx, provider, s.opts.Environment, tenantID)
		if err != nil {
			if in.Provider != "" {
				return nil, providerSetupError(provider, err)
			}
			log.Warn("skipping provider", zap.String("provider", provider), zap.Error(err))
			lastErr = err
			continue
		}

		p, err := s.insertPayment(ctx, tenantID, provider, in)
		if err != nil {
			return nil, err
		}

		resp, err := s.startAttempt(ctx, capability, p, in)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, adapters.ErrProviderUnavailable) && i < len(candidates)-1 {
			log.Warn("provider unavailable, falling through",
				zap.String("provider", provider),
				zap.String("payment_id", p.ID.String()),
				zap.Error(err))
			continue
		}
		return nil, providerCallError(provider, err)
	}

	if lastErr == nil {
		return nil, utils.ErrNoProviderAvailable
	}
	if errors.Is(lastErr, adapters.ErrProviderUnavailable) {
		return nil, providerCallError("", lastErr)
	}
	return nil, fmt.Errorf("%w: %v", utils.ErrNoProviderAvailable, lastErr)
}

// checkOrderAttempts rejects a new attempt for an order already paid, or one
// whose amount disagrees with an attempt still in flight.
func (s *paymentService) checkOrderAttempts(ctx context.Context, tenantID string, in CreatePaymentInput) error {
	attempts, err := s.payments.ListByOrder(ctx, tenantID, in.OrderID)
	if err != nil {
		return fmt.Errorf("%w: list order attempts: %v", utils.ErrDatabaseError, err)
	}
	for _, a := range attempts {
		if a.OrderPaidAt != nil || a.Status.IsSuccess() {
			return utils.NewPaymentError(utils.CodeOrderAlreadyPaid, "order %s is already paid by payment %s", in.OrderID, a.ID)
		}
	}
	for _, a := range attempts {
		if a.Status.IsSettled() {
			continue
		}
		if a.AuthorizedAmountMinor != in.AmountMinor || a.Currency != in.Currency {
			return utils.NewPaymentError(utils.CodeAmountMismatch,
				"order %s has an active attempt for %d %s, got %d %s",
				in.OrderID, a.AuthorizedAmountMinor, a.Currency, in.AmountMinor, in.Currency)
		}
	}
	return nil
}

func (s *paymentService) paymentCandidates(ctx context.Context, tenantID, provider string) ([]string, error) {
	if provider != "" {
		if !s.resolver.Supports(provider) {
			return nil, fmt.Errorf("%w: %s: %v", utils.ErrInvalidRequest, provider, adapters.ErrUnsupportedProvider)
		}
		return []string{provider}, nil
	}
	candidates, err := s.resolver.Candidates(ctx, tenantID, s.opts.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if len(candidates) == 0 {
		return nil, utils.ErrNoProviderAvailable
	}
	return candidates, nil
}

func (s *paymentService) insertPayment(ctx context.Context, tenantID, provider string, in CreatePaymentInput) (*db_models.Payment, error) {
	metadata := datatypes.JSON("{}")
	if len(in.Metadata) > 0 {
		merged, _, err := mergeMetadata(metadata, in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", utils.ErrInvalidRequest, err)
		}
		metadata = merged
	}

	var lastErr error
	for i := 0; i < maxMerchantIDAttempts; i++ {
		p := &db_models.Payment{
			TenantID:              tenantID,
			OrderID:               in.OrderID,
			Provider:              provider,
			Environment:           s.opts.Environment,
			Method:                in.Method,
			MerchantTransactionID: utils.NewMerchantTransactionID(s.clock.Now()),
			AuthorizedAmountMinor: in.AmountMinor,
			Currency:              in.Currency,
			Status:                lifecycle.StatusCreated,
			Metadata:              metadata,
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.payments.WithTx(tx).Create(ctx, p); err != nil {
				return err
			}
			return s.events.WithTx(tx).Append(ctx, newPaymentEvent(p, nil, db_models.EventPaymentCreated, s.clock.Now().Unix(), map[string]any{
				"amount_minor": p.AuthorizedAmountMinor,
				"currency":     p.Currency,
				"method":       p.Method,
			}))
		})
		if err == nil {
			return p, nil
		}
		lastErr = err
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	return nil, fmt.Errorf("%w: create payment: %v", utils.ErrDatabaseError, lastErr)
}

// startAttempt calls the provider for a freshly inserted payment and records
// the outcome. A failed call leaves the attempt FAILED.
func (s *paymentService) startAttempt(ctx context.Context, capability adapters.Capability, p *db_models.Payment, in CreatePaymentInput) (*response_models.PaymentResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	result, err := capability.CreatePayment(callCtx, adapters.CreatePaymentRequest{
		TenantID:              p.TenantID,
		OrderID:               p.OrderID,
		MerchantTransactionID: p.MerchantTransactionID,
		AmountMinor:           p.AuthorizedAmountMinor,
		Currency:              p.Currency,
		Method:                p.Method,
		Description:           in.Description,
		CustomerID:            in.CustomerID,
		CustomerEmail:         in.CustomerEmail,
		CustomerPhone:         in.CustomerPhone,
		ReturnURL:             utils.PickFirstNonEmpty(in.ReturnURL, s.opts.ReturnURL),
		CancelURL:             utils.PickFirstNonEmpty(in.CancelURL, s.opts.CancelURL),
		Metadata:              in.Metadata,
	})
	cancel()
	if err != nil {
		s.failAttempt(ctx, p, err)
		return nil, err
	}

	fields := map[string]interface{}{}
	if result.CheckoutURL != "" {
		fields["checkout_url"] = result.CheckoutURL
	}
	if !result.CheckoutExpiresAt.IsZero() {
		fields["checkout_expires_at"] = result.CheckoutExpiresAt.Unix()
	}
	if len(fields) > 0 {
		if err := s.payments.UpdateFields(ctx, p.ID, fields); err != nil {
			return nil, fmt.Errorf("%w: store checkout: %v", utils.ErrDatabaseError, err)
		}
	}

	status := lifecycle.MustNormalize(result.RawStatus, lifecycle.StatusPending)
	if status == lifecycle.StatusCreated {
		status = lifecycle.StatusPending
	}
	applied, err := s.updater.ApplyPaymentStatus(ctx, p.TenantID, p.ID, StatusUpdate{
		Status:                status,
		RawStatus:             result.RawStatus,
		Source:                "create",
		ProviderPaymentID:     result.ProviderPaymentID,
		ProviderTransactionID: result.ProviderTransactionID,
		Metadata:              result.Metadata,
	})
	if err != nil {
		return nil, err
	}

	if result.RequiresPolling && !applied.Payment.Status.IsSettled() && s.registrar != nil {
		if _, err := s.registrar.RegisterJob(ctx, RegisterJobInput{
			TenantID:              p.TenantID,
			PaymentID:             p.ID,
			OrderID:               p.OrderID,
			Provider:              p.Provider,
			MerchantTransactionID: p.MerchantTransactionID,
			Expiry:                s.pollingExpiry(result),
			CreatedAt:             s.clock.Now(),
		}); err != nil {
			// The webhook path still settles the payment.
			s.log.Error("register polling job", zap.String("payment_id", p.ID.String()), zap.Error(err))
		}
	}

	s.log.Info("payment created",
		zap.String("tenant", p.TenantID),
		zap.String("payment_id", p.ID.String()),
		zap.String("provider", p.Provider),
		zap.String("status", string(applied.Payment.Status)))
	return toPaymentResponse(applied.Payment), nil
}

func (s *paymentService) pollingExpiry(result *adapters.CreatePaymentResult) time.Duration {
	if !result.CheckoutExpiresAt.IsZero() {
		if d := result.CheckoutExpiresAt.Sub(s.clock.Now()); d > 0 {
			return d
		}
	}
	return s.opts.PollingExpiry
}

func (s *paymentService) failAttempt(ctx context.Context, p *db_models.Payment, cause error) {
	code := "PROVIDER_ERROR"
	var perr *adapters.ProviderError
	switch {
	case errors.As(cause, &perr) && perr.Code != "":
		code = perr.Code
	case errors.Is(cause, adapters.ErrProviderUnavailable):
		code = "PROVIDER_UNAVAILABLE"
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := s.updater.ApplyPaymentStatus(ctx, p.TenantID, p.ID, StatusUpdate{
		Status:         lifecycle.StatusFailed,
		RawStatus:      "create_failed",
		Source:         "create",
		FailureCode:    code,
		FailureMessage: truncate(cause.Error(), 512),
	}); err != nil {
		s.log.Error("mark attempt failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
	}
}

func providerSetupError(provider string, err error) error {
	switch {
	case errors.Is(err, adapters.ErrProviderDisabled):
		return utils.NewPaymentError(utils.CodeProviderNotConfigured, "%s is not enabled for this tenant", provider)
	case adapters.IsConfigurationError(err):
		return utils.NewPaymentError(utils.CodeProviderNotConfigured, "%v", err)
	}
	return fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
}

func providerCallError(provider string, err error) error {
	if errors.Is(err, adapters.ErrProviderUnavailable) {
		return fmt.Errorf("%w: %v", utils.ErrProviderCallFailed, err)
	}
	var perr *adapters.ProviderError
	if errors.As(err, &perr) {
		return utils.NewPaymentError(utils.CodeProviderRejected, "%s rejected the request: %s", perr.Provider, utils.PickFirstNonEmpty(perr.Message, perr.Code))
	}
	var pe *utils.PaymentError
	if errors.As(err, &pe) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", utils.ErrProviderCallFailed, provider, err)
}

func (s *paymentService) RefundPayment(ctx context.Context, tenantID, idemKey string, in RefundInput) (*response_models.RefundResponse, error) {
	if strings.TrimSpace(idemKey) == "" {
		return nil, utils.ErrIdempotencyKeyRequired
	}
	if in.AmountMinor <= 0 {
		return nil, utils.NewPaymentError(utils.CodeInvalidAmount, "refund amount must be greater than zero, got %d", in.AmountMinor)
	}
	in.MerchantRefundID = strings.TrimSpace(in.MerchantRefundID)
	if in.MerchantRefundID == "" {
		in.MerchantRefundID = idemKey
		if len(in.MerchantRefundID) > 128 {
			in.MerchantRefundID = utils.HashKey(idemKey)
		}
	}
	return ExecuteJSON(ctx, s.idem, idemKey, TenantScope(ScopeRefundPayment, tenantID), func(ctx context.Context) (*response_models.RefundResponse, error) {
		return s.refundPayment(ctx, tenantID, in)
	})
}

func (s *paymentService) refundPayment(ctx context.Context, tenantID string, in RefundInput) (*response_models.RefundResponse, error) {
	p, err := s.payments.FindByID(ctx, tenantID, in.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if p == nil {
		return nil, utils.ErrPaymentNotFound
	}

	rf, existing, err := s.reserveRefund(ctx, p, in)
	if err != nil {
		return nil, err
	}
	if existing {
		return toRefundResponse(rf), nil
	}

	log := s.log.With(
		zap.String("tenant", tenantID),
		zap.String("payment_id", p.ID.String()),
		zap.String("refund_id", rf.ID.String()))

	capability, err := s.resolver.Resolve(ctx, p.Provider, p.Environment, tenantID)
	if err != nil {
		s.failRefund(ctx, rf, "PROVIDER_NOT_CONFIGURED", err)
		return nil, providerSetupError(p.Provider, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	result, err := capability.CreateRefund(callCtx, adapters.CreateRefundRequest{
		ProviderPaymentID:     p.ProviderPaymentID,
		ProviderTransactionID: p.ProviderTransactionID,
		MerchantTransactionID: p.MerchantTransactionID,
		MerchantRefundID:      rf.MerchantRefundID,
		AmountMinor:           rf.AmountMinor,
		Currency:              rf.Currency,
		Reason:                rf.Reason,
	})
	cancel()
	if err != nil {
		log.Warn("provider refund failed", zap.Error(err))
		if errors.Is(err, adapters.ErrOperationNotSupported) || errors.Is(err, adapters.ErrUnsupportedProvider) {
			s.failRefund(ctx, rf, "NOT_SUPPORTED", err)
			return nil, utils.NewPaymentError(utils.CodePaymentNotRefundable, "%s does not support refunds", p.Provider)
		}
		s.failRefund(ctx, rf, "PROVIDER_ERROR", err)
		return nil, providerCallError(p.Provider, err)
	}

	status := lifecycle.MustNormalize(result.RawStatus, lifecycle.StatusPending)
	applied, err := s.updater.ApplyRefundStatus(ctx, tenantID, rf.ID, RefundUpdate{
		Status:           status,
		RawStatus:        result.RawStatus,
		Source:           "refund",
		ProviderRefundID: result.ProviderRefundID,
		FailureCode:      result.FailureCode,
		FailureMessage:   result.FailureMessage,
	})
	if err != nil {
		return nil, err
	}
	log.Info("refund submitted", zap.String("status", string(applied.Refund.Status)), zap.Int64("amount_minor", rf.AmountMinor))
	return toRefundResponse(applied.Refund), nil
}

// reserveRefund inserts the refund row after checking the refundable balance.
// The payment row is touched first so concurrent reservations for the same
// payment serialize on its lock.
func (s *paymentService) reserveRefund(ctx context.Context, p *db_models.Payment, in RefundInput) (*db_models.Refund, bool, error) {
	var (
		rf       *db_models.Refund
		existing bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.payments.WithTx(tx)
		refunds := s.refunds.WithTx(tx)

		if err := payments.UpdateFields(ctx, p.ID, map[string]interface{}{"updated_at": s.clock.Now().Unix()}); err != nil {
			return err
		}
		found, err := refunds.FindByMerchantRefundID(ctx, p.ID, in.MerchantRefundID)
		if err != nil {
			return err
		}
		if found != nil {
			rf, existing = found, true
			return nil
		}

		current, err := payments.FindByID(ctx, p.TenantID, p.ID)
		if err != nil {
			return err
		}
		if current.Status != lifecycle.StatusCompleted && current.Status != lifecycle.StatusPartiallyRefunded {
			return utils.NewPaymentError(utils.CodePaymentNotRefundable, "payment %s is %s", current.ID, current.Status)
		}
		committed, err := refunds.SumCommitted(ctx, current.ID)
		if err != nil {
			return err
		}
		if available := current.CapturedOrAuthorized() - committed; in.AmountMinor > available {
			return utils.NewPaymentError(utils.CodeRefundExceedsCaptured,
				"refund of %d exceeds the refundable balance %d", in.AmountMinor, available)
		}

		rf = &db_models.Refund{
			TenantID:         current.TenantID,
			PaymentID:        current.ID,
			MerchantRefundID: in.MerchantRefundID,
			Provider:         current.Provider,
			AmountMinor:      in.AmountMinor,
			Currency:         current.Currency,
			Status:           lifecycle.StatusCreated,
			Reason:           in.Reason,
		}
		if err := refunds.Create(ctx, rf); err != nil {
			return err
		}
		return s.events.WithTx(tx).Append(ctx, newPaymentEvent(current, &rf.ID, db_models.EventRefundCreated, s.clock.Now().Unix(), map[string]any{
			"amount_minor":       rf.AmountMinor,
			"merchant_refund_id": rf.MerchantRefundID,
		}))
	})
	if err != nil {
		var pe *utils.PaymentError
		if errors.As(err, &pe) {
			return nil, false, err
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			found, ferr := s.refunds.FindByMerchantRefundID(ctx, p.ID, in.MerchantRefundID)
			if ferr == nil && found != nil {
				return found, true, nil
			}
		}
		return nil, false, fmt.Errorf("%w: reserve refund: %v", utils.ErrDatabaseError, err)
	}
	return rf, existing, nil
}

func (s *paymentService) failRefund(ctx context.Context, rf *db_models.Refund, code string, cause error) {
	if _, err := s.updater.ApplyRefundStatus(context.WithoutCancel(ctx), rf.TenantID, rf.ID, RefundUpdate{
		Status:         lifecycle.StatusFailed,
		RawStatus:      "refund_failed",
		Source:         "refund",
		FailureCode:    code,
		FailureMessage: truncate(cause.Error(), 512),
	}); err != nil {
		s.log.Error("mark refund failed", zap.String("refund_id", rf.ID.String()), zap.Error(err))
	}
}

func (s *paymentService) CancelPayment(ctx context.Context, tenantID string, paymentID uuid.UUID, reason string) (*response_models.PaymentResponse, error) {
	p, err := s.payments.FindByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if p == nil {
		return nil, utils.ErrPaymentNotFound
	}
	if p.Status == lifecycle.StatusCancelled {
		return toPaymentResponse(p), nil
	}
	if p.Status.IsSettled() {
		return nil, utils.NewPaymentError(utils.CodePaymentNotCancellable, "payment %s is %s", p.ID, p.Status)
	}

	upd := StatusUpdate{
		Status:         lifecycle.StatusCancelled,
		RawStatus:      "cancelled",
		Source:         "merchant",
		FailureMessage: reason,
	}
	if reason != "" {
		upd.Metadata = map[string]any{"cancel_reason": reason}
	}
	res, err := s.updater.ApplyPaymentStatus(ctx, tenantID, paymentID, upd)
	if err != nil {
		return nil, err
	}
	if res.Payment.Status != lifecycle.StatusCancelled {
		return nil, utils.NewPaymentError(utils.CodePaymentNotCancellable, "payment %s is %s", p.ID, res.Payment.Status)
	}
	return toPaymentResponse(res.Payment), nil
}

func (s *paymentService) GetStatus(ctx context.Context, tenantID string, paymentID uuid.UUID) (*response_models.PaymentStatusResponse, error) {
	p, err := s.payments.FindByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if p == nil {
		return nil, utils.ErrPaymentNotFound
	}

	out := &response_models.PaymentStatusResponse{
		PaymentID: p.ID.String(),
		Status:    string(p.Status),
		CheckedAt: s.clock.Now().Unix(),
	}
	switch p.Status {
	case lifecycle.StatusFailed, lifecycle.StatusCancelled, lifecycle.StatusRefunded:
		return out, nil
	}

	log := s.log.With(zap.String("tenant", tenantID), zap.String("payment_id", p.ID.String()), zap.String("provider", p.Provider))
	capability, err := s.resolver.Resolve(ctx, p.Provider, p.Environment, tenantID)
	if err != nil {
		log.Warn("status check skipped", zap.Error(err))
		return out, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	res, err := capability.VerifyPayment(callCtx, adapters.VerifyPaymentRequest{
		ProviderPaymentID:     p.ProviderPaymentID,
		ProviderTransactionID: p.ProviderTransactionID,
		MerchantTransactionID: p.MerchantTransactionID,
		OrderID:               p.OrderID,
		AmountMinor:           p.AuthorizedAmountMinor,
		Currency:              p.Currency,
	})
	cancel()
	if err != nil {
		log.Warn("status check failed", zap.Error(err))
		return out, nil
	}
	out.ProviderStatus = res.RawStatus

	status, ok := lifecycle.Normalize(res.RawStatus)
	if !ok {
		log.Warn("unrecognized provider status", zap.String("raw_status", res.RawStatus))
		return out, nil
	}
	applied, err := s.updater.ApplyPaymentStatus(ctx, tenantID, paymentID, StatusUpdate{
		Status:                status,
		RawStatus:             res.RawStatus,
		Source:                "status_check",
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
		return nil, err
	}
	out.Status = string(applied.Payment.Status)
	out.Verified = true
	return out, nil
}

func (s *paymentService) GetPayment(ctx context.Context, tenantID string, paymentID uuid.UUID) (*response_models.PaymentResponse, error) {
	p, err := s.payments.FindByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if p == nil {
		return nil, utils.ErrPaymentNotFound
	}
	return toPaymentResponse(p), nil
}

func (s *paymentService) ListEvents(ctx context.Context, tenantID string, paymentID uuid.UUID, limit int) ([]response_models.PaymentEventResponse, error) {
	p, err := s.payments.FindByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if p == nil {
		return nil, utils.ErrPaymentNotFound
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := s.events.ListByPayment(ctx, tenantID, paymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	out := make([]response_models.PaymentEventResponse, 0, len(events))
	for i := range events {
		out = append(out, toEventResponse(&events[i]))
	}
	return out, nil
}

func (s *paymentService) ProviderHealth(ctx context.Context, tenantID string) ([]response_models.ProviderHealthResponse, error) {
	configs, err := s.configs.ListProviderConfigs(ctx, tenantID, s.opts.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}

	out := make([]response_models.ProviderHealthResponse, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range configs {
		i := i
		cfg := configs[i]
		out[i] = response_models.ProviderHealthResponse{Provider: cfg.Provider, Enabled: cfg.Enabled}
		if !cfg.Enabled {
			continue
		}
		g.Go(func() error {
			started := time.Now()
			err := s.checkProvider(gctx, tenantID, cfg.Provider)
			out[i].LatencyMS = time.Since(started).Milliseconds()
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Healthy = true
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *paymentService) checkProvider(ctx context.Context, tenantID, provider string) error {
	capability, err := s.resolver.Resolve(ctx, provider, s.opts.Environment, tenantID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	return capability.HealthCheck(ctx)
}
