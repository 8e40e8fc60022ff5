package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payorch/internal/adapters"
	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
	"payorch/internal/repositories"
	"payorch/pkg/utils"
)

type WebhookOutcome string

const (
	WebhookProcessed        WebhookOutcome = "processed"
	WebhookAlreadyProcessed WebhookOutcome = "already_processed"
	WebhookInFlight         WebhookOutcome = "in_flight"
	WebhookRejected         WebhookOutcome = "rejected"
	WebhookUnauthorized     WebhookOutcome = "unauthorized"
	WebhookInvalid          WebhookOutcome = "invalid"
	WebhookMisconfigured    WebhookOutcome = "misconfigured"
	WebhookFailed           WebhookOutcome = "failed"
)

// redactedHeaders are never written to the inbox.
var redactedHeaders = map[string]bool{"Authorization": true, "Cookie": true}

type WebhookInput struct {
	TenantID string
	// Provider is empty when the delivery URL does not name one; every
	// enabled provider of the tenant is then tried in fallback order.
	Provider string
	Headers  http.Header
	Body     []byte
}

type WebhookResult struct {
	HTTPStatus int
	Outcome    WebhookOutcome
	Provider   string
	InboxID    *uuid.UUID
	PaymentID  *uuid.UUID
	RefundID   *uuid.UUID
	Status     string
	Message    string
}

type WebhookOptions struct {
	Environment     string
	Timeout         time.Duration
	InboxLease      time.Duration
	ProviderTimeout time.Duration
}

type WebhookService interface {
	HandleWebhook(ctx context.Context, in WebhookInput) (*WebhookResult, error)
}

type webhookService struct {
	inbox    repositories.WebhookInboxRepository
	payments repositories.PaymentRepository
	refunds  repositories.RefundRepository
	resolver *adapters.Resolver
	updater  *PaymentUpdater
	clock    utils.Clock
	opts     WebhookOptions
	log      *zap.Logger
}

func NewWebhookService(
	inbox repositories.WebhookInboxRepository,
	payments repositories.PaymentRepository,
	refunds repositories.RefundRepository,
	resolver *adapters.Resolver,
	updater *PaymentUpdater,
	clock utils.Clock,
	opts WebhookOptions,
	log *zap.Logger,
) WebhookService {
	if opts.Environment == "" {
		opts.Environment = "sandbox"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.InboxLease <= 0 {
		opts.InboxLease = time.Minute
	}
	if opts.ProviderTimeout <= 0 || opts.ProviderTimeout > opts.Timeout {
		opts.ProviderTimeout = opts.Timeout
	}
	return &webhookService{
		inbox:    inbox,
		payments: payments,
		refunds:  refunds,
		resolver: resolver,
		updater:  updater,
		clock:    clock,
		opts:     opts,
		log:      log.Named("webhook_service"),
	}
}

func result(status int, outcome WebhookOutcome, provider, msg string) *WebhookResult {
	return &WebhookResult{HTTPStatus: status, Outcome: outcome, Provider: provider, Message: msg}
}

func (s *webhookService) HandleWebhook(ctx context.Context, in WebhookInput) (*WebhookResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.TenantID == "" {
		return result(http.StatusBadRequest, WebhookInvalid, "", "tenant is required"), nil
	}
	if len(in.Body) == 0 {
		return result(http.StatusBadRequest, WebhookInvalid, in.Provider, "empty body"), nil
	}
	if in.Headers == nil {
		in.Headers = http.Header{}
	}

	named := in.Provider != ""
	candidates, res, err := s.candidates(ctx, in)
	if err != nil || res != nil {
		return res, err
	}

	ids := probeIdentifiers(in.Headers, in.Body)
	headers := redactHeaders(in.Headers)
	log := s.log.With(zap.String("tenant", in.TenantID), zap.String("event_type", ids.EventType))

	mismatched := 0
	for _, provider := range candidates {
		// The inbox answers redeliveries before credentials are consulted, so a
		// provider disabled or reconfigured since still gets its acknowledgement.
		entry, res, err := s.claim(ctx, in, provider, dedupeKey(in.TenantID, provider, ids), ids, headers)
		if err != nil || res != nil {
			return res, err
		}

		capability, err := s.resolver.Resolve(ctx, provider, s.opts.Environment, in.TenantID)
		if err != nil {
			res, ferr := s.resolveFailure(ctx, entry, provider, err)
			if named || ferr != nil {
				return res, ferr
			}
			log.Debug("skipping provider", zap.String("provider", provider), zap.Error(err))
			continue
		}

		res = s.verifyAndApply(ctx, capability, entry, in)
		if res.Outcome == WebhookRejected {
			mismatched++
			continue
		}
		return res, nil
	}

	if mismatched > 0 {
		log.Warn("webhook signature matched no provider", zap.Int("candidates", len(candidates)))
		return result(http.StatusUnauthorized, WebhookRejected, in.Provider, "signature verification failed"), nil
	}
	return result(http.StatusBadRequest, WebhookInvalid, in.Provider, "no usable provider for tenant"), nil
}

func (s *webhookService) candidates(ctx context.Context, in WebhookInput) ([]string, *WebhookResult, error) {
	if in.Provider != "" {
		provider := adapters.NormalizeProvider(in.Provider)
		if !s.resolver.Supports(provider) {
			return nil, result(http.StatusBadRequest, WebhookInvalid, provider, "unsupported provider"), nil
		}
		return []string{provider}, nil, nil
	}
	candidates, err := s.resolver.Candidates(ctx, in.TenantID, s.opts.Environment)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if len(candidates) == 0 {
		return nil, result(http.StatusBadRequest, WebhookInvalid, "", "no enabled provider for tenant"), nil
	}
	return candidates, nil, nil
}

// resolveFailure releases a claimed delivery whose provider could not be
// resolved. The row stays reclaimable so a later retry runs again.
func (s *webhookService) resolveFailure(ctx context.Context, entry *db_models.WebhookInboxEntry, provider string, err error) (*WebhookResult, error) {
	var res *WebhookResult
	status := db_models.InboxStatusFailed
	switch {
	case errors.Is(err, adapters.ErrProviderDisabled):
		status = db_models.InboxStatusRejected
		res = result(http.StatusBadRequest, WebhookInvalid, provider, "provider is not enabled for tenant")
	case adapters.IsConfigurationError(err):
		s.log.Error("provider misconfigured", zap.String("provider", provider), zap.Error(err))
		res = result(http.StatusInternalServerError, WebhookMisconfigured, provider, "provider is misconfigured")
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()
	if ferr := s.inbox.Finish(wctx, entry.ID, map[string]interface{}{
		"status":           status,
		"processing_error": truncate(err.Error(), 2000),
	}); ferr != nil {
		s.log.Error("update inbox", zap.String("inbox_id", entry.ID.String()), zap.Error(ferr))
	}

	if res == nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", utils.ErrDatabaseError, provider, err)
	}
	res.InboxID = &entry.ID
	return res, nil
}

// claim takes ownership of the inbox row for this delivery. A non-nil result
// means the delivery must not be processed again and is answered as-is.
func (s *webhookService) claim(ctx context.Context, in WebhookInput, provider, key string, ids webhookIdentifiers, headers []byte) (*db_models.WebhookInboxEntry, *WebhookResult, error) {
	now := s.clock.Now().Unix()
	entry := &db_models.WebhookInboxEntry{
		TenantID:   in.TenantID,
		Provider:   provider,
		DedupeKey:  key,
		EventType:  truncate(ids.EventType, 100),
		Status:     db_models.InboxStatusProcessing,
		Attempts:   1,
		Headers:    headers,
		RawPayload: string(in.Body),
		ReceivedAt: now,
		ClaimedAt:  now,
	}
	err := s.inbox.Claim(context.WithoutCancel(ctx), entry)
	if err == nil {
		return entry, nil, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, nil, fmt.Errorf("%w: claim inbox: %v", utils.ErrDatabaseError, err)
	}

	existing, err := s.inbox.FindByDedupeKey(ctx, in.TenantID, provider, key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load inbox: %v", utils.ErrDatabaseError, err)
	}
	if existing == nil {
		return nil, result(http.StatusOK, WebhookInFlight, provider, "delivery is being processed"), nil
	}

	dup := func(outcome WebhookOutcome, msg string) *WebhookResult {
		r := result(http.StatusOK, outcome, provider, msg)
		r.InboxID, r.PaymentID, r.RefundID = &existing.ID, existing.PaymentID, existing.RefundID
		return r
	}
	switch existing.Status {
	case db_models.InboxStatusProcessed:
		return nil, dup(WebhookAlreadyProcessed, "already processed"), nil
	case db_models.InboxStatusProcessing:
		if now-existing.ClaimedAt < seconds(s.opts.InboxLease) {
			return nil, dup(WebhookInFlight, "delivery is being processed"), nil
		}
	}

	ok, err := s.inbox.Reclaim(context.WithoutCancel(ctx), existing, now, string(in.Body), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reclaim inbox: %v", utils.ErrDatabaseError, err)
	}
	if !ok {
		return nil, dup(WebhookInFlight, "delivery is being processed"), nil
	}
	existing.Status = db_models.InboxStatusProcessing
	existing.ClaimedAt = now
	existing.Attempts++
	s.log.Info("reprocessing webhook",
		zap.String("tenant", in.TenantID),
		zap.String("provider", provider),
		zap.String("inbox_id", existing.ID.String()),
		zap.Int("attempts", existing.Attempts))
	return existing, nil, nil
}

// verifyAndApply verifies, parses and applies one claimed delivery. Inbox
// writes use a context detached from the request so they commit even when the
// caller has gone away.
func (s *webhookService) verifyAndApply(ctx context.Context, capability adapters.Capability, entry *db_models.WebhookInboxEntry, in WebhookInput) *WebhookResult {
	provider := capability.Provider()
	log := s.log.With(
		zap.String("tenant", in.TenantID),
		zap.String("provider", provider),
		zap.String("inbox_id", entry.ID.String()))
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	finish := func(status db_models.InboxStatus, verified bool, cause string, res *WebhookResult) *WebhookResult {
		updates := map[string]interface{}{
			"status":             status,
			"signature_verified": verified,
			"processing_error":   truncate(cause, 2000),
		}
		if status == db_models.InboxStatusProcessed {
			updates["processed_at"] = s.clock.Now().Unix()
		}
		if res.PaymentID != nil {
			updates["payment_id"] = *res.PaymentID
		}
		if res.RefundID != nil {
			updates["refund_id"] = *res.RefundID
		}
		if err := s.inbox.Finish(wctx, entry.ID, updates); err != nil {
			log.Error("update inbox", zap.Error(err))
		}
		res.Provider = provider
		res.InboxID = &entry.ID
		return res
	}

	var signature string
	if h := capability.SignatureHeader(); h != "" {
		signature = in.Headers.Get(h)
	}
	vctx, vcancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	err := capability.VerifyWebhook(vctx, in.Headers, in.Body, signature)
	vcancel()
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Warn("webhook verification did not finish", zap.Error(err))
		return finish(db_models.InboxStatusFailed, false, err.Error(),
			result(http.StatusInternalServerError, WebhookFailed, provider, "webhook verification timed out"))
	case errors.Is(err, adapters.ErrWebhookUnauthorized):
		log.Warn("webhook authorization failed")
		return finish(db_models.InboxStatusRejected, false, err.Error(),
			result(http.StatusForbidden, WebhookUnauthorized, provider, "webhook authorization failed"))
	default:
		log.Debug("webhook signature mismatch", zap.Error(err))
		return finish(db_models.InboxStatusRejected, false, err.Error(),
			result(http.StatusUnauthorized, WebhookRejected, provider, "signature verification failed"))
	}

	ev, err := capability.ParseWebhook(wctx, in.Headers, in.Body)
	if err != nil {
		log.Warn("malformed webhook", zap.Error(err))
		return finish(db_models.InboxStatusFailed, true, err.Error(),
			result(http.StatusBadRequest, WebhookInvalid, provider, "malformed webhook payload"))
	}

	res, err := s.apply(wctx, in.TenantID, provider, ev)
	if err != nil {
		status := http.StatusInternalServerError
		outcome := WebhookFailed
		if adapters.IsWebhookError(err) || errors.Is(err, utils.ErrPaymentNotFound) || errors.Is(err, utils.ErrRefundNotFound) {
			status, outcome = http.StatusBadRequest, WebhookInvalid
		}
		log.Warn("webhook not applied", zap.Error(err))
		if res == nil {
			res = &WebhookResult{}
		}
		res.HTTPStatus, res.Outcome, res.Message = status, outcome, err.Error()
		return finish(db_models.InboxStatusFailed, true, err.Error(), res)
	}

	res.HTTPStatus, res.Outcome = http.StatusOK, WebhookProcessed
	res = finish(db_models.InboxStatusProcessed, true, "", res)
	log.Info("webhook processed",
		zap.String("event_type", ev.EventType),
		zap.String("status", res.Status))
	return res
}

// apply locates the record the event is about and hands the transition to
// the shared updater.
func (s *webhookService) apply(ctx context.Context, tenantID, provider string, ev *adapters.WebhookEvent) (*WebhookResult, error) {
	status, ok := lifecycle.Normalize(ev.RawStatus)
	if !ok {
		return nil, &adapters.WebhookError{Provider: provider, Reason: fmt.Sprintf("unrecognized status %q", ev.RawStatus)}
	}

	p, err := s.payments.FindByLookup(ctx, repositories.PaymentLookup{
		TenantID:              tenantID,
		Provider:              provider,
		ProviderPaymentID:     ev.ProviderPaymentID,
		MerchantTransactionID: ev.MerchantTransactionID,
		OrderID:               ev.OrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
	}
	if p == nil && ev.ProviderTransactionID != "" {
		if p, err = s.payments.FindByProviderTransactionID(ctx, tenantID, provider, ev.ProviderTransactionID); err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
		}
	}

	if ev.Kind == adapters.WebhookKindRefund {
		return s.applyRefund(ctx, tenantID, provider, p, status, ev)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no payment matches the webhook identifiers", utils.ErrPaymentNotFound)
	}

	applied, err := s.updater.ApplyPaymentStatus(ctx, tenantID, p.ID, StatusUpdate{
		Status:                status,
		RawStatus:             ev.RawStatus,
		Source:                "webhook",
		ProviderPaymentID:     ev.ProviderPaymentID,
		ProviderTransactionID: ev.ProviderTransactionID,
		ProviderReferenceID:   ev.ProviderReferenceID,
		CapturedAmountMinor:   ev.AmountMinor,
		Currency:              ev.Currency,
		PayerHandle:           ev.PayerHandle,
		InstrumentType:        ev.InstrumentType,
		ReceiptURL:            ev.ReceiptURL,
		FailureCode:           ev.FailureCode,
		FailureMessage:        ev.FailureMessage,
		Metadata:              ev.Metadata,
	})
	res := &WebhookResult{PaymentID: &p.ID}
	if err != nil {
		return res, err
	}
	res.Status = string(applied.Payment.Status)
	s.recordProcessed(ctx, applied.Payment, nil, ev, applied.Changed, applied.Rejected)
	return res, nil
}

func (s *webhookService) applyRefund(ctx context.Context, tenantID, provider string, p *db_models.Payment, status lifecycle.Status, ev *adapters.WebhookEvent) (*WebhookResult, error) {
	var rf *db_models.Refund
	var err error
	if ev.ProviderRefundID != "" {
		if rf, err = s.refunds.FindByProviderRefundID(ctx, tenantID, provider, ev.ProviderRefundID); err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
		}
	}
	if rf == nil && p != nil && ev.MerchantRefundID != "" {
		if rf, err = s.refunds.FindByMerchantRefundID(ctx, p.ID, ev.MerchantRefundID); err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
		}
	}
	if rf == nil {
		return nil, fmt.Errorf("%w: no refund matches the webhook identifiers", utils.ErrRefundNotFound)
	}

	applied, err := s.updater.ApplyRefundStatus(ctx, tenantID, rf.ID, RefundUpdate{
		Status:           status,
		RawStatus:        ev.RawStatus,
		Source:           "webhook",
		ProviderRefundID: ev.ProviderRefundID,
		FailureCode:      ev.FailureCode,
		FailureMessage:   ev.FailureMessage,
	})
	res := &WebhookResult{PaymentID: &rf.PaymentID, RefundID: &rf.ID}
	if err != nil {
		return res, err
	}
	res.Status = string(applied.Refund.Status)
	s.recordProcessed(ctx, applied.Payment, &rf.ID, ev, applied.Changed, applied.Rejected)
	return res, nil
}

func (s *webhookService) recordProcessed(ctx context.Context, p *db_models.Payment, refundID *uuid.UUID, ev *adapters.WebhookEvent, changed, rejected bool) {
	if p == nil {
		return
	}
	if err := s.updater.RecordEvent(ctx, p, refundID, db_models.EventWebhookProcessed, map[string]any{
		"event_type": ev.EventType,
		"event_id":   ev.EventID,
		"raw_status": ev.RawStatus,
		"changed":    changed,
		"rejected":   rejected,
	}); err != nil {
		s.log.Warn("record webhook event", zap.String("payment_id", p.ID.String()), zap.Error(err))
	}
}

func redactHeaders(h http.Header) []byte {
	out := make(map[string]string, len(h))
	for k, v := range h {
		k = http.CanonicalHeaderKey(k)
		if redactedHeaders[k] {
			out[k] = "[redacted]"
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	b, err := json.Marshal(out)
	if err != nil {
		return []byte("{}")
	}
	return b
}
