package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"payorch/internal/lifecycle"
	"payorch/internal/models/db_models"
	"payorch/internal/repositories"
	"payorch/pkg/utils"
)

const maxApplyAttempts = 3

var errStatusRace = errors.New("status changed concurrently")

// StatusUpdate is one observation of a payment's provider-side state, from a
// webhook, a poll or an on-demand verification.
type StatusUpdate struct {
	Status    lifecycle.Status
	RawStatus string
	Source    string

	ProviderPaymentID     string
	ProviderTransactionID string
	ProviderReferenceID   string
	CapturedAmountMinor   *int64
	Currency              string

	PayerHandle    string
	InstrumentType string
	ReceiptURL     string
	FailureCode    string
	FailureMessage string
	Metadata       map[string]any
}

type ApplyResult struct {
	Payment        *db_models.Payment
	Previous       lifecycle.Status
	Changed        bool
	Noop           bool
	Rejected       bool
	AmountMismatch bool
	OrderPaid      bool
}

type RefundUpdate struct {
	Status           lifecycle.Status
	RawStatus        string
	Source           string
	ProviderRefundID string
	FailureCode      string
	FailureMessage   string
}

type RefundApplyResult struct {
	Refund   *db_models.Refund
	Payment  *db_models.Payment
	Previous lifecycle.Status
	Changed  bool
	Noop     bool
	Rejected bool
}

// PaymentUpdater is the single writer of payment and refund status. Every
// change runs in one transaction guarded by a compare-and-swap on the status
// it read, and records a PaymentEvent.
type PaymentUpdater struct {
	db       *gorm.DB
	payments repositories.PaymentRepository
	refunds  repositories.RefundRepository
	events   repositories.PaymentEventRepository
	notifier OrderNotifier
	clock    utils.Clock
	log      *zap.Logger
}

func NewPaymentUpdater(
	db *gorm.DB,
	payments repositories.PaymentRepository,
	refunds repositories.RefundRepository,
	events repositories.PaymentEventRepository,
	notifier OrderNotifier,
	clock utils.Clock,
	log *zap.Logger,
) *PaymentUpdater {
	return &PaymentUpdater{
		db:       db,
		payments: payments,
		refunds:  refunds,
		events:   events,
		notifier: notifier,
		clock:    clock,
		log:      log.Named("payment_updater"),
	}
}

func (u *PaymentUpdater) ApplyPaymentStatus(ctx context.Context, tenantID string, paymentID uuid.UUID, upd StatusUpdate) (*ApplyResult, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("apply payment status: unknown status %q", upd.Status)
	}

	var (
		res *ApplyResult
		err error
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		res, err = u.applyPaymentOnce(ctx, tenantID, paymentID, upd)
		if !errors.Is(err, errStatusRace) {
			break
		}
		u.log.Debug("status race, retrying", zap.String("payment_id", paymentID.String()), zap.Int("attempt", attempt))
	}
	if errors.Is(err, errStatusRace) {
		return nil, utils.NewPaymentError(utils.CodeConcurrentModification, "payment %s changed concurrently", paymentID)
	}
	if err != nil {
		return nil, err
	}

	log := u.log.With(
		zap.String("tenant", tenantID),
		zap.String("payment_id", paymentID.String()),
		zap.String("source", upd.Source))
	switch {
	case res.Rejected:
		log.Warn("transition rejected", zap.String("from", string(res.Previous)), zap.String("to", string(upd.Status)))
	case res.AmountMismatch:
		log.Warn("captured amount differs from authorized amount", zap.Int64p("reported", upd.CapturedAmountMinor))
	case res.Changed:
		log.Info("payment status changed", zap.String("from", string(res.Previous)), zap.String("to", string(res.Payment.Status)))
	}

	if res.OrderPaid {
		u.notifyOrderPaid(ctx, res.Payment)
	}
	return res, nil
}

func (u *PaymentUpdater) applyPaymentOnce(ctx context.Context, tenantID string, paymentID uuid.UUID, upd StatusUpdate) (*ApplyResult, error) {
	res := &ApplyResult{}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := u.payments.WithTx(tx)
		events := u.events.WithTx(tx)

		p, err := payments.FindByID(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return utils.ErrPaymentNotFound
		}
		res.Previous = p.Status
		now := u.clock.Now().Unix()

		if !lifecycle.CanTransition(p.Status, upd.Status) {
			res.Rejected = true
			res.Payment = p
			return events.Append(ctx, newPaymentEvent(p, nil, db_models.EventTransitionRejected, now, map[string]any{
				"from":       p.Status,
				"to":         upd.Status,
				"raw_status": upd.RawStatus,
				"source":     upd.Source,
			}))
		}

		updates := u.paymentFieldUpdates(p, upd)
		if lifecycle.IsNoop(p.Status, upd.Status) {
			res.Noop = true
			if len(updates) == 0 {
				res.Payment = p
				return nil
			}
		} else {
			applyStatusTimestamps(p, upd, now, updates)
		}

		if upd.Status == lifecycle.StatusCompleted && p.Status != lifecycle.StatusCompleted {
			amountDiffers := upd.CapturedAmountMinor != nil && *upd.CapturedAmountMinor != p.AuthorizedAmountMinor
			currencyDiffers := upd.Currency != "" && !strings.EqualFold(upd.Currency, p.Currency)
			res.AmountMismatch = amountDiffers || currencyDiffers
			updates["captured_amount_minor"] = p.AuthorizedAmountMinor
			if !res.AmountMismatch && p.OrderPaidAt == nil {
				updates["order_paid_at"] = now
				res.OrderPaid = true
			}
		}

		updates["status"] = upd.Status
		ok, err := payments.CompareAndSetStatus(ctx, p.ID, p.Status, updates)
		if err != nil {
			return err
		}
		if !ok {
			return errStatusRace
		}

		if !res.Noop {
			res.Changed = true
			data := map[string]any{
				"from":       p.Status,
				"to":         upd.Status,
				"raw_status": upd.RawStatus,
				"source":     upd.Source,
			}
			eventType := paymentEventType(upd.Status)
			if res.AmountMismatch {
				eventType = db_models.EventAmountMismatch
				data["authorized_amount_minor"] = p.AuthorizedAmountMinor
				data["currency"] = p.Currency
				if upd.CapturedAmountMinor != nil {
					data["reported_amount_minor"] = *upd.CapturedAmountMinor
				}
				if upd.Currency != "" {
					data["reported_currency"] = strings.ToUpper(upd.Currency)
				}
			}
			if err := events.Append(ctx, newPaymentEvent(p, nil, eventType, now, data)); err != nil {
				return err
			}
		}

		res.Payment, err = payments.FindByID(ctx, tenantID, paymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func applyStatusTimestamps(p *db_models.Payment, upd StatusUpdate, now int64, updates map[string]interface{}) {
	switch upd.Status {
	case lifecycle.StatusAuthorized:
		if p.AuthorizedAt == nil {
			updates["authorized_at"] = now
		}
	case lifecycle.StatusCompleted:
		updates["completed_at"] = now
		if p.AuthorizedAt == nil {
			updates["authorized_at"] = now
		}
	case lifecycle.StatusFailed:
		updates["failed_at"] = now
	case lifecycle.StatusCancelled:
		updates["cancelled_at"] = now
	}
	if upd.Status.IsFailure() {
		if upd.FailureCode != "" {
			updates["failure_code"] = upd.FailureCode
		}
		if upd.FailureMessage != "" {
			updates["failure_message"] = truncate(upd.FailureMessage, 512)
		}
	}
}

// paymentFieldUpdates fills identifiers the record does not have yet and
// merges metadata without overwriting existing keys.
func (u *PaymentUpdater) paymentFieldUpdates(p *db_models.Payment, upd StatusUpdate) map[string]interface{} {
	updates := map[string]interface{}{}
	fill := func(column, current, incoming string) {
		if current == "" && incoming != "" {
			updates[column] = incoming
		}
	}
	fill("provider_payment_id", p.ProviderPaymentID, upd.ProviderPaymentID)
	fill("provider_transaction_id", p.ProviderTransactionID, upd.ProviderTransactionID)
	fill("provider_reference_id", p.ProviderReferenceID, upd.ProviderReferenceID)
	fill("payer_handle_masked", p.PayerHandleMasked, utils.MaskVPA(upd.PayerHandle))
	fill("instrument_type", p.InstrumentType, upd.InstrumentType)
	fill("receipt_url", p.ReceiptURL, upd.ReceiptURL)

	merged, changed, err := mergeMetadata(p.Metadata, upd.Metadata)
	if err != nil {
		u.log.Warn("stored metadata is not a JSON object, keeping it unchanged",
			zap.String("payment_id", p.ID.String()), zap.Error(err))
	} else if changed {
		updates["metadata"] = merged
	}
	return updates
}

// mergeMetadata adds incoming keys that current does not have. Stored
// metadata that does not decode is reported and never overwritten.
func mergeMetadata(current datatypes.JSON, incoming map[string]any) (datatypes.JSON, bool, error) {
	if len(incoming) == 0 {
		return current, false, nil
	}
	existing := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &existing); err != nil {
			return current, false, fmt.Errorf("decode metadata: %w", err)
		}
		if existing == nil {
			existing = map[string]any{}
		}
	}
	changed := false
	for k, v := range incoming {
		if _, ok := existing[k]; ok || v == nil {
			continue
		}
		existing[k] = v
		changed = true
	}
	if !changed {
		return current, false, nil
	}
	b, err := json.Marshal(existing)
	if err != nil {
		return current, false, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(b), true, nil
}

func paymentEventType(status lifecycle.Status) string {
	switch status {
	case lifecycle.StatusCompleted:
		return db_models.EventPaymentSuccess
	case lifecycle.StatusFailed:
		return db_models.EventPaymentFailed
	case lifecycle.StatusCancelled:
		return db_models.EventPaymentCancelled
	case lifecycle.StatusRefunded, lifecycle.StatusPartiallyRefunded:
		return db_models.EventPaymentRefunded
	default:
		return db_models.EventPaymentStatusChanged
	}
}

func (u *PaymentUpdater) notifyOrderPaid(ctx context.Context, p *db_models.Payment) {
	if u.notifier == nil || p == nil {
		return
	}
	paidAt := u.clock.Now().Unix()
	if p.OrderPaidAt != nil {
		paidAt = *p.OrderPaidAt
	}
	err := u.notifier.NotifyOrderPaid(context.WithoutCancel(ctx), OrderPaidNotification{
		TenantID:    p.TenantID,
		OrderID:     p.OrderID,
		PaymentID:   p.ID.String(),
		Provider:    p.Provider,
		AmountMinor: p.CapturedOrAuthorized(),
		Currency:    p.Currency,
		PaidAt:      paidAt,
	})
	if err != nil {
		u.log.Error("order paid notification failed",
			zap.String("tenant", p.TenantID),
			zap.String("order_id", p.OrderID),
			zap.Error(err))
	}
}

func (u *PaymentUpdater) ApplyRefundStatus(ctx context.Context, tenantID string, refundID uuid.UUID, upd RefundUpdate) (*RefundApplyResult, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("apply refund status: unknown status %q", upd.Status)
	}

	var (
		res *RefundApplyResult
		err error
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		res, err = u.applyRefundOnce(ctx, tenantID, refundID, upd)
		if !errors.Is(err, errStatusRace) {
			break
		}
	}
	if errors.Is(err, errStatusRace) {
		return nil, utils.NewPaymentError(utils.CodeConcurrentModification, "refund %s changed concurrently", refundID)
	}
	if err != nil {
		return nil, err
	}
	if res.Changed {
		u.log.Info("refund status changed",
			zap.String("tenant", tenantID),
			zap.String("refund_id", refundID.String()),
			zap.String("from", string(res.Previous)),
			zap.String("to", string(res.Refund.Status)))
	}
	return res, nil
}

func (u *PaymentUpdater) applyRefundOnce(ctx context.Context, tenantID string, refundID uuid.UUID, upd RefundUpdate) (*RefundApplyResult, error) {
	res := &RefundApplyResult{}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := u.payments.WithTx(tx)
		refunds := u.refunds.WithTx(tx)
		events := u.events.WithTx(tx)

		rf, err := refunds.FindByID(ctx, tenantID, refundID)
		if err != nil {
			return err
		}
		if rf == nil {
			return utils.ErrRefundNotFound
		}
		p, err := payments.FindByID(ctx, tenantID, rf.PaymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return utils.ErrPaymentNotFound
		}
		res.Previous = rf.Status
		res.Payment = p
		now := u.clock.Now().Unix()

		if !lifecycle.CanTransition(rf.Status, upd.Status) {
			res.Rejected = true
			res.Refund = rf
			return events.Append(ctx, newPaymentEvent(p, &rf.ID, db_models.EventTransitionRejected, now, map[string]any{
				"from": rf.Status, "to": upd.Status, "raw_status": upd.RawStatus, "source": upd.Source,
			}))
		}

		updates := map[string]interface{}{}
		if rf.ProviderRefundID == "" && upd.ProviderRefundID != "" {
			updates["provider_refund_id"] = upd.ProviderRefundID
		}
		if lifecycle.IsNoop(rf.Status, upd.Status) {
			res.Noop = true
			if len(updates) == 0 {
				res.Refund = rf
				return nil
			}
		} else {
			if upd.Status.IsTerminal() {
				updates["processed_at"] = now
			}
			if upd.Status.IsFailure() {
				updates["failure_code"] = upd.FailureCode
				updates["failure_message"] = truncate(upd.FailureMessage, 512)
			}
		}

		updates["status"] = upd.Status
		ok, err := refunds.CompareAndSetStatus(ctx, rf.ID, rf.Status, updates)
		if err != nil {
			return err
		}
		if !ok {
			return errStatusRace
		}

		if !res.Noop {
			res.Changed = true
			if err := events.Append(ctx, newPaymentEvent(p, &rf.ID, db_models.EventRefundStatusChanged, now, map[string]any{
				"from": rf.Status, "to": upd.Status, "raw_status": upd.RawStatus, "source": upd.Source,
				"amount_minor": rf.AmountMinor,
			})); err != nil {
				return err
			}
		}

		if upd.Status == lifecycle.StatusCompleted && rf.Status != lifecycle.StatusCompleted {
			if err := u.settleRefundedPayment(ctx, payments, refunds, events, p, now); err != nil {
				return err
			}
		}

		if res.Refund, err = refunds.FindByID(ctx, tenantID, refundID); err != nil {
			return err
		}
		res.Payment, err = payments.FindByID(ctx, tenantID, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// settleRefundedPayment moves the payment onto the refund track once a refund
// completed: fully refunded when completed refunds cover the captured amount.
func (u *PaymentUpdater) settleRefundedPayment(
	ctx context.Context,
	payments repositories.PaymentRepository,
	refunds repositories.RefundRepository,
	events repositories.PaymentEventRepository,
	p *db_models.Payment,
	now int64,
) error {
	total, err := refunds.SumCompleted(ctx, p.ID)
	if err != nil {
		return err
	}
	target := lifecycle.StatusPartiallyRefunded
	if total >= p.CapturedOrAuthorized() {
		target = lifecycle.StatusRefunded
	}
	if p.Status == target || !lifecycle.CanTransition(p.Status, target) {
		return nil
	}

	ok, err := payments.CompareAndSetStatus(ctx, p.ID, p.Status, map[string]interface{}{"status": target})
	if err != nil {
		return err
	}
	if !ok {
		return errStatusRace
	}
	return events.Append(ctx, newPaymentEvent(p, nil, db_models.EventPaymentRefunded, now, map[string]any{
		"from":            p.Status,
		"to":              target,
		"refunded_total":  total,
		"captured_amount": p.CapturedOrAuthorized(),
		"source":          "refund",
	}))
}

// RecordEvent appends an audit event outside any status change.
func (u *PaymentUpdater) RecordEvent(ctx context.Context, p *db_models.Payment, refundID *uuid.UUID, eventType string, data map[string]any) error {
	return u.events.Append(ctx, newPaymentEvent(p, refundID, eventType, u.clock.Now().Unix(), data))
}

func newPaymentEvent(p *db_models.Payment, refundID *uuid.UUID, eventType string, at int64, data map[string]any) *db_models.PaymentEvent {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	paymentID := p.ID
	return &db_models.PaymentEvent{
		TenantID:   p.TenantID,
		Provider:   p.Provider,
		PaymentID:  &paymentID,
		RefundID:   refundID,
		Type:       eventType,
		Data:       datatypes.JSON(raw),
		OccurredAt: at,
	}
}

// truncate limits s to n bytes without splitting a rune. Invalid byte
// sequences from providers are dropped since postgres rejects them in text.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
