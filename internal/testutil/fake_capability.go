package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"payorch/internal/adapters"
)

const (
	FakeSignatureHeader = "X-Fake-Signature"
	FakeValidSignature  = "valid"
)

// FakeWebhook is the body format FakeCapability understands.
type FakeWebhook struct {
	Event                 string `json:"event"`
	EventID               string `json:"event_id,omitempty"`
	Status                string `json:"status"`
	OrderID               string `json:"order_id,omitempty"`
	TransactionID         string `json:"transaction_id,omitempty"`
	ProviderPaymentID     string `json:"provider_payment_id,omitempty"`
	MerchantTransactionID string `json:"merchant_transaction_id,omitempty"`
	RefundID              string `json:"refund_id,omitempty"`
	MerchantRefundID      string `json:"merchant_refund_id,omitempty"`
	Amount                *int64 `json:"amount,omitempty"`
	Currency              string `json:"currency,omitempty"`
	FailureMessage        string `json:"failure_message,omitempty"`
	UTR                   string `json:"utr,omitempty"`
}

func (w FakeWebhook) Body() []byte {
	b, _ := json.Marshal(w)
	return b
}

// FakeCapability is a scriptable gateway. Zero values give a gateway that
// accepts everything and reports PENDING.
type FakeCapability struct {
	Name string

	mu              sync.Mutex
	createResult    *adapters.CreatePaymentResult
	createErr       error
	verifyResults   []*adapters.PaymentStatusResult
	verifyErr       error
	verifyPanic     bool
	refundResult    *adapters.RefundResult
	refundErr       error
	webhookErr      error
	webhookBlock    bool
	healthErr       error
	lastRefundInput adapters.CreateRefundRequest

	CreateCalls  atomic.Int32
	VerifyCalls  atomic.Int32
	RefundCalls  atomic.Int32
	WebhookCalls atomic.Int32
}

func NewFakeCapability(name string) *FakeCapability {
	return &FakeCapability{Name: name}
}

func (f *FakeCapability) Registration() adapters.Registration {
	return adapters.Registration{
		Name:           f.Name,
		RequiredFields: []string{"secret"},
		New:            func(adapters.Settings) (adapters.Capability, error) { return f, nil },
	}
}

func (f *FakeCapability) SetCreateResult(res *adapters.CreatePaymentResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createResult, f.createErr = res, err
}

// SetVerifyResults queues results; the last one repeats.
func (f *FakeCapability) SetVerifyResults(results ...*adapters.PaymentStatusResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyResults = results
	f.verifyErr = nil
}

func (f *FakeCapability) SetVerifyError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr = err
}

func (f *FakeCapability) SetVerifyPanic(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyPanic = p
}

func (f *FakeCapability) SetRefundResult(res *adapters.RefundResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundResult, f.refundErr = res, err
}

func (f *FakeCapability) SetWebhookError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookErr = err
}

// SetWebhookBlock makes VerifyWebhook wait for its context to end, like a
// gateway that never answers.
func (f *FakeCapability) SetWebhookBlock(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookBlock = block
}

func (f *FakeCapability) SetHealthError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

func (f *FakeCapability) LastRefundInput() adapters.CreateRefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRefundInput
}

func (f *FakeCapability) Provider() string        { return f.Name }
func (f *FakeCapability) SignatureHeader() string { return FakeSignatureHeader }

func (f *FakeCapability) CreatePayment(_ context.Context, req adapters.CreatePaymentRequest) (*adapters.CreatePaymentResult, error) {
	f.CreateCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createResult != nil {
		res := *f.createResult
		return &res, nil
	}
	return &adapters.CreatePaymentResult{
		ProviderPaymentID: "fpay_" + req.MerchantTransactionID,
		RawStatus:         "pending",
	}, nil
}

func (f *FakeCapability) VerifyPayment(context.Context, adapters.VerifyPaymentRequest) (*adapters.PaymentStatusResult, error) {
	f.VerifyCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyPanic {
		panic("fake gateway exploded")
	}
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if len(f.verifyResults) == 0 {
		return &adapters.PaymentStatusResult{RawStatus: "PENDING"}, nil
	}
	res := f.verifyResults[0]
	if len(f.verifyResults) > 1 {
		f.verifyResults = f.verifyResults[1:]
	}
	out := *res
	return &out, nil
}

func (f *FakeCapability) CreateRefund(_ context.Context, req adapters.CreateRefundRequest) (*adapters.RefundResult, error) {
	f.RefundCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRefundInput = req
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	if f.refundResult != nil {
		res := *f.refundResult
		return &res, nil
	}
	return &adapters.RefundResult{ProviderRefundID: "frf_" + req.MerchantRefundID, RawStatus: "processed"}, nil
}

func (f *FakeCapability) VerifyWebhook(ctx context.Context, _ http.Header, _ []byte, signature string) error {
	f.WebhookCalls.Add(1)
	f.mu.Lock()
	block, webhookErr := f.webhookBlock, f.webhookErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if webhookErr != nil {
		return webhookErr
	}
	if signature != FakeValidSignature {
		return adapters.ErrSignatureMismatch
	}
	return nil
}

func (f *FakeCapability) ParseWebhook(_ context.Context, _ http.Header, body []byte) (*adapters.WebhookEvent, error) {
	var w FakeWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &adapters.WebhookError{Provider: f.Name, Reason: "invalid json", Err: err}
	}
	if w.Status == "" {
		return nil, &adapters.WebhookError{Provider: f.Name, Reason: "status missing"}
	}
	ev := &adapters.WebhookEvent{
		Kind:                  adapters.WebhookKindPayment,
		EventType:             w.Event,
		EventID:               w.EventID,
		RawStatus:             w.Status,
		OrderID:               w.OrderID,
		ProviderPaymentID:     w.ProviderPaymentID,
		ProviderTransactionID: w.TransactionID,
		MerchantTransactionID: w.MerchantTransactionID,
		ProviderReferenceID:   w.UTR,
		AmountMinor:           w.Amount,
		Currency:              w.Currency,
		FailureMessage:        w.FailureMessage,
	}
	if w.RefundID != "" || w.MerchantRefundID != "" {
		ev.Kind = adapters.WebhookKindRefund
		ev.ProviderRefundID = w.RefundID
		ev.MerchantRefundID = w.MerchantRefundID
	}
	return ev, nil
}

func (f *FakeCapability) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}
