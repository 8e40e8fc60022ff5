package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/payOSHQ/payos-lib-golang"
)

const payOSName = "payos"

// The payOS SDK keeps credentials in package state, so every call sets them
// under this lock.
var payOSMu sync.Mutex

func PayOSRegistration() Registration {
	return Registration{
		Name:           payOSName,
		RequiredFields: []string{"client_id", "api_key", "checksum_key"},
		New: func(s Settings) (Capability, error) {
			return NewPayOS(s), nil
		},
	}
}

type PayOS struct {
	clientID    string
	apiKey      string
	checksumKey string
	linkTTL     time.Duration
}

func NewPayOS(s Settings) *PayOS {
	return &PayOS{
		clientID:    s.Credentials["client_id"],
		apiKey:      s.Credentials["api_key"],
		checksumKey: s.Credentials["checksum_key"],
		linkTTL:     15 * time.Minute,
	}
}

func (p *PayOS) Provider() string        { return payOSName }
func (p *PayOS) SignatureHeader() string { return "" }

func (p *PayOS) withKey(fn func() error) error {
	payOSMu.Lock()
	defer payOSMu.Unlock()
	if err := payos.Key(p.clientID, p.apiKey, p.checksumKey); err != nil {
		return fmt.Errorf("payos client init: %w", err)
	}
	return fn()
}

// sdkErr classifies SDK failures as transient; the SDK does not expose status codes.
func sdkErr(op string, err error) error {
	return fmt.Errorf("payos %s: %w: %v", op, ErrProviderUnavailable, err)
}

func (p *PayOS) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	orderCode, err := strconv.ParseInt(req.MerchantTransactionID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("payos: merchant transaction id must be numeric: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = "Order " + req.OrderID
	}
	if len(description) > 25 {
		description = description[:25]
	}

	expiresAt := time.Now().Add(p.linkTTL)
	body := payos.CheckoutRequestType{
		OrderCode:   orderCode,
		Amount:      int(req.AmountMinor),
		Description: description,
		Items: []payos.Item{{
			Name:     "Order " + req.OrderID,
			Price:    int(req.AmountMinor),
			Quantity: 1,
		}},
		CancelUrl: req.CancelURL,
		ReturnUrl: req.ReturnURL,
	}

	var res *CreatePaymentResult
	err = p.withKey(func() error {
		resp, err := payos.CreatePaymentLink(body)
		if err != nil {
			return sdkErr("create link", err)
		}
		res = &CreatePaymentResult{
			ProviderPaymentID: resp.PaymentLinkId,
			RawStatus:         "PENDING",
			CheckoutURL:       resp.CheckoutUrl,
			CheckoutExpiresAt: expiresAt,
			RequiresPolling:   true,
			Metadata:          map[string]any{"payos_order_code": orderCode},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *PayOS) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*PaymentStatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var res *PaymentStatusResult
	err := p.withKey(func() error {
		info, err := payos.GetPaymentLinkInformation(req.MerchantTransactionID)
		if err != nil {
			return sdkErr("get link", err)
		}
		res = &PaymentStatusResult{
			RawStatus:         info.Status,
			ProviderPaymentID: info.Id,
		}
		if info.Status == "PAID" {
			paid := int64(info.AmountPaid)
			res.CapturedAmountMinor = &paid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *PayOS) CreateRefund(context.Context, CreateRefundRequest) (*RefundResult, error) {
	return nil, fmt.Errorf("payos: %w: refunds are settled outside the gateway", ErrOperationNotSupported)
}

// VerifyWebhook checks the checksum signature carried inside the body.
func (p *PayOS) VerifyWebhook(_ context.Context, _ http.Header, body []byte, _ string) error {
	var hook payos.WebhookType
	if err := json.Unmarshal(body, &hook); err != nil {
		return ErrSignatureMismatch
	}
	return p.withKey(func() error {
		if _, err := payos.VerifyPaymentWebhookData(hook); err != nil {
			return ErrSignatureMismatch
		}
		return nil
	})
}

func (p *PayOS) ParseWebhook(_ context.Context, _ http.Header, body []byte) (*WebhookEvent, error) {
	code := firstString(body, []string{"data", "code"}, []string{"code"})
	orderCode, ok := firstInt(body, []string{"data", "orderCode"})
	if !ok {
		return nil, newWebhookError(payOSName, "orderCode missing", nil)
	}

	status := "FAILED"
	if code == "00" {
		status = "PAID"
	}
	ev := &WebhookEvent{
		Kind:                  WebhookKindPayment,
		EventType:             "payos.payment",
		RawStatus:             status,
		MerchantTransactionID: strconv.FormatInt(orderCode, 10),
		ProviderPaymentID:     firstString(body, []string{"data", "paymentLinkId"}),
		ProviderReferenceID:   firstString(body, []string{"data", "reference"}),
		Currency:              firstString(body, []string{"data", "currency"}),
		Metadata:              map[string]any{"payos_code": code},
	}
	if status == "FAILED" {
		ev.FailureCode = code
		ev.FailureMessage = firstString(body, []string{"data", "desc"}, []string{"desc"})
	}
	if amount, ok := firstInt(body, []string{"data", "amount"}); ok {
		ev.AmountMinor = &amount
	}
	return ev, nil
}

func (p *PayOS) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.withKey(func() error { return nil })
}
