package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/buger/jsonparser"
)

const (
	razorpayName           = "razorpay"
	razorpayDefaultBaseURL = "https://api.razorpay.com/v1"
)

func RazorpayRegistration() Registration {
	return Registration{
		Name:           razorpayName,
		RequiredFields: []string{"key_id", "key_secret", "webhook_secret"},
		New: func(s Settings) (Capability, error) {
			return NewRazorpay(s), nil
		},
	}
}

type Razorpay struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func NewRazorpay(s Settings) *Razorpay {
	base := strings.TrimRight(s.Credentials["base_url"], "/")
	if base == "" {
		base = razorpayDefaultBaseURL
	}
	return &Razorpay{
		keyID:         s.Credentials["key_id"],
		keySecret:     s.Credentials["key_secret"],
		webhookSecret: s.Credentials["webhook_secret"],
		baseURL:       base,
		client:        s.client(),
	}
}

func (r *Razorpay) Provider() string        { return razorpayName }
func (r *Razorpay) SignatureHeader() string { return "X-Razorpay-Signature" }

func (r *Razorpay) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("razorpay: encode request: %w", err)
		}
		raw = b
	}
	return do(ctx, r.client, razorpayName, apiRequest{
		Method:   method,
		URL:      r.baseURL + path,
		Body:     raw,
		User:     r.keyID,
		Password: r.keySecret,
	})
}

func isUPI(method string) bool {
	return strings.HasPrefix(strings.ToLower(method), "upi")
}

func (r *Razorpay) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	resp, err := r.call(ctx, http.MethodPost, "/orders", map[string]any{
		"amount":   req.AmountMinor,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.MerchantTransactionID,
		"notes": map[string]string{
			"order_id":                req.OrderID,
			"tenant_id":               req.TenantID,
			"merchant_transaction_id": req.MerchantTransactionID,
		},
	})
	if err != nil {
		return nil, err
	}

	orderID := firstString(resp, []string{"id"})
	if orderID == "" {
		return nil, &ProviderError{Provider: razorpayName, StatusCode: http.StatusOK, Message: "order id missing in response"}
	}
	return &CreatePaymentResult{
		ProviderPaymentID: orderID,
		RawStatus:         firstString(resp, []string{"status"}),
		RequiresPolling:   isUPI(req.Method),
		Metadata:          map[string]any{"razorpay_order_id": orderID},
	}, nil
}

func (r *Razorpay) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*PaymentStatusResult, error) {
	if req.ProviderPaymentID == "" && req.ProviderTransactionID != "" {
		resp, err := r.call(ctx, http.MethodGet, "/payments/"+url.PathEscape(req.ProviderTransactionID), nil)
		if err != nil {
			return nil, err
		}
		return razorpayPaymentStatus(resp), nil
	}
	if req.ProviderPaymentID == "" {
		return nil, fmt.Errorf("razorpay: order id required to verify payment %s", req.MerchantTransactionID)
	}

	resp, err := r.call(ctx, http.MethodGet, "/orders/"+url.PathEscape(req.ProviderPaymentID)+"/payments", nil)
	if err != nil {
		return nil, err
	}

	// Prefer a captured attempt, then an authorized one, then the newest.
	var best []byte
	rank := -1
	_, _ = jsonparser.ArrayEach(resp, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
		score := 0
		switch firstString(item, []string{"status"}) {
		case "captured":
			score = 2
		case "authorized":
			score = 1
		}
		if score > rank {
			best, rank = item, score
		}
	}, "items")

	if best == nil {
		return &PaymentStatusResult{RawStatus: "created", ProviderPaymentID: req.ProviderPaymentID}, nil
	}
	return razorpayPaymentStatus(best), nil
}

func razorpayPaymentStatus(entity []byte) *PaymentStatusResult {
	res := &PaymentStatusResult{
		RawStatus:             firstString(entity, []string{"status"}),
		ProviderPaymentID:     firstString(entity, []string{"order_id"}),
		ProviderTransactionID: firstString(entity, []string{"id"}),
		ProviderReferenceID:   firstString(entity, []string{"acquirer_data", "rrn"}, []string{"acquirer_data", "upi_transaction_id"}),
		PayerHandle:           firstString(entity, []string{"vpa"}, []string{"upi", "vpa"}),
		InstrumentType:        firstString(entity, []string{"method"}),
		FailureCode:           firstString(entity, []string{"error_code"}),
		FailureMessage:        firstString(entity, []string{"error_description"}),
	}
	if amount, ok := firstInt(entity, []string{"amount"}); ok {
		res.CapturedAmountMinor = &amount
	}
	return res
}

func (r *Razorpay) CreateRefund(ctx context.Context, req CreateRefundRequest) (*RefundResult, error) {
	if req.ProviderTransactionID == "" {
		return nil, fmt.Errorf("razorpay: payment id required to refund %s", req.MerchantRefundID)
	}
	resp, err := r.call(ctx, http.MethodPost, "/payments/"+url.PathEscape(req.ProviderTransactionID)+"/refund", map[string]any{
		"amount":  req.AmountMinor,
		"receipt": req.MerchantRefundID,
		"notes":   map[string]string{"reason": req.Reason},
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{
		ProviderRefundID: firstString(resp, []string{"id"}),
		RawStatus:        firstString(resp, []string{"status"}),
	}, nil
}

func (r *Razorpay) VerifyWebhook(_ context.Context, _ http.Header, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" || r.webhookSecret == "" {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(r.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

func (r *Razorpay) ParseWebhook(_ context.Context, headers http.Header, body []byte) (*WebhookEvent, error) {
	eventType := firstString(body, []string{"event"})
	if eventType == "" {
		return nil, newWebhookError(razorpayName, "event type missing", nil)
	}

	ev := &WebhookEvent{
		EventType: eventType,
		EventID:   headers.Get("X-Razorpay-Event-Id"),
		Metadata:  map[string]any{"razorpay_event": eventType},
	}

	if strings.HasPrefix(eventType, "refund.") {
		refund, _, _, err := jsonparser.Get(body, "payload", "refund", "entity")
		if err != nil {
			return nil, newWebhookError(razorpayName, "refund entity missing", err)
		}
		ev.Kind = WebhookKindRefund
		ev.ProviderRefundID = firstString(refund, []string{"id"})
		ev.MerchantRefundID = firstString(refund, []string{"receipt"})
		ev.ProviderTransactionID = firstString(refund, []string{"payment_id"})
		ev.RawStatus = firstString(refund, []string{"status"})
		ev.Currency = firstString(refund, []string{"currency"})
		if amount, ok := firstInt(refund, []string{"amount"}); ok {
			ev.AmountMinor = &amount
		}
		if ev.ProviderRefundID == "" && ev.MerchantRefundID == "" {
			return nil, newWebhookError(razorpayName, "refund identifiers missing", nil)
		}
		return ev, nil
	}

	payment, _, _, err := jsonparser.Get(body, "payload", "payment", "entity")
	if err != nil {
		return nil, newWebhookError(razorpayName, "payment entity missing", err)
	}
	st := razorpayPaymentStatus(payment)
	ev.Kind = WebhookKindPayment
	ev.RawStatus = st.RawStatus
	ev.ProviderPaymentID = st.ProviderPaymentID
	ev.ProviderTransactionID = st.ProviderTransactionID
	ev.ProviderReferenceID = st.ProviderReferenceID
	ev.AmountMinor = st.CapturedAmountMinor
	ev.Currency = firstString(payment, []string{"currency"})
	ev.PayerHandle = st.PayerHandle
	ev.InstrumentType = st.InstrumentType
	ev.FailureCode = st.FailureCode
	ev.FailureMessage = st.FailureMessage
	ev.OrderID = firstString(payment, []string{"notes", "order_id"})
	ev.MerchantTransactionID = firstString(body,
		[]string{"payload", "order", "entity", "receipt"},
		[]string{"payload", "payment", "entity", "notes", "merchant_transaction_id"})

	if ev.RawStatus == "" {
		return nil, newWebhookError(razorpayName, "payment status missing", nil)
	}
	if ev.ProviderPaymentID == "" && ev.MerchantTransactionID == "" && ev.ProviderTransactionID == "" {
		return nil, newWebhookError(razorpayName, "payment identifiers missing", nil)
	}
	return ev, nil
}

func (r *Razorpay) HealthCheck(ctx context.Context) error {
	_, err := r.call(ctx, http.MethodGet, "/orders?count=1", nil)
	return err
}
