package adapters

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"
)

const (
	phonePeName           = "phonepe"
	phonePeSandboxBaseURL = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	phonePeLiveBaseURL    = "https://api.phonepe.com/apis/hermes"
)

func PhonePeRegistration() Registration {
	return Registration{
		Name:           phonePeName,
		RequiredFields: []string{"merchant_id", "salt_key", "salt_index"},
		New: func(s Settings) (Capability, error) {
			return NewPhonePe(s), nil
		},
	}
}

type PhonePe struct {
	merchantID       string
	saltKey          string
	saltIndex        string
	callbackUser     string
	callbackPassword string
	callbackURL      string
	baseURL          string
	client           *http.Client
}

func NewPhonePe(s Settings) *PhonePe {
	base := strings.TrimRight(s.Credentials["base_url"], "/")
	if base == "" {
		base = phonePeSandboxBaseURL
		if s.Environment == "live" {
			base = phonePeLiveBaseURL
		}
	}
	return &PhonePe{
		merchantID:       s.Credentials["merchant_id"],
		saltKey:          s.Credentials["salt_key"],
		saltIndex:        s.Credentials["salt_index"],
		callbackUser:     s.Credentials["callback_username"],
		callbackPassword: s.Credentials["callback_password"],
		callbackURL:      s.Credentials["callback_url"],
		baseURL:          base,
		client:           s.client(),
	}
}

func (p *PhonePe) Provider() string        { return phonePeName }
func (p *PhonePe) SignatureHeader() string { return "X-VERIFY" }

// checksum is sha256(payload + saltKey) + "###" + saltIndex.
func (p *PhonePe) checksum(payload string) string {
	sum := sha256.Sum256([]byte(payload + p.saltKey))
	return hex.EncodeToString(sum[:]) + "###" + p.saltIndex
}

// callbackAuthorization is the value PhonePe sends in Authorization on
// callbacks when a callback credential is configured.
func (p *PhonePe) callbackAuthorization() string {
	sum := sha256.Sum256([]byte(p.callbackUser + ":" + p.callbackPassword))
	return hex.EncodeToString(sum[:])
}

func (p *PhonePe) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("phonepe: encode request: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, _ := json.Marshal(map[string]string{"request": encoded})
	return do(ctx, p.client, phonePeName, apiRequest{
		Method:  http.MethodPost,
		URL:     p.baseURL + path,
		Body:    body,
		Headers: map[string]string{"X-VERIFY": p.checksum(encoded + path)},
	})
}

func (p *PhonePe) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	instrument := map[string]any{"type": "PAY_PAGE"}
	if isUPI(req.Method) && req.Metadata["vpa"] != nil {
		instrument = map[string]any{"type": "UPI_COLLECT", "vpa": req.Metadata["vpa"]}
	}
	userID := req.CustomerID
	if userID == "" {
		userID = req.TenantID + "-" + req.OrderID
	}

	resp, err := p.post(ctx, "/pg/v1/pay", map[string]any{
		"merchantId":            p.merchantID,
		"merchantTransactionId": req.MerchantTransactionID,
		"merchantUserId":        userID,
		"amount":                req.AmountMinor,
		"redirectUrl":           req.ReturnURL,
		"redirectMode":          "REDIRECT",
		"callbackUrl":           p.callbackURL,
		"mobileNumber":          req.CustomerPhone,
		"paymentInstrument":     instrument,
	})
	if err != nil {
		return nil, err
	}

	return &CreatePaymentResult{
		ProviderTransactionID: firstString(resp, []string{"data", "transactionId"}),
		RawStatus:             firstString(resp, []string{"code"}),
		CheckoutURL:           firstString(resp, []string{"data", "instrumentResponse", "redirectInfo", "url"}),
		RequiresPolling:       true,
	}, nil
}

func (p *PhonePe) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*PaymentStatusResult, error) {
	if req.MerchantTransactionID == "" {
		return nil, fmt.Errorf("phonepe: merchant transaction id required")
	}
	path := "/pg/v1/status/" + p.merchantID + "/" + req.MerchantTransactionID
	resp, err := do(ctx, p.client, phonePeName, apiRequest{
		Method: http.MethodGet,
		URL:    p.baseURL + path,
		Headers: map[string]string{
			"X-VERIFY":      p.checksum(path),
			"X-MERCHANT-ID": p.merchantID,
		},
	})
	if err != nil {
		return nil, err
	}
	return phonePeStatus(resp), nil
}

func phonePeStatus(resp []byte) *PaymentStatusResult {
	res := &PaymentStatusResult{
		RawStatus:             firstString(resp, []string{"code"}, []string{"data", "state"}),
		ResponseCode:          firstString(resp, []string{"data", "responseCode"}),
		ProviderTransactionID: firstString(resp, []string{"data", "transactionId"}),
		ProviderReferenceID: firstString(resp,
			[]string{"data", "paymentInstrument", "utr"},
			[]string{"data", "paymentInstrument", "bankTransactionId"}),
		PayerHandle:    firstString(resp, []string{"data", "paymentInstrument", "vpa"}),
		InstrumentType: firstString(resp, []string{"data", "paymentInstrument", "type"}),
		FailureMessage: firstString(resp, []string{"message"}),
	}
	if res.ResponseCode != "" && res.ResponseCode != "SUCCESS" {
		res.FailureCode = res.ResponseCode
	}
	if amount, ok := firstInt(resp, []string{"data", "amount"}); ok {
		res.CapturedAmountMinor = &amount
	}
	return res
}

func (p *PhonePe) CreateRefund(ctx context.Context, req CreateRefundRequest) (*RefundResult, error) {
	resp, err := p.post(ctx, "/pg/v1/refund", map[string]any{
		"merchantId":            p.merchantID,
		"merchantUserId":        p.merchantID,
		"originalTransactionId": req.MerchantTransactionID,
		"merchantTransactionId": req.MerchantRefundID,
		"amount":                req.AmountMinor,
		"callbackUrl":           p.callbackURL,
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{
		ProviderRefundID: firstString(resp, []string{"data", "transactionId"}),
		RawStatus:        firstString(resp, []string{"code"}),
		FailureMessage:   firstString(resp, []string{"message"}),
	}, nil
}

// VerifyWebhook accepts either a matching callback Authorization credential
// or a valid X-VERIFY checksum over the base64 response. A present but wrong
// Authorization header is an authorization failure, not a signature mismatch.
func (p *PhonePe) VerifyWebhook(_ context.Context, headers http.Header, body []byte, signature string) error {
	if auth := strings.TrimSpace(headers.Get("Authorization")); auth != "" && p.callbackUser != "" {
		auth = strings.TrimPrefix(auth, "SHA256 ")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(p.callbackAuthorization())) != 1 {
			return ErrWebhookUnauthorized
		}
		return nil
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMismatch
	}
	encoded, err := jsonparser.GetString(body, "response")
	if err != nil || encoded == "" {
		return ErrSignatureMismatch
	}
	if subtle.ConstantTimeCompare([]byte(signature), []byte(p.checksum(encoded))) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// DecodePhonePeResponse unwraps the base64 "response" field of a callback.
func DecodePhonePeResponse(body []byte) ([]byte, error) {
	encoded, err := jsonparser.GetString(body, "response")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (p *PhonePe) ParseWebhook(_ context.Context, _ http.Header, body []byte) (*WebhookEvent, error) {
	decoded, err := DecodePhonePeResponse(body)
	if err != nil {
		return nil, newWebhookError(phonePeName, "response payload is not base64 json", err)
	}

	st := phonePeStatus(decoded)
	merchantTxnID := firstString(decoded, []string{"data", "merchantTransactionId"})
	ev := &WebhookEvent{
		EventType:             "phonepe." + strings.ToLower(st.RawStatus),
		RawStatus:             st.RawStatus,
		ProviderTransactionID: st.ProviderTransactionID,
		ProviderReferenceID:   st.ProviderReferenceID,
		AmountMinor:           st.CapturedAmountMinor,
		PayerHandle:           st.PayerHandle,
		InstrumentType:        st.InstrumentType,
		FailureCode:           st.FailureCode,
		FailureMessage:        st.FailureMessage,
		Metadata:              map[string]any{"phonepe_response_code": st.ResponseCode},
	}

	if original := firstString(decoded, []string{"data", "originalTransactionId"}); original != "" {
		ev.Kind = WebhookKindRefund
		ev.MerchantRefundID = merchantTxnID
		ev.ProviderRefundID = st.ProviderTransactionID
		ev.MerchantTransactionID = original
		ev.ProviderTransactionID = ""
	} else {
		ev.Kind = WebhookKindPayment
		ev.MerchantTransactionID = merchantTxnID
	}

	if ev.RawStatus == "" {
		return nil, newWebhookError(phonePeName, "status code missing", nil)
	}
	if merchantTxnID == "" {
		return nil, newWebhookError(phonePeName, "merchantTransactionId missing", nil)
	}
	return ev, nil
}

func (p *PhonePe) HealthCheck(ctx context.Context) error {
	// The status endpoint answers for unknown ids with a 2xx/4xx body; only
	// transport failures and 5xx count as unhealthy.
	_, err := p.VerifyPayment(ctx, VerifyPaymentRequest{MerchantTransactionID: "healthcheck"})
	if err != nil && !isUnavailable(err) {
		return nil
	}
	return err
}
