package adapters

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSignatureMismatch     = errors.New("webhook signature mismatch")
	ErrWebhookUnauthorized   = errors.New("webhook authorization failed")
	ErrUnsupportedProvider   = errors.New("unsupported provider")
	ErrProviderDisabled      = errors.New("provider disabled")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrOperationNotSupported = errors.New("operation not supported by provider")
)

// ConfigurationError means a provider is enabled for a tenant but cannot be
// built from its stored configuration. It is permanent until the
// configuration changes.
type ConfigurationError struct {
	Provider    string
	Environment string
	TenantID    string
	Missing     []string
	Err         error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("provider %s (%s) misconfigured for tenant %s", e.Provider, e.Environment, e.TenantID)
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// WebhookError is a verified delivery whose body cannot be interpreted.
type WebhookError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *WebhookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s webhook: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s webhook: %s", e.Provider, e.Reason)
}

func (e *WebhookError) Unwrap() error { return e.Err }

func newWebhookError(provider, reason string, err error) *WebhookError {
	return &WebhookError{Provider: provider, Reason: reason, Err: err}
}

// ProviderError is a non-2xx answer from a gateway API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s api error (http %d): %s %s", e.Provider, e.StatusCode, e.Code, e.Message)
}

// Is makes 5xx and transport failures match ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable && (e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429)
}

func IsConfigurationError(err error) bool {
	var cerr *ConfigurationError
	return errors.As(err, &cerr)
}

func IsWebhookError(err error) bool {
	var werr *WebhookError
	return errors.As(err, &werr)
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
