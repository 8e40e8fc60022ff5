package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrRefundNotFound         = errors.New("refund not found")
	ErrIdempotencyKeyRequired = errors.New("Idempotency-Key header is required")
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	ErrIdempotencyInFlight    = errors.New("request with this idempotency key is still in progress")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrNoProviderAvailable    = errors.New("no payment provider available")
	ErrProviderCallFailed     = errors.New("payment provider call failed")
	ErrDatabaseError          = errors.New("database error")
)

// Business rejection codes carried by PaymentError.
const (
	CodeInvalidAmount          = "INVALID_AMOUNT"
	CodeInvalidCurrency        = "INVALID_CURRENCY"
	CodeOrderAlreadyPaid       = "ORDER_ALREADY_PAID"
	CodeAmountMismatch         = "AMOUNT_MISMATCH"
	CodeRefundExceedsCaptured  = "REFUND_EXCEEDS_CAPTURED"
	CodePaymentNotRefundable   = "PAYMENT_NOT_REFUNDABLE"
	CodePaymentNotCancellable  = "PAYMENT_NOT_CANCELLABLE"
	CodeProviderNotConfigured  = "PROVIDER_NOT_CONFIGURED"
	CodeProviderRejected       = "PROVIDER_REJECTED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

// PaymentError is a business-rule rejection that callers can show as-is.
type PaymentError struct {
	Code    string
	Message string
}

func NewPaymentError(code, format string, args ...any) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) HTTPStatus() int {
	switch e.Code {
	case CodeOrderAlreadyPaid, CodeConcurrentModification, CodePaymentNotCancellable, CodePaymentNotRefundable:
		return http.StatusConflict
	case CodeProviderNotConfigured:
		return http.StatusInternalServerError
	case CodeProviderRejected:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// IsPaymentErrorCode reports whether err is a PaymentError with the given code.
func IsPaymentErrorCode(err error, code string) bool {
	var perr *PaymentError
	return errors.As(err, &perr) && perr.Code == code
}
