package lifecycle

import "strings"

// providerVocabulary is the single mapping from provider-native status strings
// to canonical statuses. Keys are normalized with normalizeKey.
var providerVocabulary = map[string]Status{
	// created
	"created":   StatusCreated,
	"initiated": StatusCreated,
	"new":       StatusCreated,

	// pending
	"pending":                 StatusPending,
	"payment_pending":         StatusPending,
	"payment_initiated":       StatusPending,
	"attempted":               StatusPending,
	"awaiting_payment":        StatusPending,
	"unpaid":                  StatusPending,
	"active":                  StatusPending,
	"internal_server_error":   StatusPending,
	"requires_action":         StatusPending,
	"requires_payment_method": StatusPending,

	// processing
	"processing":  StatusProcessing,
	"in_progress": StatusProcessing,
	"in_process":  StatusProcessing,
	"submitted":   StatusProcessing,

	// authorized
	"authorized":         StatusAuthorized,
	"authorised":         StatusAuthorized,
	"payment_authorized": StatusAuthorized,
	"requires_capture":   StatusAuthorized,

	// completed
	"completed":       StatusCompleted,
	"captured":        StatusCompleted,
	"success":         StatusCompleted,
	"succeeded":       StatusCompleted,
	"successful":      StatusCompleted,
	"paid":            StatusCompleted,
	"payment_success": StatusCompleted,
	"settled":         StatusCompleted,
	"processed":       StatusCompleted,
	"refund_success":  StatusCompleted,

	// failed
	"failed":           StatusFailed,
	"failure":          StatusFailed,
	"error":            StatusFailed,
	"payment_error":    StatusFailed,
	"payment_declined": StatusFailed,
	"declined":         StatusFailed,
	"denied":           StatusFailed,
	"rejected":         StatusFailed,
	"timeout":          StatusFailed,
	"timed_out":        StatusFailed,
	"refund_failed":    StatusFailed,

	// cancelled
	"cancelled":         StatusCancelled,
	"canceled":          StatusCancelled,
	"payment_cancelled": StatusCancelled,
	"voided":            StatusCancelled,
	"void":              StatusCancelled,
	"expired":           StatusCancelled,
	"user_dropped":      StatusCancelled,

	// refund track
	"refunded":           StatusRefunded,
	"full_refund":        StatusRefunded,
	"partially_refunded": StatusPartiallyRefunded,
	"partial_refund":     StatusPartiallyRefunded,
	"partial_refunded":   StatusPartiallyRefunded,
}

// Normalize maps a provider-native status onto a canonical status. The lookup
// ignores case, surrounding whitespace and the choice of space, hyphen or
// underscore as a separator.
func Normalize(raw string) (Status, bool) {
	s, ok := providerVocabulary[normalizeKey(raw)]
	return s, ok
}

// MustNormalize is Normalize with a fallback for unrecognized strings.
func MustNormalize(raw string, fallback Status) Status {
	if s, ok := Normalize(raw); ok {
		return s
	}
	return fallback
}

func normalizeKey(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	k = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(k)
	return k
}
