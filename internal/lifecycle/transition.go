package lifecycle

// CanTransition decides whether a record in status current may move to next.
//
// Identical statuses are allowed and treated by callers as an idempotent no-op.
// A terminal status never moves to a different terminal status; the refund
// track (COMPLETED -> PARTIALLY_REFUNDED/REFUNDED, PARTIALLY_REFUNDED ->
// REFUNDED) is the only way forward from COMPLETED.
func CanTransition(current, next Status) bool {
	if !current.Valid() || !next.Valid() {
		return false
	}
	if current == next {
		return true
	}

	switch current {
	case StatusCompleted:
		return next == StatusPartiallyRefunded || next == StatusRefunded
	case StatusPartiallyRefunded:
		return next == StatusRefunded
	case StatusFailed, StatusCancelled, StatusRefunded:
		return false
	}

	if next.IsRefundTrack() {
		return false
	}
	switch next {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return progress[next] > progress[current]
}

// IsNoop reports whether moving from current to next changes nothing.
func IsNoop(current, next Status) bool {
	return current == next
}
