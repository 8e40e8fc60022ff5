// Package lifecycle holds the canonical payment/refund statuses, the legal
// transitions between them and the one table that maps provider vocabulary
// onto them. Nothing in here performs I/O.
package lifecycle

type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusPending           Status = "PENDING"
	StatusProcessing        Status = "PROCESSING"
	StatusAuthorized        Status = "AUTHORIZED"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// All lists every canonical status in lifecycle order.
var All = []Status{
	StatusCreated,
	StatusPending,
	StatusProcessing,
	StatusAuthorized,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusRefunded,
	StatusPartiallyRefunded,
}

// progress orders the pre-completion statuses. A payment only moves forward
// through them.
var progress = map[Status]int{
	StatusCreated:    0,
	StatusPending:    1,
	StatusProcessing: 2,
	StatusAuthorized: 3,
}

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusProcessing, StatusAuthorized,
		StatusCompleted, StatusFailed, StatusCancelled,
		StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether s ends the payment lifecycle. PARTIALLY_REFUNDED
// is not terminal: further refunds may still move it to REFUNDED.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// IsSuccess reports whether funds were collected at some point.
func (s Status) IsSuccess() bool {
	switch s {
	case StatusCompleted, StatusPartiallyRefunded, StatusRefunded:
		return true
	}
	return false
}

// IsRefundTrack reports whether s can only be reached through refunds.
func (s Status) IsRefundTrack() bool {
	return s == StatusRefunded || s == StatusPartiallyRefunded
}

func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusCancelled
}

// IsSettled reports whether nothing more is expected from the provider for the
// payment attempt itself, i.e. a reconciliation poll has nothing left to learn.
func (s Status) IsSettled() bool {
	return s.IsTerminal() || s == StatusPartiallyRefunded
}
