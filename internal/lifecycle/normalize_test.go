package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"captured", StatusCompleted},
		{"PAYMENT_SUCCESS", StatusCompleted},
		{"  Succeeded ", StatusCompleted},
		{"processed", StatusCompleted},
		{"PAID", StatusCompleted},
		{"payment-pending", StatusPending},
		{"payment pending", StatusPending},
		{"INTERNAL_SERVER_ERROR", StatusPending},
		{"authorized", StatusAuthorized},
		{"authorised", StatusAuthorized},
		{"in_progress", StatusProcessing},
		{"PAYMENT_DECLINED", StatusFailed},
		{"TIMED_OUT", StatusFailed},
		{"expired", StatusCancelled},
		{"canceled", StatusCancelled},
		{"partial_refund", StatusPartiallyRefunded},
		{"refunded", StatusRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeUnknown(t *testing.T) {
	_, ok := Normalize("teleported")
	assert.False(t, ok)

	_, ok = Normalize("")
	assert.False(t, ok)

	assert.Equal(t, StatusPending, MustNormalize("teleported", StatusPending))
	assert.Equal(t, StatusCompleted, MustNormalize("captured", StatusPending))
}
