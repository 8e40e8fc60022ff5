package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"created to pending", StatusCreated, StatusPending, true},
		{"created to completed", StatusCreated, StatusCompleted, true},
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"processing to authorized", StatusProcessing, StatusAuthorized, true},
		{"authorized to completed", StatusAuthorized, StatusCompleted, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"processing back to pending", StatusProcessing, StatusPending, false},
		{"authorized back to created", StatusAuthorized, StatusCreated, false},
		{"pending to refunded", StatusPending, StatusRefunded, false},
		{"completed to partially refunded", StatusCompleted, StatusPartiallyRefunded, true},
		{"completed to refunded", StatusCompleted, StatusRefunded, true},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"completed to pending", StatusCompleted, StatusPending, false},
		{"partially refunded to refunded", StatusPartiallyRefunded, StatusRefunded, true},
		{"partially refunded to completed", StatusPartiallyRefunded, StatusCompleted, false},
		{"failed to completed", StatusFailed, StatusCompleted, false},
		{"cancelled to completed", StatusCancelled, StatusCompleted, false},
		{"refunded to partially refunded", StatusRefunded, StatusPartiallyRefunded, false},
		{"same status is allowed", StatusFailed, StatusFailed, true},
		{"unknown source", Status("LOST"), StatusPending, false},
		{"unknown target", StatusPending, Status("LOST"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusesNeverCrossOver(t *testing.T) {
	for _, from := range All {
		for _, to := range All {
			if !from.IsTerminal() || !to.IsTerminal() || from == to {
				continue
			}
			allowed := CanTransition(from, to)
			if from == StatusCompleted && to == StatusRefunded {
				assert.True(t, allowed)
				continue
			}
			assert.False(t, allowed, "%s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusPartiallyRefunded.IsTerminal())
	assert.True(t, StatusPartiallyRefunded.IsSettled())
	assert.False(t, StatusAuthorized.IsSettled())

	assert.True(t, StatusRefunded.IsSuccess())
	assert.False(t, StatusCancelled.IsSuccess())
	assert.True(t, StatusCancelled.IsFailure())

	assert.True(t, StatusRefunded.IsRefundTrack())
	assert.False(t, StatusCompleted.IsRefundTrack())

	assert.True(t, IsNoop(StatusPending, StatusPending))
	assert.False(t, IsNoop(StatusPending, StatusCompleted))
}
