package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ApplicationStatus
		to   ApplicationStatus
		want bool
	}{
		{"pending to payment_pending", StatusPending, StatusPaymentPending, true},
		{"pending to rejected", StatusPending, StatusRejected, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to payment_completed skips approval", StatusPending, StatusPaymentCompleted, false},
		{"payment_pending to payment_completed", StatusPaymentPending, StatusPaymentCompleted, true},
		{"payment_pending to payment_failed", StatusPaymentPending, StatusPaymentFailed, true},
		{"payment_pending to expired", StatusPaymentPending, StatusExpired, true},
		{"payment_pending to cancelled", StatusPaymentPending, StatusCancelled, true},
		{"payment_pending back to pending", StatusPaymentPending, StatusPending, false},
		{"rejected is terminal", StatusRejected, StatusPending, false},
		{"expired is terminal", StatusExpired, StatusPaymentPending, false},
		{"payment_completed is terminal", StatusPaymentCompleted, StatusCancelled, false},
		{"payment_failed is terminal", StatusPaymentFailed, StatusPaymentPending, false},
		{"cancelled is terminal", StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []ApplicationStatus{
		StatusRejected, StatusPaymentCompleted, StatusPaymentFailed, StatusExpired, StatusCancelled,
	}
	for _, s := range terminal {
		assert.True(t, IsTerminal(s), string(s))
		assert.Empty(t, transitions[s], string(s))
	}

	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusPaymentPending))
}

func TestIsPaymentSettled(t *testing.T) {
	assert.True(t, IsPaymentSettled(StatusPaymentCompleted))
	assert.True(t, IsPaymentSettled(StatusPaymentFailed))
	assert.True(t, IsPaymentSettled(StatusExpired))

	assert.False(t, IsPaymentSettled(StatusPending))
	assert.False(t, IsPaymentSettled(StatusPaymentPending))
	assert.False(t, IsPaymentSettled(StatusRejected))
	assert.False(t, IsPaymentSettled(StatusCancelled))
}

func TestIsActive(t *testing.T) {
	assert.True(t, IsActive(StatusPending))
	assert.True(t, IsActive(StatusPaymentPending))

	for _, s := range []ApplicationStatus{
		StatusRejected, StatusPaymentCompleted, StatusPaymentFailed, StatusExpired, StatusCancelled,
	} {
		assert.False(t, IsActive(s), string(s))
	}
}

func TestEventStatusAt(t *testing.T) {
	starts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ends := time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)

	ev := Event{Status: EventPublished, Starts: starts, Ends: ends}

	assert.Equal(t, EventPublished, EventStatusAt(ev, starts.Add(-time.Hour)))
	assert.Equal(t, EventOngoing, EventStatusAt(ev, starts))
	assert.Equal(t, EventOngoing, EventStatusAt(ev, starts.Add(24*time.Hour)))
	assert.Equal(t, EventOngoing, EventStatusAt(ev, ends))
	assert.Equal(t, EventCompleted, EventStatusAt(ev, ends.Add(time.Minute)))

	draft := Event{Status: EventDraft, Starts: starts, Ends: ends}
	assert.Equal(t, EventDraft, EventStatusAt(draft, ends.Add(time.Hour)))
}
