package domain

import "time"

type ApplicationStatus string

const (
	StatusPending          ApplicationStatus = "pending"
	StatusPaymentPending   ApplicationStatus = "payment_pending"
	StatusPaymentCompleted ApplicationStatus = "payment_completed"
	StatusPaymentFailed    ApplicationStatus = "payment_failed"
	StatusRejected         ApplicationStatus = "rejected"
	StatusExpired          ApplicationStatus = "expired"
	StatusCancelled        ApplicationStatus = "cancelled"
)

// transitions is the full application state machine. Organizer approval moves
// pending straight to payment_pending; there is no distinct "approved" state.
var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusPending: {
		StatusPaymentPending,
		StatusRejected,
		StatusCancelled,
	},
	StatusPaymentPending: {
		StatusPaymentCompleted,
		StatusPaymentFailed,
		StatusExpired,
		StatusCancelled,
	},
}

// CanTransition reports whether from -> to is a legal application transition.
func CanTransition(from, to ApplicationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the application can never change status again.
// payment_failed is terminal for the attempt; the stall is released and the
// vendor may submit a fresh application.
func IsTerminal(s ApplicationStatus) bool {
	switch s {
	case StatusRejected, StatusPaymentCompleted, StatusPaymentFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// IsPaymentSettled reports whether a payment outcome has already been
// reached, in which case the payment deadline is meaningless and duplicate
// gateway callbacks must not mutate anything.
func IsPaymentSettled(s ApplicationStatus) bool {
	switch s {
	case StatusPaymentCompleted, StatusPaymentFailed, StatusExpired:
		return true
	}
	return false
}

// IsActive reports whether the application counts against the one active
// application per (event, vendor) rule.
func IsActive(s ApplicationStatus) bool {
	return s == StatusPending || s == StatusPaymentPending
}

// EventStatusAt computes an event's lifecycle status purely from calendar
// time: published before start, ongoing between start and end, completed
// after end. Draft events are never advanced.
func EventStatusAt(e Event, now time.Time) EventStatus {
	if e.Status == EventDraft {
		return EventDraft
	}
	switch {
	case now.Before(e.Starts):
		return EventPublished
	case now.After(e.Ends):
		return EventCompleted
	default:
		return EventOngoing
	}
}
