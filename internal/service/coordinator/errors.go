package coordinator

import "errors"

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrEventNotPublished    = errors.New("event is not accepting applications")
	ErrStallNotFound        = errors.New("stall not found")
	ErrStallUnavailable     = errors.New("stall is not available")
	ErrStallStateChanged    = errors.New("stall no longer available")
	ErrDuplicateApplication = errors.New("an active application for this event already exists")
	ErrApplicationNotFound  = errors.New("application not found")
	ErrNotPending           = errors.New("application is not pending")
	ErrNotPaymentPending    = errors.New("application is not awaiting payment")
	ErrNotOrganizer         = errors.New("caller does not organize this event")
	ErrNotOwner             = errors.New("application belongs to another vendor")
	ErrFeeMismatch          = errors.New("fee breakdown does not match the stall price")
	ErrStaleState           = errors.New("state changed concurrently, nothing was modified")
	ErrRateLimited          = errors.New("too many submissions, slow down")
)
