package query

import "errors"

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrStallNotFound       = errors.New("stall not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrForbidden           = errors.New("not allowed to view this application")
)
