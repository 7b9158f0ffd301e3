package payment

import "errors"

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrNotPaymentPending   = errors.New("application is not awaiting payment")
	ErrNotOwner            = errors.New("application belongs to another vendor")
	ErrSignatureInvalid    = errors.New("payment signature verification failed")
	ErrGatewayUnavailable  = errors.New("payment gateway call failed")
)
