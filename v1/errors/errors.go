package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotOwner is returned when a lock is released with a token that does
	// not match its current hold.
	ErrNotOwner = errors.New("lock not held by caller")
	// ErrWorkFailed wraps errors returned (or panics raised) by transaction work.
	ErrWorkFailed    = errors.New("transaction work failed")
	ErrShutdown      = errors.New("shut down")
	ErrInvalidConfig = errors.New("invalid configuration")
)
