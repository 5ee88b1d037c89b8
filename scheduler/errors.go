package scheduler

import (
	"errors"
)

// Scheduler errors
var (
	// ErrInvocation wraps every error returned or panicked by a scheduled callback.
	ErrInvocation = errors.New("invocation error")

	ErrInvalidSpec    = errors.New("invalid trigger specification")
	ErrNilCallback    = errors.New("callback is nil")
	ErrMissingOwner   = errors.New("schedule entry needs an owner")
	ErrEntryNotFound  = errors.New("schedule entry not found")
	ErrCallbackPanic  = errors.New("callback panicked")
	ErrAlreadyStarted = errors.New("scheduler already started")
)
