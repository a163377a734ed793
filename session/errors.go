package session

import "errors"

var (
	// ErrUserNotFound indicates the subject has no row in the user store.
	ErrUserNotFound = errors.New("user not found")
	// ErrStoreUnavailable indicates the user store could not be reached.
	ErrStoreUnavailable = errors.New("user store unavailable")
	// ErrSessionUnavailable is returned when no trustworthy session record
	// can be produced: no cached copy within the stale ceiling and the
	// store is unreachable. Fail closed; an uncertain record is never
	// served.
	ErrSessionUnavailable = errors.New("session unavailable")
)
