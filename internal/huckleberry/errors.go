package huckleberry

import (
	"errors"
	"fmt"
)

// ErrNotReady means no state snapshot has arrived yet, so the tracked
// state is unknown rather than empty.
var ErrNotReady = errors.New("tracked state not yet received")

// AlreadyInStateError means a start was requested for an activity that
// is already running.
type AlreadyInStateError struct {
	Activity string
}

func (e *AlreadyInStateError) Error() string {
	return fmt.Sprintf("%s is already in progress", e.Activity)
}

// NotInStateError means a stop, switch, or cancel was requested for an
// activity that is not running.
type NotInStateError struct {
	Activity string
}

func (e *NotInStateError) Error() string {
	return fmt.Sprintf("no %s in progress", e.Activity)
}

// AuthError means the upstream service rejected our credentials, even
// after a re-authentication attempt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("huckleberry auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError wraps a network-level failure that may succeed on a
// later attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient huckleberry failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RemoteError means the upstream service rejected the request with a
// non-auth client error.
type RemoteError struct {
	Status int
	Msg    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("huckleberry rejected request (status %d): %s", e.Status, e.Msg)
}
