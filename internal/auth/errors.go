package auth

import (
	"errors"
	"fmt"
	"time"
)

// ErrLoginCancelled is the outcome of a login that was cancelled by the user
// or superseded by a newer login attempt.
var ErrLoginCancelled = errors.New("login cancelled")

// ErrNoActiveLogin is returned by Wait when no login has been started.
var ErrNoActiveLogin = errors.New("no login in progress")

// NetworkError is a transport failure talking to the runner. Polling retries
// it; one-shot calls return it immediately.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or incomplete response from the runner.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthorizationError is returned when the server refuses the grant.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed (%s): %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed (%s)", e.Code)
}

// TimeoutError is returned when the grant expires before the user approves it.
type TimeoutError struct {
	ExpiredAt time.Time
}

func (e *TimeoutError) Error() string {
	return "device code expired before authorization completed"
}
