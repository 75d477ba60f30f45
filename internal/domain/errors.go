// internal/domain/errors.go
package domain

import "errors"

// ErrUnauthorized is returned when the runner API responds with HTTP 401 and
// the session could not be recovered by logging in again.
// Callers can check for it using errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotLoggedIn is returned by operations that need a verified session when
// no valid token is stored.
var ErrNotLoggedIn = errors.New("not logged in")
