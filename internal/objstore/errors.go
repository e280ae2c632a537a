// Package objstore implements the client side of the remote versioned object
// store: per-user key derivation, authorization-token lifecycle, and the typed
// wrapper around the store's native HTTP API.
package objstore

import (
	"errors"
	"fmt"
)

// ErrInvalidUser is returned when a user identity cannot form a namespace prefix.
var ErrInvalidUser = errors.New("invalid user")

// ErrInvalidName is returned when a file name is empty or would escape the
// user's namespace.
var ErrInvalidName = errors.New("invalid file name")

// ErrNotFound is returned when no version exists for the requested key.
var ErrNotFound = errors.New("file not found")

// ErrAuth is returned when the store rejects our credentials or keeps
// rejecting the authorization token after a refresh.
var ErrAuth = errors.New("store authorization failed")

// ErrNetwork is returned when the store could not be reached at all.
var ErrNetwork = errors.New("store unreachable")

// errTokenExpired marks a single authorization rejection. The client refreshes
// the session and retries once; if it escapes, it still reads as ErrAuth.
var errTokenExpired = fmt.Errorf("%w: token rejected", ErrAuth)

// StoreError is any other non-2xx response from the store, preserved for
// diagnostics.
type StoreError struct {
	Status  int
	Code    string
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error %d (%s): %s", e.Status, e.Code, e.Message)
}
