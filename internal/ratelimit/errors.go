package ratelimit

import (
	"errors"
	"fmt"
)

// ErrExceeded is the family root for admission denials, matched with
// errors.Is. Denial is an expected condition; it is returned as a typed
// rejection, never a panic, and the caller decides how to surface it.
var ErrExceeded = errors.New("rate limit exceeded")

// ExceededError carries the configured ceiling so callers can render a
// meaningful message.
type ExceededError struct {
	// Operation describes the throttled operation class.
	Operation string
	// Limit is the configured ceiling per window.
	Limit int
}

// Error implements the error interface for ExceededError.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: at most %d per window", e.Operation, e.Limit)
}

// Unwrap makes errors.Is(err, ErrExceeded) match.
func (e *ExceededError) Unwrap() error {
	return ErrExceeded
}
