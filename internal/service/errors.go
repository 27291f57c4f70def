package service

import (
	"errors"
	"fmt"

	"github.com/critichq/critic-api/internal/store"
)

// Common sentinel errors for AnalysisService
var (
	// ErrJobNotFound indicates that the job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrPreconditionFailed indicates the job exists but is not in a state
	// that permits the requested operation. Deliberately distinct from
	// ErrJobNotFound so callers can tell "no such job" from "wrong state".
	ErrPreconditionFailed = errors.New("job state precondition failed")
)

// AnalysisServiceError wraps errors from the analysis service with context.
type AnalysisServiceError struct {
	// Operation is the operation that failed (e.g., "submit_job", "start_optimization")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for AnalysisServiceError.
func (e *AnalysisServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("analysis service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *AnalysisServiceError) Unwrap() error {
	return e.Err
}

// NewAnalysisServiceError creates a new AnalysisServiceError.
// It returns known sentinel errors directly without wrapping.
func NewAnalysisServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrJobNotFound) {
		return ErrJobNotFound
	}

	if errors.Is(err, store.ErrJobNotFound) {
		return ErrJobNotFound
	}

	if errors.Is(err, ErrPreconditionFailed) {
		return err
	}

	return &AnalysisServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
