package task

import (
	"errors"
	"fmt"

	"github.com/critichq/critic-api/internal/domain"
)

// Cancellation errors. The entity-specific errors wrap ErrNotCancellable so
// callers can match the whole family with errors.Is(err, ErrNotCancellable)
// or a specific terminal state.
var (
	// ErrNotCancellable is returned when a job is in a state that does not
	// permit cancellation.
	ErrNotCancellable = errors.New("job is not cancellable")

	// ErrAlreadyCompleted indicates the job finished before the cancel
	// transition could win.
	ErrAlreadyCompleted = fmt.Errorf("%w: already completed", ErrNotCancellable)

	// ErrAlreadyCancelled indicates the job was cancelled by an earlier request.
	ErrAlreadyCancelled = fmt.Errorf("%w: already cancelled", ErrNotCancellable)

	// ErrAlreadyFailed indicates the job failed before the cancel transition
	// could win.
	ErrAlreadyFailed = fmt.Errorf("%w: already failed", ErrNotCancellable)
)

// NotCancellableError carries the actual job status for states that have no
// dedicated sentinel.
type NotCancellableError struct {
	Status domain.JobStatus
}

// Error implements the error interface for NotCancellableError.
func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("job is not cancellable in status %q", e.Status)
}

// Unwrap makes errors.Is(err, ErrNotCancellable) match.
func (e *NotCancellableError) Unwrap() error {
	return ErrNotCancellable
}

// cancelErrorForStatus maps a terminal job status to its typed error.
func cancelErrorForStatus(status domain.JobStatus) error {
	switch status {
	case domain.JobStatusCompleted:
		return ErrAlreadyCompleted
	case domain.JobStatusCancelled:
		return ErrAlreadyCancelled
	case domain.JobStatusFailed:
		return ErrAlreadyFailed
	default:
		return &NotCancellableError{Status: status}
	}
}
