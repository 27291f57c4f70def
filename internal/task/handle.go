package task

import (
	"context"
	"sync/atomic"
)

// JobHandle is a cancellable handle to a running job's execution. It is
// created when the execution begins and removed from the registry when the
// job reaches any terminal state.
type JobHandle struct {
	cancel context.CancelFunc
	done   atomic.Bool
}

// NewJobHandle derives a cancellable context from parent and returns the
// handle together with the context the job's workers must run under.
func NewJobHandle(parent context.Context) (*JobHandle, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &JobHandle{cancel: cancel}, ctx
}

// Interrupt requests cancellation of the running job. Interruption is
// best-effort: a worker already past its point of no return may still
// finish its current unit.
func (h *JobHandle) Interrupt() {
	h.cancel()
}

// MarkDone records that the job's execution has finished, regardless of
// outcome, and releases the handle's context resources.
func (h *JobHandle) MarkDone() {
	h.done.Store(true)
	h.cancel()
}

// Done reports whether the job's execution has finished.
func (h *JobHandle) Done() bool {
	return h.done.Load()
}
