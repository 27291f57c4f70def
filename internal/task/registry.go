package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/platform/logger"
	"github.com/critichq/critic-api/internal/store"
)

// CancellationRegistry tracks the in-flight handle of every running job and
// performs the atomic transition to the cancelled state.
//
// The registered handle only covers executions in this process instance;
// the conditional database update is what makes cancellation correct across
// instances, so Cancel works even when no handle is registered here.
type CancellationRegistry struct {
	jobs   store.JobStore
	logger *slog.Logger

	mu      sync.Mutex
	handles map[uuid.UUID]*JobHandle
}

// NewCancellationRegistry creates a CancellationRegistry backed by the given
// job store. If logger is nil, a default logger will be used.
func NewCancellationRegistry(jobs store.JobStore, log *slog.Logger) *CancellationRegistry {
	if jobs == nil {
		panic("jobs store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &CancellationRegistry{
		jobs:    jobs,
		logger:  log.With(slog.String("component", "cancellation_registry")),
		handles: make(map[uuid.UUID]*JobHandle),
	}
}

// Register associates a running job with its handle. An existing handle for
// the same job is replaced.
func (r *CancellationRegistry) Register(jobID uuid.UUID, handle *JobHandle) {
	r.mu.Lock()
	r.handles[jobID] = handle
	r.mu.Unlock()

	r.logger.Debug("registered job handle", slog.String("job_id", jobID.String()))
}

// Unregister removes the handle for the job, if any. Called when the job
// reaches any terminal state.
func (r *CancellationRegistry) Unregister(jobID uuid.UUID) {
	r.mu.Lock()
	delete(r.handles, jobID)
	r.mu.Unlock()
}

// IsRunning reports whether this process holds an unfinished handle for the
// job. It is a convenience check derived from the handle, not from
// persisted status.
func (r *CancellationRegistry) IsRunning(jobID uuid.UUID) bool {
	r.mu.Lock()
	handle, ok := r.handles[jobID]
	r.mu.Unlock()

	return ok && !handle.Done()
}

// Cancel interrupts the job's execution (best-effort) and performs the
// single conditional update to the cancelled state. If the conditional
// update affects no rows, the job is re-fetched and a state-specific error
// is returned rather than a silent success; this closes the race where the
// job finishes between a status check and the cancel attempt.
//
// On success the handle is unregistered and the updated job returned.
func (r *CancellationRegistry) Cancel(ctx context.Context, jobID uuid.UUID, requestedBy, reason string) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)

	r.mu.Lock()
	handle, ok := r.handles[jobID]
	r.mu.Unlock()

	if ok && !handle.Done() {
		log.Info("interrupting running job",
			slog.String("job_id", jobID.String()),
			slog.String("requested_by", requestedBy))
		handle.Interrupt()
	}

	err := r.jobs.CancelJob(ctx, jobID, requestedBy, reason)
	if err != nil {
		if !errors.Is(err, store.ErrNoRowsAffected) {
			return nil, fmt.Errorf("failed to cancel job: %w", err)
		}

		// Conditional update lost: the job is already terminal. Report the
		// actual state instead of a false "cancelled".
		job, fetchErr := r.jobs.GetByID(ctx, jobID)
		if fetchErr != nil {
			return nil, fmt.Errorf("failed to fetch job after cancel conflict: %w", fetchErr)
		}
		return nil, cancelErrorForStatus(job.Status)
	}

	r.Unregister(jobID)

	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cancelled job: %w", err)
	}

	log.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("requested_by", requestedBy),
		slog.String("reason", reason))

	return job, nil
}
