package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/platform/logger"
	"github.com/critichq/critic-api/internal/store"
)

// ProgressTracker persists per-job progress in a way that is safe under
// concurrent reporting from multiple workers. It keeps an in-memory
// last-seen count per job, separate from persisted state, to decide
// whether a report is a new completion or only a "now working on unit X"
// signal.
//
// Counter updates go through the store's atomic increment primitive, never
// a read-then-write, because multiple process instances may share the same
// database and a read-then-write would lose increments.
type ProgressTracker struct {
	jobs   store.JobStore
	logger *slog.Logger

	mu       sync.Mutex
	lastSeen map[uuid.UUID]int
}

// NewProgressTracker creates a ProgressTracker backed by the given job store.
// If logger is nil, a default logger will be used.
func NewProgressTracker(jobs store.JobStore, log *slog.Logger) *ProgressTracker {
	if jobs == nil {
		panic("jobs store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &ProgressTracker{
		jobs:     jobs,
		logger:   log.With(slog.String("component", "progress_tracker")),
		lastSeen: make(map[uuid.UUID]int),
	}
}

// Report records a progress observation for the job. Three cases:
//
//  1. First report for the job: the total unit count is persisted and the
//     completed count is recorded as last-seen.
//  2. The completed count increased since last-seen: the persisted counter
//     is atomically incremented by one and the current unit label set.
//  3. The completed count is unchanged: only the current unit label is
//     updated.
//
// A failure to persist is logged and swallowed; progress telemetry must
// never abort the job itself.
func (t *ProgressTracker) Report(ctx context.Context, jobID uuid.UUID, unitLabel string, completed, total int) {
	log := logger.FromContextOrDefault(ctx, t.logger)

	t.mu.Lock()
	last, seen := t.lastSeen[jobID]
	increased := seen && completed > last
	if !seen || completed > last {
		t.lastSeen[jobID] = completed
	}
	t.mu.Unlock()

	var err error
	switch {
	case !seen:
		err = t.jobs.InitProgress(ctx, jobID, total)

	case increased:
		err = t.jobs.IncrementProgress(ctx, jobID, unitLabel)

	default:
		err = t.jobs.SetCurrentUnit(ctx, jobID, unitLabel)
	}

	if err != nil {
		log.Warn("failed to persist progress update",
			slog.String("job_id", jobID.String()),
			slog.String("unit", unitLabel),
			slog.Int("completed", completed),
			slog.Int("total", total),
			slog.String("error", err.Error()))
	}
}

// Clear drops the in-memory last-seen entry for the job. Called when a job
// starts or finishes so the map does not grow without bound.
func (t *ProgressTracker) Clear(jobID uuid.UUID) {
	t.mu.Lock()
	delete(t.lastSeen, jobID)
	t.mu.Unlock()
}
