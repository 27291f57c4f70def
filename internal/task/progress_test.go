package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critichq/critic-api/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func seedJob(t *testing.T, jobs *MockJobStore) *domain.Job {
	t.Helper()
	job, err := domain.NewJob("user-42", "org-acme")
	require.NoError(t, err)
	jobs.Seed(job)
	return job
}

func TestProgressTrackerReport(t *testing.T) {
	t.Parallel()

	t.Run("first report persists the total", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		job := seedJob(t, jobs)
		tracker := NewProgressTracker(jobs, discardLogger())

		tracker.Report(context.Background(), job.ID, "", 0, 10)

		got := jobs.Snapshot(job.ID)
		assert.Equal(t, 10, got.TotalUnits)
		assert.Equal(t, 0, got.CompletedUnits)
	})

	t.Run("increased count goes through the atomic increment", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		job := seedJob(t, jobs)
		tracker := NewProgressTracker(jobs, discardLogger())

		tracker.Report(context.Background(), job.ID, "", 0, 3)
		tracker.Report(context.Background(), job.ID, "a.go", 1, 3)
		tracker.Report(context.Background(), job.ID, "b.go", 2, 3)

		got := jobs.Snapshot(job.ID)
		assert.Equal(t, 2, got.CompletedUnits)
		assert.Equal(t, "b.go", got.CurrentUnit)
	})

	t.Run("unchanged count only updates the unit label", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		job := seedJob(t, jobs)
		tracker := NewProgressTracker(jobs, discardLogger())

		tracker.Report(context.Background(), job.ID, "", 0, 3)
		tracker.Report(context.Background(), job.ID, "a.go", 1, 3)
		// Same count again: "now working on b.go", no increment.
		tracker.Report(context.Background(), job.ID, "b.go", 1, 3)

		got := jobs.Snapshot(job.ID)
		assert.Equal(t, 1, got.CompletedUnits)
		assert.Equal(t, "b.go", got.CurrentUnit)
	})

	t.Run("persist failures are swallowed", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		job := seedJob(t, jobs)
		tracker := NewProgressTracker(jobs, discardLogger())

		tracker.Report(context.Background(), job.ID, "", 0, 3)

		jobs.IncrementProgressFn = func(context.Context, uuid.UUID, string) error {
			return errors.New("connection reset")
		}
		tracker.Report(context.Background(), job.ID, "a.go", 1, 3)

		// The counter did not move, and no error escaped.
		assert.Equal(t, 0, jobs.Snapshot(job.ID).CompletedUnits)
	})
}

// TestProgressTrackerNoLostUpdates is the lost-update property: N workers
// reporting strictly increasing counts through the atomic path must land on
// a final persisted count of N, regardless of interleaving.
func TestProgressTrackerNoLostUpdates(t *testing.T) {
	t.Parallel()

	const workers = 20

	jobs := NewMockJobStore()
	job := seedJob(t, jobs)
	tracker := NewProgressTracker(jobs, discardLogger())

	tracker.Report(context.Background(), job.ID, "", 0, workers)

	// Serialize the count generation with its report, as the executor's
	// per-unit completion path does, while the store still sees concurrent
	// callers racing on the persisted counter.
	var mu sync.Mutex
	completed := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			completed++
			n := completed
			tracker.Report(context.Background(), job.ID, "unit", n, workers)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, jobs.Snapshot(job.ID).CompletedUnits,
		"no increments may be lost under concurrent reporting")
}

func TestProgressTrackerClear(t *testing.T) {
	t.Parallel()

	jobs := NewMockJobStore()
	job := seedJob(t, jobs)
	tracker := NewProgressTracker(jobs, discardLogger())

	tracker.Report(context.Background(), job.ID, "", 2, 5)
	tracker.Clear(job.ID)

	// After Clear, the next report is a "first call" again and re-persists
	// the total instead of incrementing.
	tracker.Report(context.Background(), job.ID, "a.go", 3, 5)

	got := jobs.Snapshot(job.ID)
	assert.Equal(t, 5, got.TotalUnits)
	assert.Equal(t, 0, got.CompletedUnits)
}
