package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/events"
	"github.com/critichq/critic-api/internal/ratelimit"
	"github.com/critichq/critic-api/internal/task"
)

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.JobEvent
}

func (e *recordingEmitter) EmitEvent(ctx context.Context, event *events.JobEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) All() []*events.JobEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*events.JobEvent(nil), e.events...)
}

type serviceFixture struct {
	service AnalysisService
	jobs    *task.MockJobStore
	emitter *recordingEmitter
}

func newServiceFixture(t *testing.T, limits Limits) *serviceFixture {
	t.Helper()

	limiter := ratelimit.NewLimiter(time.Hour, nil)
	t.Cleanup(limiter.Stop)

	jobs := task.NewMockJobStore()
	tracker := task.NewProgressTracker(jobs, nil)
	executor := task.NewParallelExecutor(tracker, task.DefaultExecutorConfig(), nil)
	registry := task.NewCancellationRegistry(jobs, nil)
	emitter := &recordingEmitter{}

	return &serviceFixture{
		service: NewAnalysisService(jobs, executor, registry, limiter, emitter, limits, nil),
		jobs:    jobs,
		emitter: emitter,
	}
}

func defaultLimits() Limits {
	return Limits{SubmissionsPerWindow: 50, OptimizationsPerWindow: 10}
}

func testUnits(n int) []domain.AnalysisUnit {
	units := make([]domain.AnalysisUnit, n)
	for i := range units {
		units[i] = domain.AnalysisUnit{Path: string(rune('a'+i)) + ".go", Language: "go"}
	}
	return units
}

func noFindings(ctx context.Context, unit domain.AnalysisUnit) ([]domain.Finding, error) {
	return nil, nil
}

func TestSubmitJob_RunsToCompletion(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	analyze := func(ctx context.Context, unit domain.AnalysisUnit) ([]domain.Finding, error) {
		return []domain.Finding{domain.NewFinding(uuid.Nil, unit.Path, "note", "looks fine", 1)}, nil
	}

	job, err := fx.service.SubmitJob(context.Background(), "actor-1", "org-1", testUnits(4), analyze)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	fx.service.Wait()

	snap := fx.jobs.Snapshot(job.ID)
	require.NotNil(t, snap)
	assert.Equal(t, domain.JobStatusCompleted, snap.Status)
	assert.Equal(t, 4, snap.CompletedUnits)

	emitted := fx.emitter.All()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.EventReviewCompleted, emitted[0].Type)
	assert.Equal(t, "org-1", emitted[0].OrgKey)

	var payload map[string]any
	require.NoError(t, emitted[0].UnmarshalPayload(&payload))
	assert.Equal(t, job.ID.String(), payload["job_id"])
	assert.Equal(t, float64(4), payload["finding_count"])
}

func TestSubmitJob_StartFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	fx.jobs.MarkStartedFn = func(ctx context.Context, id uuid.UUID) error {
		return errors.New("connection reset")
	}

	job, err := fx.service.SubmitJob(context.Background(), "actor-1", "org-1", testUnits(2), noFindings)
	require.NoError(t, err)

	fx.service.Wait()

	snap := fx.jobs.Snapshot(job.ID)
	require.NotNil(t, snap)
	assert.Equal(t, domain.JobStatusFailed, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "connection reset")

	emitted := fx.emitter.All()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.EventReviewFailed, emitted[0].Type)
}

func TestSubmitJob_RateLimited(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, Limits{SubmissionsPerWindow: 1, OptimizationsPerWindow: 10})

	ctx := context.Background()
	_, err := fx.service.SubmitJob(ctx, "actor-1", "org-1", nil, noFindings)
	require.NoError(t, err)

	_, err = fx.service.SubmitJob(ctx, "actor-1", "org-1", nil, noFindings)
	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 1, exceeded.Limit)

	// Budgets are per actor.
	_, err = fx.service.SubmitJob(ctx, "actor-2", "org-1", nil, noFindings)
	assert.NoError(t, err)

	fx.service.Wait()
}

func TestSubmitJob_RejectsNilAnalyze(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	_, err := fx.service.SubmitJob(context.Background(), "actor-1", "org-1", nil, nil)
	assert.Error(t, err)
}

func TestStartOptimization_HappyPath(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	job, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)
	job.Status = domain.JobStatusCompleted
	fx.jobs.Seed(job)

	err = fx.service.StartOptimization(context.Background(), job.ID, "actor-1", testUnits(3), noFindings)
	require.NoError(t, err)

	fx.service.Wait()

	snap := fx.jobs.Snapshot(job.ID)
	assert.True(t, snap.OptimizationCompleted)
	// Primary status is untouched by the optimization phase.
	assert.Equal(t, domain.JobStatusCompleted, snap.Status)

	emitted := fx.emitter.All()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.EventReviewOptimizationCompleted, emitted[0].Type)
}

func TestStartOptimization_UnknownJob(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	job, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)

	err = fx.service.StartOptimization(context.Background(), job.ID, "actor-1", nil, noFindings)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NotErrorIs(t, err, ErrPreconditionFailed)
}

func TestStartOptimization_Preconditions(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	pending, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)
	fx.jobs.Seed(pending)

	err = fx.service.StartOptimization(context.Background(), pending.ID, "actor-1", nil, noFindings)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	done, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)
	done.Status = domain.JobStatusCompleted
	done.OptimizationCompleted = true
	fx.jobs.Seed(done)

	err = fx.service.StartOptimization(context.Background(), done.ID, "actor-1", nil, noFindings)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	// No run was started, so nothing was emitted.
	assert.Empty(t, fx.emitter.All())
}

func TestStartOptimization_RateLimited(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, Limits{SubmissionsPerWindow: 50, OptimizationsPerWindow: 1})

	first, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)
	first.Status = domain.JobStatusCompleted
	fx.jobs.Seed(first)

	second, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)
	second.Status = domain.JobStatusCompleted
	fx.jobs.Seed(second)

	ctx := context.Background()
	require.NoError(t, fx.service.StartOptimization(ctx, first.ID, "actor-1", nil, noFindings))

	err = fx.service.StartOptimization(ctx, second.ID, "actor-1", nil, noFindings)
	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 1, exceeded.Limit)

	fx.service.Wait()
}

func TestCancelJob_DuringRun(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	started := make(chan struct{})
	var startedOnce sync.Once
	analyze := func(ctx context.Context, unit domain.AnalysisUnit) ([]domain.Finding, error) {
		startedOnce.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}

	job, err := fx.service.SubmitJob(context.Background(), "actor-1", "org-1", testUnits(5), analyze)
	require.NoError(t, err)

	<-started

	cancelled, err := fx.service.CancelJob(context.Background(), job.ID, "reviewer-9", "superseded")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, "reviewer-9", cancelled.CancelledBy)

	fx.service.Wait()

	// Cancelled runs emit no events.
	assert.Empty(t, fx.emitter.All())
	assert.Equal(t, domain.JobStatusCancelled, fx.jobs.Snapshot(job.ID).Status)
}

func TestCancelJob_AlreadyCompleted(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	job, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)
	job.Status = domain.JobStatusCompleted
	fx.jobs.Seed(job)

	_, err = fx.service.CancelJob(context.Background(), job.ID, "reviewer-9", "too late")
	assert.ErrorIs(t, err, task.ErrAlreadyCompleted)
	assert.ErrorIs(t, err, task.ErrNotCancellable)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, defaultLimits())

	job, err := domain.NewJob("actor-1", "org-1")
	require.NoError(t, err)
	fx.jobs.Seed(job)

	got, err := fx.service.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	missing, err := domain.NewJob("actor-2", "org-1")
	require.NoError(t, err)

	_, err = fx.service.GetJob(context.Background(), missing.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
