package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/events"
	"github.com/critichq/critic-api/internal/ratelimit"
	"github.com/critichq/critic-api/internal/store"
	"github.com/critichq/critic-api/internal/task"
)

// AnalysisService provides job-related operations: submission of the
// primary review phase, the follow-up optimization phase, cancellation and
// lookup. Runs execute asynchronously; submission returns once the job is
// persisted and the run is started.
type AnalysisService interface {
	// SubmitJob creates a job for the actor and starts the primary analysis
	// phase over the given units.
	SubmitJob(
		ctx context.Context,
		actorKey, orgKey string,
		units []domain.AnalysisUnit,
		analyze task.AnalyzeFunc,
	) (*domain.Job, error)

	// StartOptimization starts the secondary analysis phase for a job whose
	// primary phase completed. Returns ErrPreconditionFailed when the job is
	// not eligible and a *ratelimit.ExceededError when the actor's budget is
	// exhausted.
	StartOptimization(
		ctx context.Context,
		jobID uuid.UUID,
		actorKey string,
		units []domain.AnalysisUnit,
		analyze task.AnalyzeFunc,
	) error

	// CancelJob requests cancellation of a running or pending job.
	CancelJob(ctx context.Context, jobID uuid.UUID, requestedBy, reason string) (*domain.Job, error)

	// GetJob retrieves a job by its ID.
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)

	// Wait blocks until all in-flight runs have finished. Used during
	// graceful shutdown.
	Wait()
}

// Limits holds the per-actor rate ceilings enforced by the service, in
// requests per limiter window.
type Limits struct {
	SubmissionsPerWindow   int
	OptimizationsPerWindow int
}

// analysisServiceImpl implements the AnalysisService interface
type analysisServiceImpl struct {
	jobs     store.JobStore
	executor *task.ParallelExecutor
	registry *task.CancellationRegistry
	limiter  *ratelimit.Limiter
	emitter  events.EventEmitter
	limits   Limits
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewAnalysisService creates a new AnalysisService.
// If logger is nil, a default logger will be used.
func NewAnalysisService(
	jobs store.JobStore,
	executor *task.ParallelExecutor,
	registry *task.CancellationRegistry,
	limiter *ratelimit.Limiter,
	emitter events.EventEmitter,
	limits Limits,
	log *slog.Logger,
) AnalysisService {
	if jobs == nil {
		panic("jobs store cannot be nil")
	}
	if executor == nil {
		panic("executor cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}
	if limiter == nil {
		panic("limiter cannot be nil")
	}
	if emitter == nil {
		panic("emitter cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &analysisServiceImpl{
		jobs:     jobs,
		executor: executor,
		registry: registry,
		limiter:  limiter,
		emitter:  emitter,
		limits:   limits,
		logger:   log.With(slog.String("component", "analysis_service")),
	}
}

// SubmitJob implements AnalysisService.SubmitJob
func (s *analysisServiceImpl) SubmitJob(
	ctx context.Context,
	actorKey, orgKey string,
	units []domain.AnalysisUnit,
	analyze task.AnalyzeFunc,
) (*domain.Job, error) {
	if analyze == nil {
		return nil, NewAnalysisServiceError("submit_job", "invalid arguments",
			errors.New("analyze function cannot be nil"))
	}

	if !s.limiter.Allow("submit:"+actorKey, s.limits.SubmissionsPerWindow) {
		return nil, &ratelimit.ExceededError{
			Operation: "job submission",
			Limit:     s.limits.SubmissionsPerWindow,
		}
	}

	job, err := domain.NewJob(actorKey, orgKey)
	if err != nil {
		return nil, NewAnalysisServiceError("submit_job", "invalid job data", err)
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, NewAnalysisServiceError("submit_job", "failed to persist job", err)
	}

	s.logger.Info("job submitted",
		slog.String("job_id", job.ID.String()),
		slog.String("actor_key", actorKey),
		slog.Int("unit_count", len(units)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPrimary(job, units, analyze)
	}()

	return job, nil
}

// StartOptimization implements AnalysisService.StartOptimization
func (s *analysisServiceImpl) StartOptimization(
	ctx context.Context,
	jobID uuid.UUID,
	actorKey string,
	units []domain.AnalysisUnit,
	analyze task.AnalyzeFunc,
) error {
	if analyze == nil {
		return NewAnalysisServiceError("start_optimization", "invalid arguments",
			errors.New("analyze function cannot be nil"))
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return ErrJobNotFound
		}
		return NewAnalysisServiceError("start_optimization", "failed to fetch job", err)
	}

	if job.Status != domain.JobStatusCompleted {
		return fmt.Errorf("%w: job status is %q, not %q",
			ErrPreconditionFailed, job.Status, domain.JobStatusCompleted)
	}
	if job.OptimizationCompleted {
		return fmt.Errorf("%w: optimization already completed", ErrPreconditionFailed)
	}

	// The gate sits after the precondition checks so ineligible requests
	// never consume budget.
	if !s.limiter.Allow("optimize:"+actorKey, s.limits.OptimizationsPerWindow) {
		return &ratelimit.ExceededError{
			Operation: "optimization",
			Limit:     s.limits.OptimizationsPerWindow,
		}
	}

	s.logger.Info("optimization started",
		slog.String("job_id", jobID.String()),
		slog.String("actor_key", actorKey),
		slog.Int("unit_count", len(units)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOptimization(job, units, analyze)
	}()

	return nil
}

// CancelJob implements AnalysisService.CancelJob
func (s *analysisServiceImpl) CancelJob(ctx context.Context, jobID uuid.UUID, requestedBy, reason string) (*domain.Job, error) {
	return s.registry.Cancel(ctx, jobID, requestedBy, reason)
}

// GetJob implements AnalysisService.GetJob
func (s *analysisServiceImpl) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, NewAnalysisServiceError("get_job", "failed to fetch job", err)
	}
	return job, nil
}

// Wait blocks until all in-flight runs have finished. Used during graceful
// shutdown and by tests.
func (s *analysisServiceImpl) Wait() {
	s.wg.Wait()
}

// runPrimary executes the primary analysis phase. It owns the job's
// lifecycle from pending to a terminal state and emits the completion or
// failure event. Runs detached from the submitting request's context;
// cancellation arrives through the registered handle.
func (s *analysisServiceImpl) runPrimary(job *domain.Job, units []domain.AnalysisUnit, analyze task.AnalyzeFunc) {
	log := s.logger.With(slog.String("job_id", job.ID.String()))

	handle, runCtx := task.NewJobHandle(context.Background())
	s.registry.Register(job.ID, handle)
	defer func() {
		handle.MarkDone()
		s.registry.Unregister(job.ID)
	}()

	if err := s.jobs.MarkStarted(runCtx, job.ID); err != nil {
		if errors.Is(err, store.ErrNoRowsAffected) {
			// Cancelled before the run could start. Not an error, and no
			// event is owed.
			log.Info("job no longer pending, skipping run")
			return
		}
		log.Error("failed to mark job started", slog.String("error", err.Error()))
		s.failJob(job, "failed to start job: "+err.Error())
		return
	}

	findings, err := s.executor.Run(runCtx, job.ID, units, analyze)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The cancel request already performed the status transition;
			// cancelled jobs emit no event.
			log.Info("job run cancelled")
			return
		}
		log.Error("job run failed", slog.String("error", err.Error()))
		s.failJob(job, err.Error())
		return
	}

	if err := s.jobs.MarkCompleted(context.Background(), job.ID); err != nil {
		if errors.Is(err, store.ErrNoRowsAffected) {
			// A concurrent cancel won the conditional update.
			log.Info("job reached a terminal state before completion could be recorded")
			return
		}
		log.Error("failed to mark job completed", slog.String("error", err.Error()))
		return
	}

	log.Info("job completed", slog.Int("finding_count", len(findings)))
	s.emit(job, domain.EventReviewCompleted, map[string]any{
		"job_id":        job.ID.String(),
		"org_key":       job.OrgKey,
		"status":        string(domain.JobStatusCompleted),
		"total_units":   len(units),
		"finding_count": len(findings),
	})
}

// runOptimization executes the secondary phase over an already-completed
// job. The job's primary status is untouched; only the optimization flag
// advances, via a conditional update so concurrent runs cannot both claim
// completion.
func (s *analysisServiceImpl) runOptimization(job *domain.Job, units []domain.AnalysisUnit, analyze task.AnalyzeFunc) {
	log := s.logger.With(slog.String("job_id", job.ID.String()))

	handle, runCtx := task.NewJobHandle(context.Background())
	s.registry.Register(job.ID, handle)
	defer func() {
		handle.MarkDone()
		s.registry.Unregister(job.ID)
	}()

	findings, err := s.executor.Run(runCtx, job.ID, units, analyze)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("optimization run cancelled")
			return
		}
		// The primary result stands; an optimization failure does not
		// regress the job to failed. The flag stays unset so the phase can
		// be retried.
		log.Error("optimization run failed", slog.String("error", err.Error()))
		return
	}

	if err := s.jobs.MarkOptimizationCompleted(context.Background(), job.ID); err != nil {
		if errors.Is(err, store.ErrNoRowsAffected) {
			// A concurrent run already claimed completion; it owns the event.
			log.Info("optimization already marked completed")
			return
		}
		log.Error("failed to mark optimization completed", slog.String("error", err.Error()))
		return
	}

	log.Info("optimization completed", slog.Int("finding_count", len(findings)))
	s.emit(job, domain.EventReviewOptimizationCompleted, map[string]any{
		"job_id":        job.ID.String(),
		"org_key":       job.OrgKey,
		"status":        string(domain.JobStatusCompleted),
		"finding_count": len(findings),
	})
}

// failJob performs the conditional transition to failed and emits the
// failure event. A lost conditional update means another transition won,
// in which case no event is emitted.
func (s *analysisServiceImpl) failJob(job *domain.Job, message string) {
	ctx := context.Background()

	if err := s.jobs.MarkFailed(ctx, job.ID, message); err != nil {
		if !errors.Is(err, store.ErrNoRowsAffected) {
			s.logger.Error("failed to mark job failed",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	s.emit(job, domain.EventReviewFailed, map[string]any{
		"job_id":  job.ID.String(),
		"org_key": job.OrgKey,
		"status":  string(domain.JobStatusFailed),
		"error":   message,
	})
}

// emit publishes a job lifecycle event. Emission failures are logged, never
// propagated; event delivery is best-effort relative to the job outcome.
func (s *analysisServiceImpl) emit(job *domain.Job, eventType string, payload map[string]any) {
	event, err := events.NewJobEvent(eventType, job.OrgKey, payload)
	if err != nil {
		s.logger.Error("failed to build job event",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	if err := s.emitter.EmitEvent(context.Background(), event); err != nil {
		s.logger.Error("failed to emit job event",
			slog.String("job_id", job.ID.String()),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}
