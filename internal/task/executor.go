package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/platform/logger"
)

// AnalyzeFunc analyzes a single unit and returns its findings. The core
// treats it as an opaque, possibly-failing, possibly-slow operation.
type AnalyzeFunc func(ctx context.Context, unit domain.AnalysisUnit) ([]domain.Finding, error)

// ExecutorConfig holds configuration for the parallel executor.
type ExecutorConfig struct {
	// WorkerCount determines how many concurrent workers analyze units.
	// It is a small constant independent of the unit count.
	// If zero or negative, defaults to 3.
	WorkerCount int
}

// DefaultExecutorConfig returns an ExecutorConfig with reasonable defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		WorkerCount: 3,
	}
}

// ParallelExecutor runs a bounded pool of concurrent workers over a list of
// analysis units, reporting progress after each unit and producing a merged
// result list. A single unit's failure degrades to zero findings for that
// unit and never aborts sibling units or the job.
type ParallelExecutor struct {
	progress    *ProgressTracker
	workerCount int
	logger      *slog.Logger
}

// NewParallelExecutor creates a ParallelExecutor that reports to the given
// progress tracker. If logger is nil, a default logger will be used.
func NewParallelExecutor(progress *ProgressTracker, cfg ExecutorConfig, log *slog.Logger) *ParallelExecutor {
	if progress == nil {
		panic("progress tracker cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultExecutorConfig().WorkerCount
		log.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", cfg.WorkerCount),
			slog.Int("default_count", workerCount))
	}

	return &ParallelExecutor{
		progress:    progress,
		workerCount: workerCount,
		logger:      log.With(slog.String("component", "parallel_executor")),
	}
}

// Run executes analyze over every unit using the bounded worker pool and
// returns the merged findings. No result ordering is guaranteed.
//
// Each worker accumulates findings in its own private slice; the slices are
// merged only after every worker has finished, so the hot path needs no
// shared mutable accumulator. External cancellation propagates as a
// context.Canceled-wrapped error, not a generic failure.
func (e *ParallelExecutor) Run(ctx context.Context, jobID uuid.UUID, units []domain.AnalysisUnit, analyze AnalyzeFunc) ([]domain.Finding, error) {
	if analyze == nil {
		return nil, errors.New("analyze function cannot be nil")
	}

	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("job_id", jobID.String()))

	total := len(units)
	e.progress.Clear(jobID)
	e.progress.Report(ctx, jobID, "", 0, total)

	defer e.progress.Clear(jobID)

	if total == 0 {
		return nil, nil
	}

	unitCh := make(chan domain.AnalysisUnit)
	perWorker := make([][]domain.Finding, e.workerCount)

	// completed is read and advanced only under progressMu so a completion
	// report always carries the count it just produced; without this, a
	// reordered pair of reports could skip or double an increment.
	var (
		progressMu sync.Mutex
		completed  int
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(unitCh)
		for _, unit := range units {
			select {
			case unitCh <- unit:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < e.workerCount; i++ {
		workerID := i
		g.Go(func() error {
			for unit := range unitCh {
				if err := gctx.Err(); err != nil {
					return err
				}

				// Signal "now working on unit X" without touching the counter.
				progressMu.Lock()
				e.progress.Report(ctx, jobID, unit.Path, completed, total)
				progressMu.Unlock()

				findings, err := analyze(gctx, unit)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Warn("unit analysis failed, continuing with siblings",
						slog.String("unit", unit.Path),
						slog.Int("worker_id", workerID),
						slog.String("error", err.Error()))
					findings = nil
				}

				perWorker[workerID] = append(perWorker[workerID], findings...)

				// Completion is reported whether or not analyze succeeded.
				progressMu.Lock()
				completed++
				e.progress.Report(ctx, jobID, unit.Path, completed, total)
				progressMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			progressMu.Lock()
			done := completed
			progressMu.Unlock()
			log.Info("job run interrupted",
				slog.Int("completed_units", done),
				slog.Int("total_units", total))
			return nil, fmt.Errorf("job run interrupted: %w", err)
		}
		return nil, fmt.Errorf("job run failed: %w", err)
	}

	merged := make([]domain.Finding, 0)
	for _, findings := range perWorker {
		merged = append(merged, findings...)
	}

	log.Info("job run finished",
		slog.Int("total_units", total),
		slog.Int("findings", len(merged)))

	return merged, nil
}
