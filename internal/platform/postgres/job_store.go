package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/store"
)

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
//
// Progress counters and status transitions are single conditional UPDATE
// statements. The database serializes them, so concurrent workers, cancel
// requests and sweepers never lose updates to each other.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// Create implements store.JobStore.Create
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO jobs (id, actor_key, org_key, status, total_units,
			completed_units, current_unit, optimization_completed,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.ActorKey,
		job.OrgKey,
		job.Status,
		job.TotalUnits,
		job.CompletedUnits,
		job.CurrentUnit,
		job.OptimizationCompleted,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("failed to create job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create job: %w", MapError(err))
	}

	return nil
}

// GetByID implements store.JobStore.GetByID
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT id, actor_key, org_key, status, total_units, completed_units,
			current_unit, optimization_completed, error_message,
			cancelled_by, cancel_reason, started_at, completed_at,
			cancelled_at, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	var (
		job          domain.Job
		errorMessage sql.NullString
		cancelledBy  sql.NullString
		cancelReason sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		cancelledAt  sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.ActorKey,
		&job.OrgKey,
		&job.Status,
		&job.TotalUnits,
		&job.CompletedUnits,
		&job.CurrentUnit,
		&job.OptimizationCompleted,
		&errorMessage,
		&cancelledBy,
		&cancelReason,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}

	job.ErrorMessage = errorMessage.String
	job.CancelledBy = cancelledBy.String
	job.CancelReason = cancelReason.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		job.CancelledAt = &cancelledAt.Time
	}

	return &job, nil
}

// InitProgress implements store.JobStore.InitProgress
func (s *PostgresJobStore) InitProgress(ctx context.Context, id uuid.UUID, totalUnits int) error {
	query := `
		UPDATE jobs
		SET total_units = $1, completed_units = 0, current_unit = '',
			updated_at = now()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, totalUnits, id)
	if err != nil {
		return fmt.Errorf("failed to init job progress: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// IncrementProgress implements store.JobStore.IncrementProgress
// The increment happens inside the UPDATE itself; the caller never supplies
// a counter value, so concurrent increments cannot overwrite each other.
func (s *PostgresJobStore) IncrementProgress(ctx context.Context, id uuid.UUID, currentUnit string) error {
	query := `
		UPDATE jobs
		SET completed_units = completed_units + 1, current_unit = $1,
			updated_at = now()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, currentUnit, id)
	if err != nil {
		return fmt.Errorf("failed to increment job progress: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// SetCurrentUnit implements store.JobStore.SetCurrentUnit
func (s *PostgresJobStore) SetCurrentUnit(ctx context.Context, id uuid.UUID, currentUnit string) error {
	query := `
		UPDATE jobs
		SET current_unit = $1, updated_at = now()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, currentUnit, id)
	if err != nil {
		return fmt.Errorf("failed to set current unit: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// MarkStarted implements store.JobStore.MarkStarted
func (s *PostgresJobStore) MarkStarted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, started_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusInProgress, id, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job started: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// MarkCompleted implements store.JobStore.MarkCompleted
func (s *PostgresJobStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCompleted, id, domain.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// MarkFailed implements store.JobStore.MarkFailed
func (s *PostgresJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1, error_message = $2, completed_at = now(),
			updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, errorMessage, id,
		domain.JobStatusPending, domain.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// MarkOptimizationCompleted implements store.JobStore.MarkOptimizationCompleted
// The WHERE clause guards against flagging twice, so the first caller wins
// when two optimization runs race.
func (s *PostgresJobStore) MarkOptimizationCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET optimization_completed = TRUE, updated_at = now()
		WHERE id = $1 AND optimization_completed = FALSE
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark optimization completed: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// CancelJob implements store.JobStore.CancelJob
// Returns store.ErrNoRowsAffected when the job was already terminal; the
// caller re-fetches the job to report which terminal state won the race.
func (s *PostgresJobStore) CancelJob(ctx context.Context, id uuid.UUID, cancelledBy, reason string) error {
	query := `
		UPDATE jobs
		SET status = $1, cancelled_by = $2, cancel_reason = $3,
			cancelled_at = now(), updated_at = now()
		WHERE id = $4 AND status IN ($5, $6)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCancelled, cancelledBy, reason, id,
		domain.JobStatusPending, domain.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", MapError(err))
	}

	return CheckRowsAffected(result, "job")
}

// WithTx implements store.JobStore.WithTx
// It returns a new JobStore instance that uses the provided transaction.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}
