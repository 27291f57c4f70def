package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
)

// JobStore defines the persistence contract for analysis jobs.
//
// All counter and status mutations are single-statement atomic updates.
// Multiple process instances may share the same database, so read-modify-write
// cycles on progress or status fields are not permitted; the conditional
// updates below return ErrNoRowsAffected when their WHERE clause matched
// nothing, which callers use to detect lost races.
type JobStore interface {
	// Create saves a new job to the store.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// InitProgress records the total unit count for a job at the start of a
	// run and resets the completed counter and current unit label.
	InitProgress(ctx context.Context, id uuid.UUID, totalUnits int) error

	// IncrementProgress atomically increments the completed-unit counter by
	// one and sets the current unit label in a single update statement.
	IncrementProgress(ctx context.Context, id uuid.UUID, currentUnit string) error

	// SetCurrentUnit updates only the current unit label, leaving the
	// completed counter untouched.
	SetCurrentUnit(ctx context.Context, id uuid.UUID, currentUnit string) error

	// MarkStarted transitions a pending job to in_progress and stamps
	// started_at. Returns ErrNoRowsAffected if the job was not pending.
	MarkStarted(ctx context.Context, id uuid.UUID) error

	// MarkCompleted transitions an in_progress job to completed and stamps
	// completed_at. Returns ErrNoRowsAffected if the job was not in progress.
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkFailed transitions a pending or in_progress job to failed with the
	// given error message. Returns ErrNoRowsAffected if the job was already
	// terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	// MarkOptimizationCompleted flags the job's secondary analysis phase as
	// done. Returns ErrNoRowsAffected if it was already flagged.
	MarkOptimizationCompleted(ctx context.Context, id uuid.UUID) error

	// CancelJob performs the single conditional cancel transition:
	// status = cancelled, cancelled_at = now, cancelled_by and reason set,
	// guarded by WHERE status IN (pending, in_progress). Returns
	// ErrNoRowsAffected if the job was already terminal, in which case the
	// caller re-fetches the job to report the actual terminal state.
	CancelJob(ctx context.Context, id uuid.UUID, cancelledBy, reason string) error

	// WithTx returns a new JobStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) JobStore
}
