package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an analysis job
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Common validation errors for Job
var (
	ErrEmptyJobID       = errors.New("job ID cannot be empty")
	ErrEmptyJobActorKey = errors.New("job actor key cannot be empty")
	ErrEmptyJobOrgKey   = errors.New("job org key cannot be empty")
	ErrInvalidJobStatus = errors.New("invalid job status")
	ErrNegativeUnits    = errors.New("unit counts cannot be negative")
)

// Job represents one run of parallel analysis work over a set of units.
// Progress counters are only ever mutated through atomic store updates;
// a Job value held in memory is a snapshot, never a write target.
type Job struct {
	ID                    uuid.UUID  `json:"id"`
	ActorKey              string     `json:"actor_key"`
	OrgKey                string     `json:"org_key"`
	Status                JobStatus  `json:"status"`
	TotalUnits            int        `json:"total_units"`
	CompletedUnits        int        `json:"completed_units"`
	CurrentUnit           string     `json:"current_unit"`
	OptimizationCompleted bool       `json:"optimization_completed"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	CancelledBy           string     `json:"cancelled_by,omitempty"`
	CancelReason          string     `json:"cancel_reason,omitempty"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// NewJob creates a new Job in pending state for the given actor and org.
// It generates a new UUID for the job ID and sets the creation timestamps.
// Returns an error if validation fails.
func NewJob(actorKey, orgKey string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		ActorKey:  actorKey,
		OrgKey:    orgKey,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
// Returns an error if any field fails validation.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.ActorKey == "" {
		return ErrEmptyJobActorKey
	}

	if j.OrgKey == "" {
		return ErrEmptyJobOrgKey
	}

	if j.TotalUnits < 0 || j.CompletedUnits < 0 {
		return ErrNegativeUnits
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	return nil
}

// IsTerminal reports whether the job has reached a state from which
// no further transitions are allowed.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidJobStatus checks if the provided status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusPending,
		JobStatusInProgress,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled:
		return true
	default:
		return false
	}
}
