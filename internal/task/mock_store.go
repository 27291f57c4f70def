package task

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/store"
)

// MockJobStore is an in-memory store.JobStore used by tests in this package.
// Counter updates take the store mutex for the whole update, mirroring the
// single-statement atomicity of the real implementation. Individual methods
// can be overridden via the *Fn fields.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	CreateFn            func(ctx context.Context, job *domain.Job) error
	GetByIDFn           func(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	InitProgressFn      func(ctx context.Context, id uuid.UUID, totalUnits int) error
	IncrementProgressFn func(ctx context.Context, id uuid.UUID, currentUnit string) error
	SetCurrentUnitFn    func(ctx context.Context, id uuid.UUID, currentUnit string) error
	MarkStartedFn       func(ctx context.Context, id uuid.UUID) error
	CancelJobFn         func(ctx context.Context, id uuid.UUID, cancelledBy, reason string) error
}

// NewMockJobStore creates an empty MockJobStore.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs: make(map[uuid.UUID]*domain.Job),
	}
}

// Seed inserts a copy of the job directly into the store.
func (m *MockJobStore) Seed(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
}

// Snapshot returns a copy of the stored job, or nil if absent.
func (m *MockJobStore) Snapshot(id uuid.UUID) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

func (m *MockJobStore) Create(ctx context.Context, job *domain.Job) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, job)
	}
	m.Seed(job)
	return nil
}

func (m *MockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	job := m.Snapshot(id)
	if job == nil {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

func (m *MockJobStore) InitProgress(ctx context.Context, id uuid.UUID, totalUnits int) error {
	if m.InitProgressFn != nil {
		return m.InitProgressFn(ctx, id, totalUnits)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.TotalUnits = totalUnits
	job.CompletedUnits = 0
	job.CurrentUnit = ""
	return nil
}

func (m *MockJobStore) IncrementProgress(ctx context.Context, id uuid.UUID, currentUnit string) error {
	if m.IncrementProgressFn != nil {
		return m.IncrementProgressFn(ctx, id, currentUnit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.CompletedUnits++
	job.CurrentUnit = currentUnit
	return nil
}

func (m *MockJobStore) SetCurrentUnit(ctx context.Context, id uuid.UUID, currentUnit string) error {
	if m.SetCurrentUnitFn != nil {
		return m.SetCurrentUnitFn(ctx, id, currentUnit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.CurrentUnit = currentUnit
	return nil
}

func (m *MockJobStore) MarkStarted(ctx context.Context, id uuid.UUID) error {
	if m.MarkStartedFn != nil {
		return m.MarkStartedFn(ctx, id)
	}
	return m.transition(id, domain.JobStatusInProgress, domain.JobStatusPending)
}

func (m *MockJobStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, domain.JobStatusCompleted, domain.JobStatusInProgress)
}

func (m *MockJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.IsTerminal() {
		return store.ErrNoRowsAffected
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errorMessage
	return nil
}

func (m *MockJobStore) MarkOptimizationCompleted(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.OptimizationCompleted {
		return store.ErrNoRowsAffected
	}
	job.OptimizationCompleted = true
	return nil
}

func (m *MockJobStore) CancelJob(ctx context.Context, id uuid.UUID, cancelledBy, reason string) error {
	if m.CancelJobFn != nil {
		return m.CancelJobFn(ctx, id, cancelledBy, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusInProgress {
		return store.ErrNoRowsAffected
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusCancelled
	job.CancelledBy = cancelledBy
	job.CancelReason = reason
	job.CancelledAt = &now
	return nil
}

func (m *MockJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return m
}

// transition applies a conditional status change, mirroring the
// "UPDATE ... WHERE status = ..." statements of the real store.
func (m *MockJobStore) transition(id uuid.UUID, to domain.JobStatus, from domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != from {
		return store.ErrNoRowsAffected
	}
	now := time.Now().UTC()
	job.Status = to
	switch to {
	case domain.JobStatusInProgress:
		job.StartedAt = &now
	case domain.JobStatusCompleted:
		job.CompletedAt = &now
	}
	return nil
}

// Ensure MockJobStore implements store.JobStore
var _ store.JobStore = (*MockJobStore)(nil)
