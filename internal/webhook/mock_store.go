package webhook

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/store"
)

// MockEndpointStore is an in-memory store.WebhookEndpointStore for tests in
// this package. Counter updates hold the store mutex for the whole update,
// mirroring the single-statement atomicity of the real implementation, and
// every method fails on an expired context the way database/sql would.
type MockEndpointStore struct {
	mu        sync.Mutex
	endpoints map[uuid.UUID]*domain.WebhookEndpoint

	CreateFn func(ctx context.Context, endpoint *domain.WebhookEndpoint) error
}

// NewMockEndpointStore creates an empty MockEndpointStore.
func NewMockEndpointStore() *MockEndpointStore {
	return &MockEndpointStore{
		endpoints: make(map[uuid.UUID]*domain.WebhookEndpoint),
	}
}

// Seed inserts a copy of the endpoint directly into the store.
func (m *MockEndpointStore) Seed(endpoint *domain.WebhookEndpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *endpoint
	m.endpoints[endpoint.ID] = &copied
}

// Snapshot returns a copy of the stored endpoint, or nil if absent.
func (m *MockEndpointStore) Snapshot(id uuid.UUID) *domain.WebhookEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoint, ok := m.endpoints[id]
	if !ok {
		return nil
	}
	copied := *endpoint
	return &copied
}

func (m *MockEndpointStore) Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.CreateFn != nil {
		return m.CreateFn(ctx, endpoint)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.endpoints {
		if existing.OrgKey == endpoint.OrgKey && existing.URL == endpoint.URL {
			return store.ErrEndpointExists
		}
	}
	copied := *endpoint
	m.endpoints[endpoint.ID] = &copied
	return nil
}

func (m *MockEndpointStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	endpoint := m.Snapshot(id)
	if endpoint == nil {
		return nil, store.ErrEndpointNotFound
	}
	return endpoint, nil
}

func (m *MockEndpointStore) Update(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[endpoint.ID]; !ok {
		return store.ErrEndpointNotFound
	}
	copied := *endpoint
	m.endpoints[endpoint.ID] = &copied
	return nil
}

func (m *MockEndpointStore) ListForEvent(ctx context.Context, orgKey, eventType string) ([]*domain.WebhookEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*domain.WebhookEndpoint
	for _, endpoint := range m.endpoints {
		if endpoint.Enabled && endpoint.OrgKey == orgKey && endpoint.SubscribedTo(eventType) {
			copied := *endpoint
			matches = append(matches, &copied)
		}
	}
	return matches, nil
}

func (m *MockEndpointStore) RecordSuccess(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoint, ok := m.endpoints[id]
	if !ok {
		return store.ErrEndpointNotFound
	}
	now := time.Now().UTC()
	endpoint.FailureCount = 0
	endpoint.RetryCount = 0
	endpoint.RetryAt = nil
	endpoint.DisabledAt = nil
	endpoint.LastDeliveryAt = &now
	return nil
}

func (m *MockEndpointStore) RecordFailure(ctx context.Context, id uuid.UUID) (store.EndpointCounters, error) {
	if err := ctx.Err(); err != nil {
		return store.EndpointCounters{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoint, ok := m.endpoints[id]
	if !ok {
		return store.EndpointCounters{}, store.ErrEndpointNotFound
	}
	endpoint.FailureCount++
	return store.EndpointCounters{
		FailureCount: endpoint.FailureCount,
		RetryCount:   endpoint.RetryCount,
	}, nil
}

func (m *MockEndpointStore) Disable(ctx context.Context, id uuid.UUID, retryAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	endpoint, ok := m.endpoints[id]
	if !ok {
		return store.ErrEndpointNotFound
	}
	now := time.Now().UTC()
	endpoint.Enabled = false
	endpoint.DisabledAt = &now
	endpoint.RetryAt = retryAt
	return nil
}

func (m *MockEndpointStore) ReEnableDue(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, endpoint := range m.endpoints {
		if !endpoint.Enabled && endpoint.RetryAt != nil && !endpoint.RetryAt.After(now) {
			endpoint.Enabled = true
			endpoint.RetryCount++
			endpoint.RetryAt = nil
			endpoint.DisabledAt = nil
			count++
		}
	}
	return count, nil
}

func (m *MockEndpointStore) WithTx(tx *sql.Tx) store.WebhookEndpointStore {
	return m
}

// MockDeliveryStore is an in-memory store.DeliveryStore for tests.
type MockDeliveryStore struct {
	mu       sync.Mutex
	attempts []*domain.DeliveryAttempt

	CreateFn func(ctx context.Context, attempt *domain.DeliveryAttempt) error
}

// NewMockDeliveryStore creates an empty MockDeliveryStore.
func NewMockDeliveryStore() *MockDeliveryStore {
	return &MockDeliveryStore{}
}

func (m *MockDeliveryStore) Create(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.CreateFn != nil {
		return m.CreateFn(ctx, attempt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *attempt
	m.attempts = append(m.attempts, &copied)
	return nil
}

func (m *MockDeliveryStore) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*domain.DeliveryAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*domain.DeliveryAttempt
	for i := len(m.attempts) - 1; i >= 0 && (limit <= 0 || len(matches) < limit); i-- {
		if m.attempts[i].EndpointID == endpointID {
			copied := *m.attempts[i]
			matches = append(matches, &copied)
		}
	}
	return matches, nil
}

// All returns a copy of every recorded attempt, oldest first.
func (m *MockDeliveryStore) All() []*domain.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.DeliveryAttempt, 0, len(m.attempts))
	for _, attempt := range m.attempts {
		copied := *attempt
		out = append(out, &copied)
	}
	return out
}

func (m *MockDeliveryStore) WithTx(tx *sql.Tx) store.DeliveryStore {
	return m
}

// Ensure the mocks implement the store interfaces
var (
	_ store.WebhookEndpointStore = (*MockEndpointStore)(nil)
	_ store.DeliveryStore        = (*MockDeliveryStore)(nil)
)
