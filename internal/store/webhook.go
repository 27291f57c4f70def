package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
)

// EndpointCounters carries the failure bookkeeping returned by
// WebhookEndpointStore.RecordFailure so the dispatcher can decide whether
// the endpoint crossed its disable threshold.
type EndpointCounters struct {
	FailureCount int
	RetryCount   int
}

// WebhookEndpointStore defines the persistence contract for webhook
// endpoints. Counter mutations are single-statement atomic updates for the
// same reason as JobStore: concurrent deliveries and sweep runs must not
// lose updates.
type WebhookEndpointStore interface {
	// Create saves a new endpoint to the store.
	// Returns ErrEndpointExists if the org already registered the URL.
	Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error

	// GetByID retrieves an endpoint by its unique ID.
	// Returns ErrEndpointNotFound if the endpoint does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error)

	// Update saves changes to URL, secret and subscribed event types.
	Update(ctx context.Context, endpoint *domain.WebhookEndpoint) error

	// ListForEvent returns the enabled endpoints of the org subscribed to
	// the given event type.
	ListForEvent(ctx context.Context, orgKey, eventType string) ([]*domain.WebhookEndpoint, error)

	// RecordSuccess atomically resets failure and retry counters, clears any
	// scheduled retry and stamps last_delivery_at.
	RecordSuccess(ctx context.Context, id uuid.UUID) error

	// RecordFailure atomically increments the consecutive-failure counter and
	// returns the updated counters in the same statement.
	RecordFailure(ctx context.Context, id uuid.UUID) (EndpointCounters, error)

	// Disable marks the endpoint disabled. A non-nil retryAt schedules an
	// automatic re-enable; nil means permanently disabled pending manual
	// action.
	Disable(ctx context.Context, id uuid.UUID, retryAt *time.Time) error

	// ReEnableDue atomically re-enables every endpoint whose scheduled retry
	// time has passed, incrementing retry_count in the same statement so
	// concurrent sweep runs cannot double-increment. Returns the number of
	// endpoints re-enabled.
	ReEnableDue(ctx context.Context, now time.Time) (int64, error)

	// WithTx returns a new WebhookEndpointStore instance that uses the
	// provided transaction.
	WithTx(tx *sql.Tx) WebhookEndpointStore
}

// DeliveryStore defines the persistence contract for the append-only
// webhook delivery log.
type DeliveryStore interface {
	// Create appends a delivery attempt record. Attempts are immutable;
	// there is deliberately no update operation.
	Create(ctx context.Context, attempt *domain.DeliveryAttempt) error

	// ListByEndpoint returns the most recent delivery attempts for an
	// endpoint, newest first.
	ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*domain.DeliveryAttempt, error)

	// WithTx returns a new DeliveryStore instance that uses the provided
	// transaction.
	WithTx(tx *sql.Tx) DeliveryStore
}
