package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/store"
)

// PostgresEndpointStore implements the store.WebhookEndpointStore interface
// using a PostgreSQL database as the storage backend.
//
// Failure and retry counters are mutated only through single-statement
// updates so concurrent deliveries and sweep runs across process instances
// agree on the counts.
type PostgresEndpointStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresEndpointStore creates a new PostgreSQL implementation of the
// WebhookEndpointStore interface. If logger is nil, a default logger will
// be used.
func NewPostgresEndpointStore(db store.DBTX, logger *slog.Logger) *PostgresEndpointStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresEndpointStore{
		db:     db,
		logger: logger.With(slog.String("component", "endpoint_store")),
	}
}

// Ensure PostgresEndpointStore implements store.WebhookEndpointStore interface
var _ store.WebhookEndpointStore = (*PostgresEndpointStore)(nil)

// Create implements store.WebhookEndpointStore.Create
// Returns store.ErrEndpointExists when the org already registered the URL,
// relying on the unique index on (org_key, url).
func (s *PostgresEndpointStore) Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if err := endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	eventTypes, err := json.Marshal(endpoint.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to encode event types: %w", err)
	}

	query := `
		INSERT INTO webhook_endpoints (id, org_key, url, secret, event_types,
			enabled, failure_count, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.db.ExecContext(ctx, query,
		endpoint.ID,
		endpoint.OrgKey,
		endpoint.URL,
		endpoint.Secret,
		eventTypes,
		endpoint.Enabled,
		endpoint.FailureCount,
		endpoint.RetryCount,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrEndpointExists
		}
		s.logger.Error("failed to create webhook endpoint",
			slog.String("endpoint_id", endpoint.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create webhook endpoint: %w", MapError(err))
	}

	return nil
}

// GetByID implements store.WebhookEndpointStore.GetByID
// Returns store.ErrEndpointNotFound if the endpoint does not exist.
func (s *PostgresEndpointStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	query := selectEndpoint + ` WHERE id = $1`

	endpoint, err := scanEndpoint(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", MapError(err))
	}

	return endpoint, nil
}

// Update implements store.WebhookEndpointStore.Update
// Only the caller-editable fields change here; counters and the enabled
// flag have their own dedicated statements.
func (s *PostgresEndpointStore) Update(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	if err := endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	eventTypes, err := json.Marshal(endpoint.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to encode event types: %w", err)
	}

	query := `
		UPDATE webhook_endpoints
		SET url = $1, secret = $2, event_types = $3, updated_at = now()
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		endpoint.URL, endpoint.Secret, eventTypes, endpoint.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook endpoint: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for webhook endpoint: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrEndpointNotFound
	}

	return nil
}

// ListForEvent implements store.WebhookEndpointStore.ListForEvent
func (s *PostgresEndpointStore) ListForEvent(ctx context.Context, orgKey, eventType string) ([]*domain.WebhookEndpoint, error) {
	query := selectEndpoint + `
		WHERE org_key = $1 AND enabled = TRUE AND event_types @> $2
		ORDER BY created_at
	`

	needle, err := json.Marshal([]string{eventType})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event type filter: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, orgKey, needle)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var endpoints []*domain.WebhookEndpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint: %w", MapError(err))
		}
		endpoints = append(endpoints, endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook endpoints: %w", MapError(err))
	}

	return endpoints, nil
}

// RecordSuccess implements store.WebhookEndpointStore.RecordSuccess
func (s *PostgresEndpointStore) RecordSuccess(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE webhook_endpoints
		SET failure_count = 0, retry_count = 0, retry_at = NULL,
			disabled_at = NULL, last_delivery_at = now(), updated_at = now()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to record delivery success: %w", MapError(err))
	}

	return CheckRowsAffected(result, "webhook endpoint")
}

// RecordFailure implements store.WebhookEndpointStore.RecordFailure
// The RETURNING clause reads the counters from the same statement that
// incremented them, so the caller's disable decision uses exact values.
func (s *PostgresEndpointStore) RecordFailure(ctx context.Context, id uuid.UUID) (store.EndpointCounters, error) {
	query := `
		UPDATE webhook_endpoints
		SET failure_count = failure_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING failure_count, retry_count
	`

	var counters store.EndpointCounters
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&counters.FailureCount, &counters.RetryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.EndpointCounters{}, store.ErrEndpointNotFound
		}
		return store.EndpointCounters{}, fmt.Errorf("failed to record delivery failure: %w", MapError(err))
	}

	return counters, nil
}

// Disable implements store.WebhookEndpointStore.Disable
func (s *PostgresEndpointStore) Disable(ctx context.Context, id uuid.UUID, retryAt *time.Time) error {
	query := `
		UPDATE webhook_endpoints
		SET enabled = FALSE, retry_at = $1, disabled_at = now(),
			updated_at = now()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, retryAt, id)
	if err != nil {
		return fmt.Errorf("failed to disable webhook endpoint: %w", MapError(err))
	}

	return CheckRowsAffected(result, "webhook endpoint")
}

// ReEnableDue implements store.WebhookEndpointStore.ReEnableDue
// One statement flips enabled and advances retry_count together, so
// overlapping sweeps from multiple instances each claim disjoint rows.
func (s *PostgresEndpointStore) ReEnableDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE webhook_endpoints
		SET enabled = TRUE, retry_count = retry_count + 1, retry_at = NULL,
			disabled_at = NULL, updated_at = now()
		WHERE enabled = FALSE AND retry_at IS NOT NULL AND retry_at <= $1
	`

	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to re-enable webhook endpoints: %w", MapError(err))
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for webhook endpoints: %w", err)
	}

	return count, nil
}

// WithTx implements store.WebhookEndpointStore.WithTx
// It returns a new WebhookEndpointStore instance that uses the provided transaction.
func (s *PostgresEndpointStore) WithTx(tx *sql.Tx) store.WebhookEndpointStore {
	return &PostgresEndpointStore{
		db:     tx,
		logger: s.logger,
	}
}

const selectEndpoint = `
	SELECT id, org_key, url, secret, event_types, enabled, failure_count,
		retry_count, retry_at, disabled_at, last_delivery_at,
		created_at, updated_at
	FROM webhook_endpoints`

// rowScanner abstracts *sql.Row and *sql.Rows for scanEndpoint.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*domain.WebhookEndpoint, error) {
	var (
		endpoint       domain.WebhookEndpoint
		eventTypes     []byte
		retryAt        sql.NullTime
		disabledAt     sql.NullTime
		lastDeliveryAt sql.NullTime
	)

	err := row.Scan(
		&endpoint.ID,
		&endpoint.OrgKey,
		&endpoint.URL,
		&endpoint.Secret,
		&eventTypes,
		&endpoint.Enabled,
		&endpoint.FailureCount,
		&endpoint.RetryCount,
		&retryAt,
		&disabledAt,
		&lastDeliveryAt,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(eventTypes, &endpoint.EventTypes); err != nil {
		return nil, fmt.Errorf("failed to decode event types: %w", err)
	}

	if retryAt.Valid {
		endpoint.RetryAt = &retryAt.Time
	}
	if disabledAt.Valid {
		endpoint.DisabledAt = &disabledAt.Time
	}
	if lastDeliveryAt.Valid {
		endpoint.LastDeliveryAt = &lastDeliveryAt.Time
	}

	return &endpoint, nil
}
