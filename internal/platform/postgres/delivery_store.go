package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/critichq/critic-api/internal/domain"
	"github.com/critichq/critic-api/internal/store"
)

// PostgresDeliveryStore implements the store.DeliveryStore interface
// using a PostgreSQL database as the storage backend. The delivery log is
// append-only; rows are never updated or deleted by application code.
type PostgresDeliveryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDeliveryStore creates a new PostgreSQL implementation of the
// DeliveryStore interface. If logger is nil, a default logger will be used.
func NewPostgresDeliveryStore(db store.DBTX, logger *slog.Logger) *PostgresDeliveryStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDeliveryStore{
		db:     db,
		logger: logger.With(slog.String("component", "delivery_store")),
	}
}

// Ensure PostgresDeliveryStore implements store.DeliveryStore interface
var _ store.DeliveryStore = (*PostgresDeliveryStore)(nil)

// Create implements store.DeliveryStore.Create
func (s *PostgresDeliveryStore) Create(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	query := `
		INSERT INTO webhook_deliveries (id, endpoint_id, event_type, payload,
			signature, http_status, success, duration_ms, error_message,
			created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.EndpointID,
		attempt.EventType,
		attempt.Payload,
		attempt.Signature,
		attempt.HTTPStatus,
		attempt.Success,
		attempt.DurationMs,
		attempt.ErrorMessage,
		attempt.CreatedAt,
	)
	if err != nil {
		s.logger.Error("failed to record delivery attempt",
			slog.String("endpoint_id", attempt.EndpointID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to record delivery attempt: %w", MapError(err))
	}

	return nil
}

// ListByEndpoint implements store.DeliveryStore.ListByEndpoint
func (s *PostgresDeliveryStore) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, limit int) ([]*domain.DeliveryAttempt, error) {
	query := `
		SELECT id, endpoint_id, event_type, payload, signature, http_status,
			success, duration_ms, error_message, created_at
		FROM webhook_deliveries
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, query, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var attempts []*domain.DeliveryAttempt
	for rows.Next() {
		var (
			attempt      domain.DeliveryAttempt
			httpStatus   sql.NullInt64
			errorMessage sql.NullString
		)

		err := rows.Scan(
			&attempt.ID,
			&attempt.EndpointID,
			&attempt.EventType,
			&attempt.Payload,
			&attempt.Signature,
			&httpStatus,
			&attempt.Success,
			&attempt.DurationMs,
			&errorMessage,
			&attempt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", MapError(err))
		}

		if httpStatus.Valid {
			status := int(httpStatus.Int64)
			attempt.HTTPStatus = &status
		}
		attempt.ErrorMessage = errorMessage.String

		attempts = append(attempts, &attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery attempts: %w", MapError(err))
	}

	return attempts, nil
}

// WithTx implements store.DeliveryStore.WithTx
// It returns a new DeliveryStore instance that uses the provided transaction.
func (s *PostgresDeliveryStore) WithTx(tx *sql.Tx) store.DeliveryStore {
	return &PostgresDeliveryStore{
		db:     tx,
		logger: s.logger,
	}
}
