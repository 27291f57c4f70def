package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/critichq/critic-api/internal/store"
)

// mockDBTX implements store.DBTX for constructor tests.
type mockDBTX struct{}

func (m *mockDBTX) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func (m *mockDBTX) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return nil, nil
}

func (m *mockDBTX) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}

func (m *mockDBTX) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func TestNewPostgresJobStore(t *testing.T) {
	s := NewPostgresJobStore(&mockDBTX{}, nil)
	assert.NotNil(t, s)
	assert.NotNil(t, s.db)
	assert.NotNil(t, s.logger)

	assert.Panics(t, func() {
		NewPostgresJobStore(nil, nil)
	})
}

func TestNewPostgresEndpointStore(t *testing.T) {
	s := NewPostgresEndpointStore(&mockDBTX{}, nil)
	assert.NotNil(t, s)
	assert.NotNil(t, s.db)

	assert.Panics(t, func() {
		NewPostgresEndpointStore(nil, nil)
	})
}

func TestNewPostgresDeliveryStore(t *testing.T) {
	s := NewPostgresDeliveryStore(&mockDBTX{}, nil)
	assert.NotNil(t, s)
	assert.NotNil(t, s.db)

	assert.Panics(t, func() {
		NewPostgresDeliveryStore(nil, nil)
	})
}

func TestStores_WithTx(t *testing.T) {
	// A zero-value Tx is enough to verify the stores rebind their DBTX;
	// transactional behavior itself is covered by integration tests.
	tx := &sql.Tx{}

	jobStore := NewPostgresJobStore(&mockDBTX{}, nil)
	bound := jobStore.WithTx(tx)
	assert.NotSame(t, store.JobStore(jobStore), bound)
	assert.Equal(t, store.DBTX(tx), bound.(*PostgresJobStore).db)

	endpointStore := NewPostgresEndpointStore(&mockDBTX{}, nil)
	assert.Equal(t, store.DBTX(tx), endpointStore.WithTx(tx).(*PostgresEndpointStore).db)

	deliveryStore := NewPostgresDeliveryStore(&mockDBTX{}, nil)
	assert.Equal(t, store.DBTX(tx), deliveryStore.WithTx(tx).(*PostgresDeliveryStore).db)
}
