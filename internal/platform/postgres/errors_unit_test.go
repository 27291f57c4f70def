package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/critichq/critic-api/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{
			name:    "nil_error",
			err:     nil,
			wantErr: nil,
		},
		{
			name:    "no_rows_maps_to_not_found",
			err:     sql.ErrNoRows,
			wantErr: store.ErrNotFound,
		},
		{
			name:    "unique_violation_maps_to_duplicate",
			err:     &pgconn.PgError{Code: uniqueViolationCode},
			wantErr: store.ErrDuplicate,
		},
		{
			name:    "foreign_key_violation_maps_to_invalid_entity",
			err:     &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "fk_endpoint"},
			wantErr: store.ErrInvalidEntity,
		},
		{
			name:    "check_violation_maps_to_invalid_entity",
			err:     &pgconn.PgError{Code: checkViolationCode, ConstraintName: "chk_status"},
			wantErr: store.ErrInvalidEntity,
		},
		{
			name:    "not_null_violation_maps_to_invalid_entity",
			err:     &pgconn.PgError{Code: notNullViolationCode, ColumnName: "org_key"},
			wantErr: store.ErrInvalidEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			if tt.wantErr == nil {
				assert.NoError(t, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tt.wantErr)
		})
	}
}

func TestMapError_PassesThroughUnknownErrors(t *testing.T) {
	original := errors.New("connection reset")
	assert.Equal(t, original, MapError(original))

	// Unknown postgres codes pass through as well.
	pgErr := &pgconn.PgError{Code: "57014"}
	assert.Equal(t, error(pgErr), MapError(pgErr))
}

func TestMapError_PreservesWrappedOriginal(t *testing.T) {
	wrapped := fmt.Errorf("query failed: %w", sql.ErrNoRows)
	mapped := MapError(wrapped)
	assert.ErrorIs(t, mapped, store.ErrNotFound)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
	assert.True(t, IsUniqueViolation(
		fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolationCode})))
}

func TestIsForeignKeyViolation(t *testing.T) {
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	assert.False(t, IsForeignKeyViolation(&pgconn.PgError{Code: uniqueViolationCode}))
}

// fakeResult implements sql.Result for CheckRowsAffected tests.
type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestCheckRowsAffected(t *testing.T) {
	assert.NoError(t, CheckRowsAffected(fakeResult{rows: 1}, "job"))

	err := CheckRowsAffected(fakeResult{rows: 0}, "job")
	assert.ErrorIs(t, err, store.ErrNoRowsAffected)

	err = CheckRowsAffected(fakeResult{err: errors.New("driver does not support")}, "job")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNoRowsAffected)

	assert.Error(t, CheckRowsAffected(nil, "job"))
}
