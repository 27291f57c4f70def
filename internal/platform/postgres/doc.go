// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces (repositories) defined in the internal/store package.
// It handles the details of query execution and data mapping between domain
// entities and database records.
//
// Counter and status mutations are written as single-statement conditional
// updates so concurrent process instances cannot lose updates; the stores
// surface store.ErrNoRowsAffected when a conditional update matched nothing.
package postgres
