// Package postgres contains PostgreSQL implementations of the store
// interfaces defined in internal/store. Every status transition is issued
// as a single conditional UPDATE so concurrent writers never lose updates
// to each other.
package postgres
