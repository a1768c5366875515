// Package store defines the persistence contracts of the application:
// the TaskStore interface, the DBTX database abstraction, the shared
// error taxonomy, and the transaction helper. Implementations live in
// internal/platform.
package store
