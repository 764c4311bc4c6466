package errors

import "errors"

// Record errors. Returned by the record store and surfaced to API clients.
var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("record already exists")
	ErrInvalidRecord = errors.New("invalid record")
)

// Store/sync errors.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSchemaMismatch   = errors.New("sheet header does not match schema")
	ErrPassInFlight     = errors.New("reconciliation pass already in flight")
)
