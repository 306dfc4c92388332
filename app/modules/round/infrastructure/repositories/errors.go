package rounddb

import "errors"

// Sentinel errors for the repository layer.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoRowsAffected indicates a conditional UPDATE matched nothing, usually
	// because the guarded field was already written.
	ErrNoRowsAffected = errors.New("no rows affected")
)
