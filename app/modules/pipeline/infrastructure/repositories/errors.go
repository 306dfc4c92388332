package pipelinedb

import "errors"

var (
	// ErrNotFound indicates the generation or one of its parents is missing.
	ErrNotFound = errors.New("record not found")

	// ErrNoRowsAffected indicates a guarded factor write found its flag already set.
	ErrNoRowsAffected = errors.New("no rows affected")
)
