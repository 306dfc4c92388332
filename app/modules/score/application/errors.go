package scoreservice

import "errors"

// Domain errors for the score service.
var (
	// ErrUnknownStrategy indicates a program names a scoring strategy that is not registered.
	ErrUnknownStrategy = errors.New("unknown scoring strategy")

	// ErrMissingInput indicates the strategy was called without the inputs it needs.
	ErrMissingInput = errors.New("missing scoring input")

	// ErrScoreNotFound indicates no score exists for the generation yet.
	ErrScoreNotFound = errors.New("score not found")
)
