package roundservice

import "errors"

// Domain errors for the round service. Only these reach the client as hard
// failures; analysis problems are reported as statuses.
var (
	ErrProgramNotFound     = errors.New("program not found")
	ErrLeaderboardNotFound = errors.New("leaderboard not found")
	ErrRoundNotFound       = errors.New("round not found")
	ErrGenerationNotFound  = errors.New("generation not found")
	ErrUnknownAction       = errors.New("unknown action")
	ErrInvalidPayload      = errors.New("invalid action payload")
	ErrMissingProgram      = errors.New("program is required")

	// errAlreadyCompleted rolls back an evaluate transaction that lost the
	// race to complete its generation.
	errAlreadyCompleted = errors.New("generation already completed")
)
