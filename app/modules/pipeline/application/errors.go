package pipelineservice

import "errors"

var (
	ErrGenerationNotFound = errors.New("generation not found")
	ErrNotCorrected       = errors.New("generation has no accepted correction")
	ErrDispatchFailed     = errors.New("failed to dispatch subtasks")
	ErrUnknownFactor      = errors.New("unknown factor")
	ErrMissingPayload     = errors.New("payload missing for factor")
	ErrSubtaskFailed      = errors.New("subtask failed")
)
