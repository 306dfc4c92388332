package pipelinedomain

import "errors"

// Job is one subtask to run for one generation.
type Job struct {
	GenerationID int64
	Subtask      Subtask
}

// Handle identifies a submitted job in the queue.
type Handle string

// JobStatus is the queue-side state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Finished reports whether the job will not run again on its own.
func (s JobStatus) Finished() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// PipelineStatus is the coarse state reported to pollers.
type PipelineStatus string

const (
	StatusPending  PipelineStatus = "PENDING"
	StatusFinished PipelineStatus = "FINISHED"
)

// ErrUnrunnable marks a job that can never succeed, such as one whose
// generation no longer exists. Queues drop such jobs instead of retrying.
var ErrUnrunnable = errors.New("job cannot run")
