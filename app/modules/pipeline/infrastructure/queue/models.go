package pipelinequeue

import (
	"github.com/riverqueue/river/rivertype"
)

// SubtaskKind is the River job kind for pipeline subtasks.
const SubtaskKind = "pipeline_subtask"

// QueueName is the dedicated River queue the workers consume.
const QueueName = "pipeline"

// SubtaskArgs runs one subtask for one generation.
type SubtaskArgs struct {
	GenerationID int64  `json:"generation_id"`
	Subtask      string `json:"subtask"`
}

// Kind returns the job type identifier for River
func (SubtaskArgs) Kind() string { return SubtaskKind }

// uniqueStates keeps a subtask from being queued twice while a copy is still
// waiting or running. Finished jobs do not block a resubmission.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// JobInfo is one River job of a generation as reported by the polling endpoint.
type JobInfo struct {
	ID           int64  `json:"id"`
	GenerationID int64  `json:"generation_id"`
	Subtask      string `json:"subtask"`
	State        string `json:"state"`
	CreatedAt    string `json:"created_at"`
	Attempt      int    `json:"attempt"`
	MaxAttempts  int    `json:"max_attempts"`
}
