package pipelineservice

import (
	"context"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
)

// JobQueue is the generic queue the orchestrator dispatches to.
type JobQueue interface {
	Submit(ctx context.Context, job pipelinedomain.Job) (pipelinedomain.Handle, error)
	Poll(ctx context.Context, handle pipelinedomain.Handle) (pipelinedomain.JobStatus, error)
	Cancel(ctx context.Context, handle pipelinedomain.Handle) error
}

// Service is the Task Orchestrator together with the Factor Tracker it writes through.
type Service interface {
	// Dispatch submits the first stage of the generation's plan that still has
	// missing factors. Calling it again is safe.
	Dispatch(ctx context.Context, generationID int64) (DispatchResult, error)

	// Resubmit submits only the named subtasks whose factors are missing and
	// whose earlier stages are complete.
	Resubmit(ctx context.Context, generationID int64, subtasks ...pipelinedomain.Subtask) (DispatchResult, error)

	// PollStatus never blocks. While the pipeline is pending it also removes
	// task records whose job has succeeded.
	PollStatus(ctx context.Context, generationID int64) (PollResult, error)

	IsDone(ctx context.Context, generationID int64) (bool, error)
	MarkDone(ctx context.Context, generationID int64, factor pipelinedomain.Factor, payload Payload) (bool, error)

	// RunSubtask is the worker entrypoint. A failed subtask leaves its factor
	// unset and never touches the others. Transient analysis failures come back
	// wrapped in ErrSubtaskFailed so the queue can retry them; rejections by the
	// provider are logged and return nil.
	RunSubtask(ctx context.Context, job pipelinedomain.Job) (Outcome, error)

	// ExpireTasks cancels and forgets task records older than maxAge.
	ExpireTasks(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

// Payload carries the output of one factor. Only the field matching the
// factor being written is read.
type Payload struct {
	Words      analysis.WordStats
	Grammar    analysis.GrammarReport
	Fluency    float64
	Content    float64
	ImageKey   string
	Score      *scoreservice.Breakdown
	Similarity float64
}

// Outcome reports what a subtask run did. Payload holds the stored value
// whether it was computed now or found already present.
type Outcome struct {
	Subtask pipelinedomain.Subtask
	Result  string
	Payload Payload
}

// Subtask run results.
const (
	ResultStored  = "stored"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultBlocked = "blocked"
	ResultNotPlan = "not_in_plan"
)

type DispatchResult struct {
	Plan     string
	Stage    string
	Subtasks []pipelinedomain.Subtask
	Handles  []pipelinedomain.Handle
	Finished bool
}

type TaskStatus struct {
	ID      string                   `json:"id"`
	Subtask string                   `json:"subtask"`
	Status  pipelinedomain.JobStatus `json:"status"`
}

type PollResult struct {
	GenerationID int64                         `json:"generation_id"`
	Status       pipelinedomain.PipelineStatus `json:"status"`
	Tasks        []TaskStatus                  `json:"tasks"`
}
