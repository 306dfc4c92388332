package repairservice

import (
	"context"
	"time"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	repairdomain "github.com/Black-And-White-Club/avery/app/modules/repair/domain"
)

// Service runs the repair sweep.
type Service interface {
	// Sweep resubmits the missing stages of every stuck generation, then
	// expires stale task records. A failure on one generation never stops
	// the sweep.
	Sweep(ctx context.Context) (Report, error)
}

// Pipeline is the part of the task orchestrator the sweep drives.
type Pipeline interface {
	Dispatch(ctx context.Context, generationID int64) (pipelineservice.DispatchResult, error)
	Resubmit(ctx context.Context, generationID int64, subtasks ...pipelinedomain.Subtask) (pipelineservice.DispatchResult, error)
	ExpireTasks(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

// Options tunes the sweep.
type Options struct {
	// MinAge keeps the sweep away from generations whose pipeline may still
	// be running.
	MinAge     time.Duration
	BatchSize  int
	TaskMaxAge time.Duration
}

// CategoryReport counts what happened to one category.
type CategoryReport struct {
	Found       int `json:"found"`
	Resubmitted int `json:"resubmitted"`
	Failed      int `json:"failed"`
}

// Report summarises one sweep.
type Report struct {
	Categories   map[repairdomain.Category]CategoryReport `json:"categories"`
	ExpiredTasks int                                      `json:"expired_tasks"`
}

// Resubmitted totals resubmissions over every category.
func (r Report) Resubmitted() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Resubmitted
	}
	return n
}
