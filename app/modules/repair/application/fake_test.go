package repairservice

import (
	"context"
	"sync"
	"time"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	repairdomain "github.com/Black-And-White-Club/avery/app/modules/repair/domain"
	"github.com/uptrace/bun"
)

type FakeRepository struct {
	ListStuckFunc func(ctx context.Context, category repairdomain.Category, cutoff time.Time, limit int) ([]int64, error)
}

func (f *FakeRepository) ListStuck(ctx context.Context, _ bun.IDB, category repairdomain.Category, cutoff time.Time, limit int) ([]int64, error) {
	if f.ListStuckFunc != nil {
		return f.ListStuckFunc(ctx, category, cutoff, limit)
	}
	return nil, nil
}

type resubmission struct {
	generationID int64
	subtasks     []pipelinedomain.Subtask
}

// FakePipeline accepts every submission with one handle unless told otherwise.
type FakePipeline struct {
	DispatchFunc    func(ctx context.Context, generationID int64) (pipelineservice.DispatchResult, error)
	ResubmitFunc    func(ctx context.Context, generationID int64, subtasks ...pipelinedomain.Subtask) (pipelineservice.DispatchResult, error)
	ExpireTasksFunc func(ctx context.Context, maxAge time.Duration, limit int) (int, error)

	mu          sync.Mutex
	dispatched  []int64
	resubmitted []resubmission
}

func (f *FakePipeline) Dispatch(ctx context.Context, generationID int64) (pipelineservice.DispatchResult, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, generationID)
	f.mu.Unlock()
	if f.DispatchFunc != nil {
		return f.DispatchFunc(ctx, generationID)
	}
	return pipelineservice.DispatchResult{Handles: []pipelinedomain.Handle{"1"}}, nil
}

func (f *FakePipeline) Resubmit(ctx context.Context, generationID int64, subtasks ...pipelinedomain.Subtask) (pipelineservice.DispatchResult, error) {
	f.mu.Lock()
	f.resubmitted = append(f.resubmitted, resubmission{generationID: generationID, subtasks: subtasks})
	f.mu.Unlock()
	if f.ResubmitFunc != nil {
		return f.ResubmitFunc(ctx, generationID, subtasks...)
	}
	return pipelineservice.DispatchResult{Handles: []pipelinedomain.Handle{"1"}}, nil
}

func (f *FakePipeline) ExpireTasks(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	if f.ExpireTasksFunc != nil {
		return f.ExpireTasksFunc(ctx, maxAge, limit)
	}
	return 0, nil
}
