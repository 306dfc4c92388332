package roundservice

import (
	"context"
	"errors"
	"strconv"
	"sync"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
)

// FakePipeline is a programmable Pipeline. Nil funcs dispatch nothing, report
// FINISHED and accept every factor.
type FakePipeline struct {
	DispatchFunc   func(ctx context.Context, generationID int64) (pipelineservice.DispatchResult, error)
	PollStatusFunc func(ctx context.Context, generationID int64) (pipelineservice.PollResult, error)
	MarkDoneFunc   func(ctx context.Context, generationID int64, factor pipelinedomain.Factor, payload pipelineservice.Payload) (bool, error)

	mu         sync.Mutex
	dispatched []int64
	polls      int
	marked     []pipelinedomain.Factor
}

var _ Pipeline = (*FakePipeline)(nil)

func (f *FakePipeline) Dispatch(ctx context.Context, generationID int64) (pipelineservice.DispatchResult, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, generationID)
	f.mu.Unlock()
	if f.DispatchFunc != nil {
		return f.DispatchFunc(ctx, generationID)
	}
	return pipelineservice.DispatchResult{Plan: "formula", Stage: "factors"}, nil
}

func (f *FakePipeline) PollStatus(ctx context.Context, generationID int64) (pipelineservice.PollResult, error) {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	if f.PollStatusFunc != nil {
		return f.PollStatusFunc(ctx, generationID)
	}
	return pipelineservice.PollResult{GenerationID: generationID, Status: pipelinedomain.StatusFinished}, nil
}

func (f *FakePipeline) MarkDone(ctx context.Context, generationID int64, factor pipelinedomain.Factor, payload pipelineservice.Payload) (bool, error) {
	f.mu.Lock()
	f.marked = append(f.marked, factor)
	f.mu.Unlock()
	if f.MarkDoneFunc != nil {
		return f.MarkDoneFunc(ctx, generationID, factor, payload)
	}
	return true, nil
}

func (f *FakePipeline) Dispatched() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.dispatched...)
}

func (f *FakePipeline) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *FakePipeline) Marked() []pipelinedomain.Factor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipelinedomain.Factor(nil), f.marked...)
}

// InlineQueue holds submitted jobs until Drain runs them, standing in for the
// worker pool.
type InlineQueue struct {
	mu      sync.Mutex
	next    int
	pending []queued
	done    map[pipelinedomain.Handle]pipelinedomain.JobStatus
}

type queued struct {
	handle pipelinedomain.Handle
	job    pipelinedomain.Job
}

var _ pipelineservice.JobQueue = (*InlineQueue)(nil)

func (q *InlineQueue) Submit(_ context.Context, job pipelinedomain.Job) (pipelinedomain.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	h := pipelinedomain.Handle(strconv.Itoa(q.next))
	q.pending = append(q.pending, queued{handle: h, job: job})
	return h, nil
}

func (q *InlineQueue) Poll(_ context.Context, h pipelinedomain.Handle) (pipelinedomain.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if status, ok := q.done[h]; ok {
		return status, nil
	}
	return pipelinedomain.JobPending, nil
}

func (q *InlineQueue) Cancel(context.Context, pipelinedomain.Handle) error { return nil }

// Drain runs queued jobs, including the ones they enqueue, until none are left.
// A job failing with ErrSubtaskFailed is recorded as failed and not retried.
func (q *InlineQueue) Drain(ctx context.Context, svc pipelineservice.Service) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		status := pipelinedomain.JobSucceeded
		if _, err := svc.RunSubtask(ctx, item.job); err != nil {
			if !errors.Is(err, pipelineservice.ErrSubtaskFailed) {
				return err
			}
			status = pipelinedomain.JobFailed
		}

		q.mu.Lock()
		if q.done == nil {
			q.done = map[pipelinedomain.Handle]pipelinedomain.JobStatus{}
		}
		q.done[item.handle] = status
		q.mu.Unlock()
	}
}
