package pipelineservice

import (
	"context"
	"strconv"
	"sync"

	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
)

// FakeQueue is a programmable in-memory JobQueue. Jobs stay pending until a
// test sets their status.
type FakeQueue struct {
	SubmitFunc func(ctx context.Context, job pipelinedomain.Job) (pipelinedomain.Handle, error)
	PollFunc   func(ctx context.Context, handle pipelinedomain.Handle) (pipelinedomain.JobStatus, error)
	CancelFunc func(ctx context.Context, handle pipelinedomain.Handle) error

	mu        sync.Mutex
	next      int
	submitted []pipelinedomain.Job
	statuses  map[pipelinedomain.Handle]pipelinedomain.JobStatus
	cancelled []pipelinedomain.Handle
}

var _ JobQueue = (*FakeQueue)(nil)

func (q *FakeQueue) Submit(ctx context.Context, job pipelinedomain.Job) (pipelinedomain.Handle, error) {
	if q.SubmitFunc != nil {
		h, err := q.SubmitFunc(ctx, job)
		if err != nil {
			return "", err
		}
		q.mu.Lock()
		q.submitted = append(q.submitted, job)
		q.mu.Unlock()
		return h, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.submitted = append(q.submitted, job)
	return pipelinedomain.Handle(strconv.Itoa(q.next)), nil
}

func (q *FakeQueue) Poll(ctx context.Context, handle pipelinedomain.Handle) (pipelinedomain.JobStatus, error) {
	if q.PollFunc != nil {
		return q.PollFunc(ctx, handle)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.statuses[handle]; ok {
		return s, nil
	}
	return pipelinedomain.JobPending, nil
}

func (q *FakeQueue) Cancel(ctx context.Context, handle pipelinedomain.Handle) error {
	if q.CancelFunc != nil {
		return q.CancelFunc(ctx, handle)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, handle)
	return nil
}

func (q *FakeQueue) SetStatus(handle pipelinedomain.Handle, status pipelinedomain.JobStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.statuses == nil {
		q.statuses = map[pipelinedomain.Handle]pipelinedomain.JobStatus{}
	}
	q.statuses[handle] = status
}

// Submitted returns the subtasks submitted so far, in order.
func (q *FakeQueue) Submitted() []pipelinedomain.Subtask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]pipelinedomain.Subtask, 0, len(q.submitted))
	for _, j := range q.submitted {
		out = append(out, j.Subtask)
	}
	return out
}
