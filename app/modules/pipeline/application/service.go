package pipelineservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	pipelinedb "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "pipeline"

// PipelineService implements the Service interface.
type PipelineService struct {
	repo     pipelinedb.Repository
	tracker  *Tracker
	queue    JobQueue
	provider analysis.Provider
	images   analysis.ImageStore
	scorer   scoreservice.Service
	logger   *slog.Logger
	metrics  metrics.Pipeline
	tracer   trace.Tracer
	now      func() time.Time
}

var _ Service = (*PipelineService)(nil)

// NewPipelineService creates a new PipelineService.
func NewPipelineService(
	repo pipelinedb.Repository,
	tracker *Tracker,
	queue JobQueue,
	provider analysis.Provider,
	images analysis.ImageStore,
	scorer scoreservice.Service,
	logger *slog.Logger,
	metrics metrics.Pipeline,
	tracer trace.Tracer,
) *PipelineService {
	return &PipelineService{
		repo:     repo,
		tracker:  tracker,
		queue:    queue,
		provider: provider,
		images:   images,
		scorer:   scorer,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// operationFunc is the generic signature for service operation functions.
type operationFunc[T any] func(ctx context.Context) (T, error)

// withTelemetry wraps a service operation with tracing, metrics, and panic recovery.
func withTelemetry[T any](
	s *PipelineService,
	ctx context.Context,
	operationName string,
	generationID int64,
	op operationFunc[T],
) (result T, err error) {
	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.Int64("generation_id", generationID),
	))
	defer span.End()

	s.metrics.RecordOperationAttempt(ctx, operationName, serviceName)

	startTime := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operationName, serviceName, time.Since(startTime))
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
				attr.GenerationID(generationID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
			s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
			span.RecordError(err)
		}
	}()

	result, err = op(ctx)
	if err != nil {
		s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
		span.RecordError(err)
		return result, fmt.Errorf("%s: %w", operationName, err)
	}

	s.metrics.RecordOperationSuccess(ctx, operationName, serviceName)
	return result, nil
}

func (s *PipelineService) Dispatch(ctx context.Context, generationID int64) (DispatchResult, error) {
	return withTelemetry(s, ctx, "Dispatch", generationID, func(ctx context.Context) (DispatchResult, error) {
		snap, err := s.tracker.Load(ctx, nil, generationID)
		if err != nil {
			return DispatchResult{}, err
		}
		if !snap.State.Generation.Corrected() {
			return DispatchResult{}, ErrNotCorrected
		}

		idx, pending, ok := snap.Plan.NextPending(snap.Done, 0)
		if !ok {
			return DispatchResult{Plan: snap.Plan.Name, Finished: true}, nil
		}
		return s.submit(ctx, snap, idx, pending)
	})
}

func (s *PipelineService) Resubmit(ctx context.Context, generationID int64, subtasks ...pipelinedomain.Subtask) (DispatchResult, error) {
	return withTelemetry(s, ctx, "Resubmit", generationID, func(ctx context.Context) (DispatchResult, error) {
		snap, err := s.tracker.Load(ctx, nil, generationID)
		if err != nil {
			return DispatchResult{}, err
		}
		if !snap.State.Generation.Corrected() {
			return DispatchResult{}, ErrNotCorrected
		}

		var runnable []pipelinedomain.Subtask
		stage := -1
		for _, sub := range subtasks {
			i := snap.Plan.StageOf(sub)
			switch {
			case i < 0:
				continue
			case snap.Done.Has(sub.Produces()):
				continue
			case !snap.Done.Covers(snap.Plan.Before(i)):
				s.logger.DebugContext(ctx, "Earlier stage incomplete, not resubmitting",
					attr.GenerationID(generationID),
					attr.String("subtask", string(sub)),
					attr.String("done", snap.Done.String()),
				)
				continue
			}
			runnable = append(runnable, sub)
			stage = i
		}
		if len(runnable) == 0 {
			return DispatchResult{Plan: snap.Plan.Name, Finished: snap.Finished()}, nil
		}
		return s.submit(ctx, snap, stage, runnable)
	})
}

// submit enqueues subtasks and records a task pointer for each accepted job.
// Jobs that fail to enqueue are reported together; the rest still run.
func (s *PipelineService) submit(ctx context.Context, snap Snapshot, stage int, subtasks []pipelinedomain.Subtask) (DispatchResult, error) {
	genID := snap.State.Generation.ID
	res := DispatchResult{Plan: snap.Plan.Name, Stage: snap.Plan.Stages[stage].Name}

	var errs []error
	for _, sub := range subtasks {
		handle, err := s.queue.Submit(ctx, pipelinedomain.Job{GenerationID: genID, Subtask: sub})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub, err))
			continue
		}
		res.Subtasks = append(res.Subtasks, sub)
		res.Handles = append(res.Handles, handle)

		task := &pipelinedb.Task{
			ID:           string(handle),
			GenerationID: &genID,
			Subtask:      string(sub),
			CreatedAt:    s.now(),
		}
		if err := s.repo.CreateTask(ctx, nil, task); err != nil {
			s.logger.WarnContext(ctx, "Failed to record task",
				attr.GenerationID(genID),
				attr.String("task_id", task.ID),
				attr.Error(err),
			)
		}
	}

	s.metrics.RecordDispatch(ctx, snap.Plan.Name, len(res.Handles))
	s.logger.InfoContext(ctx, "Subtasks dispatched",
		attr.GenerationID(genID),
		attr.String("plan", snap.Plan.Name),
		attr.String("stage", res.Stage),
		attr.Int("submitted", len(res.Handles)),
		attr.Int("failed", len(errs)),
		attr.ExtractCorrelationID(ctx),
	)

	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrDispatchFailed, errors.Join(errs...))
	}
	return res, nil
}

// advance dispatches the next stage once the stage containing after is complete.
// Failures are logged; the repair sweep picks up anything left behind.
func (s *PipelineService) advance(ctx context.Context, generationID int64, after pipelinedomain.Subtask) {
	snap, err := s.tracker.Load(ctx, nil, generationID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to reload generation for next stage",
			attr.GenerationID(generationID),
			attr.Error(err),
		)
		return
	}

	idx, pending, ok := snap.Plan.NextPending(snap.Done, 0)
	if !ok || idx <= snap.Plan.StageOf(after) {
		return
	}
	if _, err := s.submit(ctx, snap, idx, pending); err != nil {
		s.logger.WarnContext(ctx, "Failed to dispatch next stage",
			attr.GenerationID(generationID),
			attr.String("stage", snap.Plan.Stages[idx].Name),
			attr.Error(err),
		)
	}
}

func (s *PipelineService) PollStatus(ctx context.Context, generationID int64) (PollResult, error) {
	return withTelemetry(s, ctx, "PollStatus", generationID, func(ctx context.Context) (PollResult, error) {
		snap, err := s.tracker.Load(ctx, nil, generationID)
		if err != nil {
			return PollResult{}, err
		}

		res := PollResult{GenerationID: generationID, Status: pipelinedomain.StatusPending, Tasks: []TaskStatus{}}
		if snap.Finished() {
			res.Status = pipelinedomain.StatusFinished
		}

		tasks, err := s.repo.ListTasks(ctx, nil, generationID)
		if err != nil {
			return PollResult{}, err
		}

		for _, t := range tasks {
			status, err := s.queue.Poll(ctx, pipelinedomain.Handle(t.ID))
			if err != nil {
				s.logger.WarnContext(ctx, "Failed to poll job",
					attr.GenerationID(generationID),
					attr.String("task_id", t.ID),
					attr.Error(err),
				)
				status = pipelinedomain.JobPending
			}
			res.Tasks = append(res.Tasks, TaskStatus{ID: t.ID, Subtask: t.Subtask, Status: status})

			if res.Status == pipelinedomain.StatusPending && status == pipelinedomain.JobSucceeded {
				if err := s.repo.DeleteTask(ctx, nil, t.ID); err != nil {
					s.logger.WarnContext(ctx, "Failed to delete finished task",
						attr.String("task_id", t.ID),
						attr.Error(err),
					)
				}
			}
		}
		return res, nil
	})
}

func (s *PipelineService) IsDone(ctx context.Context, generationID int64) (bool, error) {
	return s.tracker.IsDone(ctx, generationID)
}

func (s *PipelineService) MarkDone(ctx context.Context, generationID int64, factor pipelinedomain.Factor, payload Payload) (bool, error) {
	return withTelemetry(s, ctx, "MarkDone", generationID, func(ctx context.Context) (bool, error) {
		return s.tracker.MarkDone(ctx, generationID, factor, payload)
	})
}

func (s *PipelineService) ExpireTasks(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	return withTelemetry(s, ctx, "ExpireTasks", 0, func(ctx context.Context) (int, error) {
		tasks, err := s.repo.ListTasksCreatedBefore(ctx, nil, s.now().Add(-maxAge), limit)
		if err != nil {
			return 0, err
		}

		removed := 0
		for _, t := range tasks {
			handle := pipelinedomain.Handle(t.ID)
			status, err := s.queue.Poll(ctx, handle)
			if err != nil {
				s.logger.WarnContext(ctx, "Failed to poll stale job", attr.String("task_id", t.ID), attr.Error(err))
				continue
			}
			if !status.Finished() {
				if err := s.queue.Cancel(ctx, handle); err != nil {
					s.logger.WarnContext(ctx, "Failed to cancel stale job", attr.String("task_id", t.ID), attr.Error(err))
					continue
				}
			}
			if err := s.repo.DeleteTask(ctx, nil, t.ID); err != nil {
				return removed, err
			}
			removed++
		}

		if removed > 0 {
			s.logger.InfoContext(ctx, "Expired stale tasks",
				attr.Int("removed", removed),
				attr.Duration("max_age", maxAge),
			)
		}
		return removed, nil
	})
}
