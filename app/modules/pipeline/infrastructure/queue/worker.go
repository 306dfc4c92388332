package pipelinequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/riverqueue/river"
)

// Runner executes one subtask. The pipeline service satisfies it.
type Runner interface {
	RunSubtask(ctx context.Context, job pipelinedomain.Job) (pipelineservice.Outcome, error)
}

// SubtaskWorker hands River jobs to the pipeline service. The runner is bound
// after construction because the service itself needs the queue.
type SubtaskWorker struct {
	river.WorkerDefaults[SubtaskArgs]

	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	runner Runner
}

func NewSubtaskWorker(logger *slog.Logger, timeout time.Duration) *SubtaskWorker {
	return &SubtaskWorker{
		logger:  logger.With(attr.String("worker", SubtaskKind)),
		timeout: timeout,
	}
}

// Handle binds the runner jobs are delivered to.
func (w *SubtaskWorker) Handle(r Runner) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runner = r
}

func (w *SubtaskWorker) Timeout(*river.Job[SubtaskArgs]) time.Duration {
	return w.timeout
}

func (w *SubtaskWorker) Work(ctx context.Context, job *river.Job[SubtaskArgs]) error {
	w.mu.RLock()
	runner := w.runner
	w.mu.RUnlock()
	if runner == nil {
		return errors.New("no subtask runner bound")
	}

	subtask, err := pipelinedomain.ParseSubtask(job.Args.Subtask)
	if err != nil {
		return river.JobCancel(err)
	}

	ctx = attr.WithCorrelationID(ctx, fmt.Sprintf("river-%d", job.ID))
	logger := w.logger.With(
		attr.Int64("job_id", job.ID),
		attr.Int("attempt", job.Attempt),
		attr.GenerationID(job.Args.GenerationID),
		attr.String("subtask", job.Args.Subtask),
	)

	out, err := runner.RunSubtask(ctx, pipelinedomain.Job{GenerationID: job.Args.GenerationID, Subtask: subtask})
	if err != nil {
		if errors.Is(err, pipelinedomain.ErrUnrunnable) {
			logger.WarnContext(ctx, "Dropping unrunnable job", attr.Error(err))
			return river.JobCancel(err)
		}
		if errors.Is(err, pipelineservice.ErrSubtaskFailed) {
			logger.WarnContext(ctx, "Subtask failed, River will retry",
				attr.Int("max_attempts", job.MaxAttempts),
				attr.Error(err),
			)
			return err
		}
		logger.ErrorContext(ctx, "Subtask job failed", attr.Error(err))
		return err
	}

	logger.DebugContext(ctx, "Subtask job completed", attr.String("result", out.Result))
	return nil
}
