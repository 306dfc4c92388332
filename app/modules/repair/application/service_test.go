package repairservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	repairdomain "github.com/Black-And-White-Club/avery/app/modules/repair/domain"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func newService(repo *FakeRepository, pipeline *FakePipeline, opts Options) *RepairService {
	s := NewRepairService(repo, pipeline, opts,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics.NoOp{},
		noop.NewTracerProvider().Tracer("test"),
	)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC) }
	return s
}

func TestSweep_ResubmitsOnlyMissingStages(t *testing.T) {
	stuck := map[repairdomain.Category][]int64{
		repairdomain.MissingFluency:    {11},
		repairdomain.MissingScore:      {12, 13},
		repairdomain.MissingSimilarity: {14},
		repairdomain.NotCompleted:      {12, 15},
	}
	var cutoffs []time.Time
	repo := &FakeRepository{
		ListStuckFunc: func(_ context.Context, c repairdomain.Category, cutoff time.Time, limit int) ([]int64, error) {
			assert.Equal(t, 50, limit)
			cutoffs = append(cutoffs, cutoff)
			return stuck[c], nil
		},
	}
	pipeline := &FakePipeline{
		ResubmitFunc: func(_ context.Context, id int64, _ ...pipelinedomain.Subtask) (pipelineservice.DispatchResult, error) {
			if id == 13 {
				// Earlier stage incomplete: nothing runnable yet.
				return pipelineservice.DispatchResult{}, nil
			}
			return pipelineservice.DispatchResult{Handles: []pipelinedomain.Handle{"h"}}, nil
		},
		ExpireTasksFunc: func(_ context.Context, maxAge time.Duration, limit int) (int, error) {
			assert.Equal(t, 10*time.Minute, maxAge)
			assert.Equal(t, 50, limit)
			return 3, nil
		},
	}

	report, err := newService(repo, pipeline, Options{MinAge: 30 * time.Minute, BatchSize: 50}).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []resubmission{
		{11, []pipelinedomain.Subtask{pipelinedomain.SubtaskFluency}},
		{12, []pipelinedomain.Subtask{pipelinedomain.SubtaskScore, pipelinedomain.SubtaskEvaluation}},
		{13, []pipelinedomain.Subtask{pipelinedomain.SubtaskScore, pipelinedomain.SubtaskEvaluation}},
		{14, []pipelinedomain.Subtask{pipelinedomain.SubtaskSimilarity}},
	}, pipeline.resubmitted)
	assert.Equal(t, []int64{12, 15}, pipeline.dispatched)

	assert.Equal(t, CategoryReport{Found: 2, Resubmitted: 1}, report.Categories[repairdomain.MissingScore])
	assert.Equal(t, CategoryReport{Found: 2, Resubmitted: 2}, report.Categories[repairdomain.NotCompleted])
	assert.Equal(t, CategoryReport{}, report.Categories[repairdomain.MissingWords])
	assert.Len(t, report.Categories, len(repairdomain.Categories))
	assert.Equal(t, 5, report.Resubmitted())
	assert.Equal(t, 3, report.ExpiredTasks)

	require.Len(t, cutoffs, len(repairdomain.Categories))
	assert.Equal(t, time.Date(2026, 10, 19, 4, 30, 0, 0, time.UTC), cutoffs[0])
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	repo := &FakeRepository{
		ListStuckFunc: func(_ context.Context, c repairdomain.Category, _ time.Time, _ int) ([]int64, error) {
			switch c {
			case repairdomain.MissingImage:
				return nil, errors.New("db down")
			case repairdomain.MissingWords:
				return []int64{1, 2}, nil
			}
			return nil, nil
		},
	}
	pipeline := &FakePipeline{
		ResubmitFunc: func(_ context.Context, id int64, _ ...pipelinedomain.Subtask) (pipelineservice.DispatchResult, error) {
			if id == 1 {
				return pipelineservice.DispatchResult{}, pipelineservice.ErrDispatchFailed
			}
			return pipelineservice.DispatchResult{Handles: []pipelinedomain.Handle{"h"}}, nil
		},
		ExpireTasksFunc: func(context.Context, time.Duration, int) (int, error) {
			return 0, errors.New("queue down")
		},
	}

	report, err := newService(repo, pipeline, Options{}).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Contains(t, err.Error(), "queue down")

	assert.Equal(t, CategoryReport{Found: 2, Resubmitted: 1, Failed: 1}, report.Categories[repairdomain.MissingWords])
	assert.Len(t, pipeline.resubmitted, 2)
}

func TestSweep_RepeatedRunsAreSafe(t *testing.T) {
	// Factors written between sweeps shrink the stuck set.
	calls := 0
	repo := &FakeRepository{
		ListStuckFunc: func(_ context.Context, c repairdomain.Category, _ time.Time, _ int) ([]int64, error) {
			if c != repairdomain.MissingContent {
				return nil, nil
			}
			calls++
			if calls == 1 {
				return []int64{7}, nil
			}
			return nil, nil
		},
	}
	pipeline := &FakePipeline{}
	svc := newService(repo, pipeline, Options{})

	first, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	second, err := svc.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.Resubmitted())
	assert.Zero(t, second.Resubmitted())
	assert.Len(t, pipeline.resubmitted, 1)
}
