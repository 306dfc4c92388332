package pipelinehandlers

import (
	"context"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	pipelinequeue "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/queue"
)

// FakeService implements pipelineservice.Service; only PollStatus is programmable.
type FakeService struct {
	pipelineservice.Service
	PollStatusFunc func(ctx context.Context, generationID int64) (pipelineservice.PollResult, error)
}

func (f *FakeService) PollStatus(ctx context.Context, generationID int64) (pipelineservice.PollResult, error) {
	if f.PollStatusFunc != nil {
		return f.PollStatusFunc(ctx, generationID)
	}
	return pipelineservice.PollResult{GenerationID: generationID, Status: pipelinedomain.StatusPending}, nil
}

// FakeJobs is a programmable JobLister. A nil func lists no jobs.
type FakeJobs struct {
	ListJobsFunc func(ctx context.Context, generationID int64) ([]pipelinequeue.JobInfo, error)
}

func (f *FakeJobs) ListJobs(ctx context.Context, generationID int64) ([]pipelinequeue.JobInfo, error) {
	if f.ListJobsFunc != nil {
		return f.ListJobsFunc(ctx, generationID)
	}
	return nil, nil
}
