package repairservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	repairdomain "github.com/Black-And-White-Club/avery/app/modules/repair/domain"
	repairdb "github.com/Black-And-White-Club/avery/app/modules/repair/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "repair"

// RepairService implements the Service interface.
type RepairService struct {
	repo     repairdb.Repository
	pipeline Pipeline
	opts     Options
	logger   *slog.Logger
	metrics  metrics.Repair
	tracer   trace.Tracer
	now      func() time.Time
}

var _ Service = (*RepairService)(nil)

func NewRepairService(
	repo repairdb.Repository,
	pipeline Pipeline,
	opts Options,
	logger *slog.Logger,
	metrics metrics.Repair,
	tracer trace.Tracer,
) *RepairService {
	if opts.MinAge <= 0 {
		opts.MinAge = 10 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.TaskMaxAge <= 0 {
		opts.TaskMaxAge = 10 * time.Minute
	}
	return &RepairService{
		repo:     repo,
		pipeline: pipeline,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func withTelemetry[T any](s *RepairService, ctx context.Context, operationName string, op func(ctx context.Context) (T, error)) (result T, err error) {
	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
	))
	defer span.End()

	s.metrics.RecordOperationAttempt(ctx, operationName, serviceName)
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operationName, serviceName, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
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

func (s *RepairService) Sweep(ctx context.Context) (Report, error) {
	return withTelemetry(s, ctx, "Sweep", func(ctx context.Context) (Report, error) {
		cutoff := s.now().Add(-s.opts.MinAge)
		report := Report{Categories: make(map[repairdomain.Category]CategoryReport, len(repairdomain.Categories))}

		var errs []error
		for _, category := range repairdomain.Categories {
			cr, err := s.sweepCategory(ctx, category, cutoff)
			if err != nil {
				errs = append(errs, err)
			}
			report.Categories[category] = cr
			s.metrics.RecordRepair(ctx, string(category), cr.Resubmitted)
		}

		expired, err := s.pipeline.ExpireTasks(ctx, s.opts.TaskMaxAge, s.opts.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to expire tasks: %w", err))
		}
		report.ExpiredTasks = expired

		s.logger.InfoContext(ctx, "Repair sweep finished",
			attr.Int("resubmitted", report.Resubmitted()),
			attr.Int("expired_tasks", expired),
			attr.Int("errors", len(errs)),
			attr.ExtractCorrelationID(ctx),
		)
		return report, errors.Join(errs...)
	})
}

// sweepCategory resubmits one category. Only a failure to list the category
// is returned; per-generation failures are counted and logged.
func (s *RepairService) sweepCategory(ctx context.Context, category repairdomain.Category, cutoff time.Time) (CategoryReport, error) {
	var cr CategoryReport
	ids, err := s.repo.ListStuck(ctx, nil, category, cutoff, s.opts.BatchSize)
	if err != nil {
		return cr, err
	}
	cr.Found = len(ids)

	for _, id := range ids {
		var res pipelineservice.DispatchResult
		if subtasks := category.Subtasks(); len(subtasks) > 0 {
			res, err = s.pipeline.Resubmit(ctx, id, subtasks...)
		} else {
			res, err = s.pipeline.Dispatch(ctx, id)
		}
		if err != nil {
			cr.Failed++
			s.logger.WarnContext(ctx, "Failed to resubmit generation",
				attr.GenerationID(id),
				attr.String("category", string(category)),
				attr.Error(err),
			)
		}
		if len(res.Handles) > 0 {
			cr.Resubmitted++
		}
	}

	if cr.Found > 0 {
		s.logger.InfoContext(ctx, "Repaired category",
			attr.String("category", string(category)),
			attr.Int("found", cr.Found),
			attr.Int("resubmitted", cr.Resubmitted),
			attr.Int("failed", cr.Failed),
		)
	}
	return cr, nil
}
