package pipelinequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/uptrace/bun"
)

const metricService = "river"

// Config tunes the River client.
type Config struct {
	Workers     int
	JobTimeout  time.Duration
	MaxAttempts int
}

// Service is the River-backed JobQueue.
type Service struct {
	client      *river.Client[pgx.Tx]
	pool        *pgxpool.Pool
	worker      *SubtaskWorker
	logger      *slog.Logger
	db          *bun.DB
	metrics     metrics.Operations
	maxAttempts int
}

var _ pipelineservice.JobQueue = (*Service)(nil)

// NewService creates a new River-based queue service for pipeline subtasks.
func NewService(ctx context.Context, bunDB *bun.DB, logger *slog.Logger, dsn string, cfg Config, metrics metrics.Operations) (*Service, error) {
	ctxLogger := logger.With(
		attr.String("operation", "new_pipeline_queue_service"),
		attr.String("component", "river_queue"),
	)

	start := time.Now()
	metrics.RecordOperationAttempt(ctx, "initialize_service", metricService)

	ctxLogger.Info("Initializing pipeline queue service")

	// River requires pgx, not database/sql
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		ctxLogger.Error("Failed to parse DSN for River", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", metricService)
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		ctxLogger.Error("Failed to create pgx pool for River", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", metricService)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		ctxLogger.Error("Failed to ping database for River", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", metricService)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 25
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	worker := NewSubtaskWorker(logger, cfg.JobTimeout)
	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueName: {MaxWorkers: cfg.Workers},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		pool.Close()
		ctxLogger.Error("Failed to create River client", attr.Error(err))
		metrics.RecordOperationFailure(ctx, "initialize_service", metricService)
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	service := &Service{
		client:      riverClient,
		pool:        pool,
		worker:      worker,
		logger:      ctxLogger,
		db:          bunDB,
		metrics:     metrics,
		maxAttempts: cfg.MaxAttempts,
	}

	metrics.RecordOperationSuccess(ctx, "initialize_service", metricService)
	metrics.RecordOperationDuration(ctx, "initialize_service", metricService, time.Since(start))

	ctxLogger.Info("Pipeline queue service initialized successfully")
	return service, nil
}

// Handle binds the runner that executes dequeued subtasks.
func (s *Service) Handle(r Runner) {
	s.worker.Handle(r)
}

// Start starts processing jobs. Queues that only submit never call it.
func (s *Service) Start(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "start_service", metricService)

	s.logger.Info("Starting pipeline queue service")

	if err := s.client.Start(ctx); err != nil {
		s.logger.Error("Failed to start River client", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "start_service", metricService)
		return fmt.Errorf("failed to start River client: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "start_service", metricService)
	s.metrics.RecordOperationDuration(ctx, "start_service", metricService, time.Since(start))

	s.logger.Info("Pipeline queue service started successfully")
	return nil
}

// Stop waits for running jobs, then releases the pool.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "stop_service", metricService)

	s.logger.Info("Stopping pipeline queue service")
	defer s.pool.Close()

	if err := s.client.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop River client", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "stop_service", metricService)
		return fmt.Errorf("failed to stop River client: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "stop_service", metricService)
	s.metrics.RecordOperationDuration(ctx, "stop_service", metricService, time.Since(start))

	s.logger.Info("Pipeline queue service stopped successfully")
	return nil
}

// Submit inserts a subtask job. A duplicate of a job still waiting or running
// returns the existing job's handle.
func (s *Service) Submit(ctx context.Context, job pipelinedomain.Job) (pipelinedomain.Handle, error) {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "submit_subtask", metricService)

	res, err := s.client.Insert(ctx, SubtaskArgs{
		GenerationID: job.GenerationID,
		Subtask:      string(job.Subtask),
	}, &river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: s.maxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: uniqueStates,
		},
	})
	if err != nil {
		s.metrics.RecordOperationFailure(ctx, "submit_subtask", metricService)
		return "", fmt.Errorf("failed to insert subtask job: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "submit_subtask", metricService)
	s.metrics.RecordOperationDuration(ctx, "submit_subtask", metricService, time.Since(start))

	if res.UniqueSkippedAsDuplicate {
		s.logger.DebugContext(ctx, "Subtask already queued",
			attr.GenerationID(job.GenerationID),
			attr.String("subtask", string(job.Subtask)),
			attr.Int64("job_id", res.Job.ID),
		)
	}
	return HandleFor(res.Job.ID), nil
}

// Poll reports a job's state. River prunes finalized jobs after a retention
// period, so a job that no longer exists is reported as succeeded.
func (s *Service) Poll(ctx context.Context, handle pipelinedomain.Handle) (pipelinedomain.JobStatus, error) {
	id, err := JobID(handle)
	if err != nil {
		return "", err
	}

	row, err := s.client.JobGet(ctx, id)
	if err != nil {
		if errors.Is(err, rivertype.ErrNotFound) {
			return pipelinedomain.JobSucceeded, nil
		}
		return "", fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return StatusOf(row.State), nil
}

func (s *Service) Cancel(ctx context.Context, handle pipelinedomain.Handle) error {
	id, err := JobID(handle)
	if err != nil {
		return err
	}

	s.metrics.RecordOperationAttempt(ctx, "cancel_subtask", metricService)
	if _, err := s.client.JobCancel(ctx, id); err != nil && !errors.Is(err, rivertype.ErrNotFound) {
		s.metrics.RecordOperationFailure(ctx, "cancel_subtask", metricService)
		return fmt.Errorf("failed to cancel job %d: %w", id, err)
	}
	s.metrics.RecordOperationSuccess(ctx, "cancel_subtask", metricService)
	return nil
}

// ListJobs returns every subtask job of a generation, oldest first, whatever
// its state.
func (s *Service) ListJobs(ctx context.Context, generationID int64) ([]JobInfo, error) {
	type riverJobRow struct {
		ID          int64          `bun:"id"`
		State       string         `bun:"state"`
		Args        map[string]any `bun:"args,type:jsonb"`
		CreatedAt   time.Time      `bun:"created_at"`
		Attempt     int16          `bun:"attempt"`
		MaxAttempts int16          `bun:"max_attempts"`
	}

	var rows []riverJobRow
	err := s.db.NewSelect().
		Table("river_job").
		Column("id", "state", "args", "created_at", "attempt", "max_attempts").
		Where("kind = ?", SubtaskKind).
		Where("(args->>'generation_id')::bigint = ?", generationID).
		Order("created_at ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtask jobs: %w", err)
	}

	out := make([]JobInfo, len(rows))
	for i, r := range rows {
		subtask, _ := r.Args["subtask"].(string)
		out[i] = JobInfo{
			ID:           r.ID,
			GenerationID: generationID,
			Subtask:      subtask,
			State:        r.State,
			CreatedAt:    r.CreatedAt.Format(time.RFC3339),
			Attempt:      int(r.Attempt),
			MaxAttempts:  int(r.MaxAttempts),
		}
	}
	return out, nil
}

// HealthCheck verifies the queue service is healthy
func (s *Service) HealthCheck(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "health_check", metricService)

	if s.client == nil {
		s.metrics.RecordOperationFailure(ctx, "health_check", metricService)
		return fmt.Errorf("river client is nil")
	}

	var count int
	err := s.db.NewSelect().
		Table("river_job").
		ColumnExpr("COUNT(*)").
		Where("kind = ?", SubtaskKind).
		Scan(ctx, &count)
	if err != nil {
		s.logger.Error("Queue service health check failed", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "health_check", metricService)
		return fmt.Errorf("queue service health check failed: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "health_check", metricService)
	s.metrics.RecordOperationDuration(ctx, "health_check", metricService, time.Since(start))

	s.logger.Debug("Queue service health check passed", attr.Int("total_jobs", count))
	return nil
}

func HandleFor(id int64) pipelinedomain.Handle {
	return pipelinedomain.Handle(strconv.FormatInt(id, 10))
}

func JobID(h pipelinedomain.Handle) (int64, error) {
	id, err := strconv.ParseInt(string(h), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job handle %q: %w", h, err)
	}
	return id, nil
}

// StatusOf maps River's job states onto the queue-neutral status.
func StatusOf(state rivertype.JobState) pipelinedomain.JobStatus {
	switch state {
	case rivertype.JobStateRunning:
		return pipelinedomain.JobRunning
	case rivertype.JobStateCompleted:
		return pipelinedomain.JobSucceeded
	case rivertype.JobStateDiscarded:
		return pipelinedomain.JobFailed
	case rivertype.JobStateCancelled:
		return pipelinedomain.JobCancelled
	default:
		return pipelinedomain.JobPending
	}
}
