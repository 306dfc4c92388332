package scoreservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "score"

// ScoreService implements the Service interface.
type ScoreService struct {
	repo            scoredb.Repository
	strategies      map[string]Strategy
	defaultStrategy string
	logger          *slog.Logger
	metrics         metrics.Session
	tracer          trace.Tracer
}

var _ Service = (*ScoreService)(nil)

// NewScoreService creates a new ScoreService with the formula and evaluation
// strategies registered.
func NewScoreService(
	repo scoredb.Repository,
	fluencyThreshold float64,
	defaultStrategy string,
	logger *slog.Logger,
	metrics metrics.Session,
	tracer trace.Tracer,
) *ScoreService {
	s := &ScoreService{
		repo:            repo,
		strategies:      map[string]Strategy{},
		defaultStrategy: defaultStrategy,
		logger:          logger,
		metrics:         metrics,
		tracer:          tracer,
	}
	s.Register(FormulaStrategy{FluencyThreshold: fluencyThreshold})
	s.Register(EvaluationStrategy{})
	if s.defaultStrategy == "" {
		s.defaultStrategy = StrategyFormula
	}
	return s
}

// Register adds or replaces a strategy.
func (s *ScoreService) Register(st Strategy) {
	s.strategies[st.Name()] = st
}

// operationFunc is the generic signature for service operation functions.
type operationFunc[T any] func(ctx context.Context) (T, error)

// withTelemetry wraps a service operation with tracing, metrics, and panic recovery.
func withTelemetry[T any](
	s *ScoreService,
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

// Calculate selects the strategy and runs it. It never writes.
func (s *ScoreService) Calculate(ctx context.Context, strategy string, generationID int64, in Input) (Breakdown, error) {
	return withTelemetry(s, ctx, "Calculate", generationID, func(ctx context.Context) (Breakdown, error) {
		if strategy == "" {
			strategy = s.defaultStrategy
		}
		st, ok := s.strategies[strategy]
		if !ok {
			return Breakdown{}, fmt.Errorf("%q: %w", strategy, ErrUnknownStrategy)
		}

		b, err := st.Calculate(in)
		if err != nil {
			return Breakdown{}, err
		}

		s.metrics.RecordScore(ctx, b.Strategy, b.Total)
		s.logger.InfoContext(ctx, "Score calculated",
			attr.GenerationID(generationID),
			attr.String("strategy", b.Strategy),
			attr.Int("total", b.Total),
			attr.String("rank", string(b.Rank)),
			attr.ExtractCorrelationID(ctx),
		)
		return b, nil
	})
}

func (s *ScoreService) GetForGeneration(ctx context.Context, generationID int64) (*scoredb.Score, error) {
	score, err := s.repo.GetByGeneration(ctx, nil, generationID)
	if err != nil {
		if errors.Is(err, scoredb.ErrNotFound) {
			return nil, ErrScoreNotFound
		}
		return nil, fmt.Errorf("failed to get score for generation %d: %w", generationID, err)
	}
	return score, nil
}
