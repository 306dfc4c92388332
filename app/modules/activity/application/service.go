package activityservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Black-And-White-Club/avery/app/eventbus"
	activitydb "github.com/Black-And-White-Club/avery/app/modules/activity/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "activity"

// ErrInvalidAction is returned for events without a player or action.
var ErrInvalidAction = errors.New("invalid user action")

// ActivityService implements the Service interface.
type ActivityService struct {
	repo    activitydb.Repository
	logger  *slog.Logger
	metrics metrics.Operations
	tracer  trace.Tracer
}

var _ Service = (*ActivityService)(nil)

func NewActivityService(repo activitydb.Repository, logger *slog.Logger, metrics metrics.Operations, tracer trace.Tracer) *ActivityService {
	return &ActivityService{repo: repo, logger: logger, metrics: metrics, tracer: tracer}
}

func withTelemetry[T any](s *ActivityService, ctx context.Context, operationName, playerID string, op func(ctx context.Context) (T, error)) (result T, err error) {
	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.String("player_id", playerID),
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
				attr.PlayerID(playerID),
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

func (s *ActivityService) Record(ctx context.Context, messageID string, action eventbus.UserAction) error {
	_, err := withTelemetry(s, ctx, "Record", action.PlayerID, func(ctx context.Context) (struct{}, error) {
		if strings.TrimSpace(action.PlayerID) == "" || strings.TrimSpace(action.Action) == "" {
			return struct{}{}, ErrInvalidAction
		}

		row := &activitydb.UserAction{
			MessageID:  messageID,
			PlayerID:   action.PlayerID,
			Action:     action.Action,
			Program:    action.Program,
			Status:     action.Status,
			Failed:     action.Failed,
			ReceivedAt: action.ReceivedAt.UTC(),
			SentAt:     action.SentAt.UTC(),
		}
		if action.RoundID != 0 {
			row.RoundID = &action.RoundID
		}

		err := s.repo.Insert(ctx, nil, row)
		if errors.Is(err, activitydb.ErrDuplicate) {
			s.logger.DebugContext(ctx, "User action already recorded",
				attr.String("message_id", messageID),
				attr.ExtractCorrelationID(ctx),
			)
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

func (s *ActivityService) Recent(ctx context.Context, playerID string, limit int) ([]activitydb.UserAction, error) {
	return withTelemetry(s, ctx, "Recent", playerID, func(ctx context.Context) ([]activitydb.UserAction, error) {
		return s.repo.ListForPlayer(ctx, nil, playerID, limit)
	})
}
