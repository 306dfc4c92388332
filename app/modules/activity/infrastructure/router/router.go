package activityrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Black-And-White-Club/avery/app/eventbus"
	activityservice "github.com/Black-And-White-Club/avery/app/modules/activity/application"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	TestEnvironmentFlag  = "APP_ENV"
	TestEnvironmentValue = "test"
)

// ActivityRouter feeds user.action events into the activity service.
type ActivityRouter struct {
	logger         *slog.Logger
	Router         *message.Router
	subscriber     message.Subscriber
	tracer         trace.Tracer
	metricsBuilder *metrics.PrometheusMetricsBuilder
}

func NewActivityRouter(
	logger *slog.Logger,
	router *message.Router,
	subscriber message.Subscriber,
	tracer trace.Tracer,
	registry *prometheus.Registry,
) *ActivityRouter {
	var metricsBuilder *metrics.PrometheusMetricsBuilder
	if registry != nil && os.Getenv(TestEnvironmentFlag) != TestEnvironmentValue {
		b := metrics.NewPrometheusMetricsBuilder(registry, "", "")
		metricsBuilder = &b
	}
	return &ActivityRouter{
		logger:         logger,
		Router:         router,
		subscriber:     subscriber,
		tracer:         tracer,
		metricsBuilder: metricsBuilder,
	}
}

// Configure installs the middleware and the user.action handler.
func (r *ActivityRouter) Configure(service activityservice.Service) error {
	if r.metricsBuilder != nil {
		r.metricsBuilder.AddPrometheusRouterMetrics(r.Router)
	}

	r.Router.AddMiddleware(
		middleware.CorrelationID,
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			Logger:          watermill.NewSlogLogger(r.logger),
		}.Middleware,
	)

	handlerName := "activity." + eventbus.TopicUserAction
	r.Router.AddHandler(
		handlerName,
		eventbus.TopicUserAction,
		r.subscriber,
		"",
		nil,
		func(msg *message.Message) ([]*message.Message, error) {
			return nil, r.handleUserAction(service, msg)
		},
	)
	return nil
}

// handleUserAction records one event. Undecodable or invalid events are
// dropped so they are not redelivered forever.
func (r *ActivityRouter) handleUserAction(service activityservice.Service, msg *message.Message) error {
	ctx := attr.WithCorrelationID(msg.Context(), middleware.MessageCorrelationID(msg))
	ctx, span := r.tracer.Start(ctx, "activity.HandleUserAction", trace.WithAttributes(
		attribute.String("message_id", msg.UUID),
	))
	defer span.End()

	var action eventbus.UserAction
	if err := eventbus.Decode(msg, &action); err != nil {
		r.logger.WarnContext(ctx, "Dropping malformed user action",
			attr.String("message_id", msg.UUID),
			attr.ExtractCorrelationID(ctx),
			attr.Error(err),
		)
		return nil
	}

	if err := service.Record(ctx, msg.UUID, action); err != nil {
		if errors.Is(err, activityservice.ErrInvalidAction) {
			r.logger.WarnContext(ctx, "Dropping invalid user action",
				attr.String("message_id", msg.UUID),
				attr.ExtractCorrelationID(ctx),
			)
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("failed to record user action: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled or the router is closed.
func (r *ActivityRouter) Run(ctx context.Context) error {
	return r.Router.Run(ctx)
}

func (r *ActivityRouter) Close() error {
	return r.Router.Close()
}
