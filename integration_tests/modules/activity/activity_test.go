//go:build integration

package activityintegrationtests

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Black-And-White-Club/avery/app/eventbus"
	activityservice "github.com/Black-And-White-Club/avery/app/modules/activity/application"
	activitydb "github.com/Black-And-White-Club/avery/app/modules/activity/infrastructure/repositories"
	activityrouter "github.com/Black-And-White-Club/avery/app/modules/activity/infrastructure/router"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/Black-And-White-Club/avery/integration_tests/testutils"
)

func TestUserActionsOverJetStream(t *testing.T) {
	env, err := testutils.NewTestEnvironment(t)
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)

	repo := activitydb.NewRepository(env.DB)
	tracer := noop.NewTracerProvider().Tracer("activity_integration")
	service := activityservice.NewActivityService(repo, env.Logger, metrics.NoOp{}, tracer)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, watermill.NewSlogLogger(env.Logger))
	require.NoError(t, err)
	ar := activityrouter.NewActivityRouter(env.Logger, router, env.EventBus.Subscriber(), tracer, nil)
	require.NoError(t, ar.Configure(service))

	ctx, cancel := context.WithCancel(env.Ctx)
	t.Cleanup(cancel)
	go func() { _ = ar.Run(ctx) }()
	<-router.Running()
	t.Cleanup(func() { _ = ar.Close() })

	playerID := gofakeit.UUID()
	received := time.Now().UTC().Truncate(time.Millisecond)
	actions := []eventbus.UserAction{
		{PlayerID: playerID, Action: "start", Program: testutils.ProgramText, ReceivedAt: received, SentAt: received.Add(20 * time.Millisecond)},
		{PlayerID: playerID, Action: "submit", Program: testutils.ProgramText, RoundID: 7, Status: "valid", ReceivedAt: received.Add(time.Second), SentAt: received.Add(2 * time.Second)},
	}
	for _, a := range actions {
		msg, err := eventbus.NewMessage(attr.WithCorrelationID(ctx, gofakeit.UUID()), a)
		require.NoError(t, err)
		require.NoError(t, env.EventBus.Publisher().Publish(eventbus.TopicUserAction, msg))
	}

	var stored []activitydb.UserAction
	require.Eventually(t, func() bool {
		stored, err = service.Recent(context.Background(), playerID, 10)
		return err == nil && len(stored) == len(actions)
	}, 20*time.Second, 100*time.Millisecond)

	assert.Equal(t, "submit", stored[0].Action)
	require.NotNil(t, stored[0].RoundID)
	assert.Equal(t, int64(7), *stored[0].RoundID)
	assert.Equal(t, "start", stored[1].Action)
	assert.Nil(t, stored[1].RoundID)
}
