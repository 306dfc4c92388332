package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessRoundTrip(t *testing.T) {
	bus, err := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	assert.Equal(t, "gochannel", bus.Transport())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := bus.Subscriber().Subscribe(ctx, TopicUserAction)
	require.NoError(t, err)

	sent := UserAction{PlayerID: "p-1", Action: "submit", RoundID: 7, Status: "valid"}
	msg, err := NewMessage(attr.WithCorrelationID(ctx, "corr-1"), sent)
	require.NoError(t, err)
	require.NoError(t, bus.Publisher().Publish(TopicUserAction, msg))

	select {
	case got := <-messages:
		var action UserAction
		require.NoError(t, Decode(got, &action))
		assert.Equal(t, sent, action)
		assert.Equal(t, "corr-1", middleware.MessageCorrelationID(got))
		got.Ack()
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestNewMessage_GeneratesCorrelationID(t *testing.T) {
	msg, err := NewMessage(context.Background(), map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, middleware.MessageCorrelationID(msg))
	assert.JSONEq(t, `{"a":"b"}`, string(msg.Payload))
}

func TestDecode_Invalid(t *testing.T) {
	msg, err := NewMessage(context.Background(), "not an object")
	require.NoError(t, err)
	var action UserAction
	assert.Error(t, Decode(msg, &action))
}
