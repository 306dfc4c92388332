package roundhandlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Black-And-White-Club/avery/app/eventbus"
	authdomain "github.com/Black-And-White-Club/avery/app/modules/auth/domain"
	authjwt "github.com/Black-And-White-Club/avery/app/modules/auth/infrastructure/jwt"
	roundservice "github.com/Black-And-White-Club/avery/app/modules/round/application"
	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-chars-long!!"

type testServer struct {
	url    string
	tokens authjwt.Provider
	bus    *eventbus.EventBus
}

func newTestServer(t *testing.T, svc roundservice.Service, origins []string) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus, err := eventbus.New(eventbus.Config{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	tokens := authjwt.NewProvider(testSecret)
	r := chi.NewRouter()
	NewHandlers(svc, bus.Publisher(), tokens, origins, logger).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/round", tokens: tokens, bus: bus}
}

func (ts *testServer) dial(t *testing.T, playerID string, header http.Header) *websocket.Conn {
	t.Helper()
	token, err := ts.tokens.GenerateToken(&authdomain.Claims{PlayerID: playerID, Username: "mika"}, time.Hour)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(ts.url+"?token="+token, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	return got
}

func TestServeSession_HandlesRequestsInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []roundservice.Request
	)
	svc := &FakeService{
		HandleFunc: func(ctx context.Context, sess *roundservice.Session, req roundservice.Request) (roundservice.Response, error) {
			assert.Equal(t, "p-1", sess.PlayerID)
			assert.NotEmpty(t, attr.CorrelationID(ctx))
			mu.Lock()
			seen = append(seen, req)
			mu.Unlock()
			switch req.Action {
			case rounddomain.ActionStart:
				return roundservice.Response{State: rounddomain.StateAwaitingSentence}, nil
			case rounddomain.ActionSubmit:
				return roundservice.Response{Status: roundservice.StatusValid, State: rounddomain.StateAwaitingEvaluation}, nil
			}
			return roundservice.Response{}, nil
		},
	}
	ts := newTestServer(t, svc, nil)
	conn := ts.dial(t, "p-1", nil)

	got := roundTrip(t, conn, `{"action":"start","program":"text","obj":{"leaderboard_id":1}}`)
	assert.Equal(t, "AWAITING_SENTENCE", got["state"])

	got = roundTrip(t, conn, `{"action":"submit","program":"text","obj":{"sentence":"A cat."}}`)
	assert.Equal(t, "valid", got["status"])
	assert.Equal(t, "AWAITING_EVALUATION", got["state"])

	got = roundTrip(t, conn, `{"action":"evaluate","program":"text"}`)
	assert.Empty(t, got)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, "text", seen[0].Program)
	assert.JSONEq(t, `{"leaderboard_id":1}`, string(seen[0].Obj))
	assert.Equal(t, rounddomain.ActionEvaluate, seen[2].Action)
}

func TestServeSession_Errors(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		err      error
		wantCode string
	}{
		{name: "malformed json", request: `{"action":`, wantCode: CodeInvalidRequest},
		{name: "unknown action", request: `{"action":"dance"}`, err: roundservice.ErrUnknownAction, wantCode: CodeInvalidRequest},
		{name: "missing leaderboard", request: `{"action":"start","program":"text"}`, err: fmt.Errorf("Start: %w", roundservice.ErrLeaderboardNotFound), wantCode: CodeNotFound},
		{name: "store failure", request: `{"action":"end"}`, err: errors.New("db down"), wantCode: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &FakeService{
				HandleFunc: func(context.Context, *roundservice.Session, roundservice.Request) (roundservice.Response, error) {
					return roundservice.Response{}, tt.err
				},
			}
			conn := newTestServer(t, svc, nil).dial(t, "p-1", nil)

			got := roundTrip(t, conn, tt.request)
			assert.Equal(t, map[string]any{"error": tt.wantCode}, got)

			// The session survives a failed action.
			roundTrip(t, conn, `{"action":"end"}`)
		})
	}
}

func TestServeSession_PublishesUserAction(t *testing.T) {
	svc := &FakeService{
		HandleFunc: func(context.Context, *roundservice.Session, roundservice.Request) (roundservice.Response, error) {
			return roundservice.Response{Status: roundservice.StatusEmpty}, nil
		},
	}
	ts := newTestServer(t, svc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := ts.bus.Subscriber().Subscribe(ctx, eventbus.TopicUserAction)
	require.NoError(t, err)

	conn := ts.dial(t, "p-7", nil)
	roundTrip(t, conn, `{"action":"hint","program":"text","obj":{"content":""}}`)

	var msg *message.Message
	select {
	case msg = <-messages:
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("no user action published")
	}

	var action eventbus.UserAction
	require.NoError(t, eventbus.Decode(msg, &action))
	assert.Equal(t, "p-7", action.PlayerID)
	assert.Equal(t, "hint", action.Action)
	assert.Equal(t, "text", action.Program)
	assert.Equal(t, roundservice.StatusEmpty, action.Status)
	assert.False(t, action.Failed)
	assert.False(t, action.SentAt.Before(action.ReceivedAt))
}

func TestServeSession_ClosesSessionOnDisconnect(t *testing.T) {
	svc := &FakeService{}
	ts := newTestServer(t, svc, nil)
	conn := ts.dial(t, "p-1", nil)
	roundTrip(t, conn, `{"action":"resume","program":"text"}`)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return svc.Closed() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestServeSession_ConnectFailure(t *testing.T) {
	svc := &FakeService{
		ConnectFunc: func(context.Context, authdomain.Claims) (*roundservice.Session, error) {
			return nil, errors.New("db down")
		},
	}
	conn := newTestServer(t, svc, nil).dial(t, "p-1", nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, CodeInternal, got["error"])
	assert.Zero(t, svc.Closed())
}

func TestServeSession_RejectsUnauthenticated(t *testing.T) {
	ts := newTestServer(t, &FakeService{}, nil)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeSession_CheckOrigin(t *testing.T) {
	ts := newTestServer(t, &FakeService{}, []string{"https://avery.test"})
	token, err := ts.tokens.GenerateToken(&authdomain.Claims{PlayerID: "p-1"}, time.Hour)
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url+"?token="+token, http.Header{"Origin": {"https://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := ts.dial(t, "p-1", http.Header{"Origin": {"https://avery.test"}})
	got := roundTrip(t, conn, `{"action":"evaluate"}`)
	assert.Empty(t, got)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeNotFound, errorCode(fmt.Errorf("x: %w", roundservice.ErrRoundNotFound)))
	assert.Equal(t, CodeInvalidRequest, errorCode(roundservice.ErrMissingProgram))
	assert.Equal(t, CodeInternal, errorCode(errors.New("boom")))

	var body errorResponse
	require.NoError(t, json.Unmarshal([]byte(`{"error":"not_found"}`), &body))
	assert.Equal(t, CodeNotFound, body.Error)
}
