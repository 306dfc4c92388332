package roundhandlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Black-And-White-Club/avery/app/eventbus"
	authdomain "github.com/Black-And-White-Club/avery/app/modules/auth/domain"
	roundservice "github.com/Black-And-White-Club/avery/app/modules/round/application"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
)

// Error codes sent to the client in place of a response.
const (
	CodeNotFound       = "not_found"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
}

// ServeSession upgrades the request and runs one protocol session until the
// client goes away. Requests on a connection are handled one at a time.
func (h *Handlers) ServeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := authdomain.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.WarnContext(r.Context(), "Websocket upgrade failed",
			attr.PlayerID(claims.PlayerID),
			attr.Error(err),
		)
		return
	}
	defer conn.Close()

	ctx := attr.WithCorrelationID(r.Context(), uuid.NewString())

	sess, err := h.service.Connect(ctx, *claims)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to open session",
			attr.PlayerID(claims.PlayerID),
			attr.ExtractCorrelationID(ctx),
			attr.Error(err),
		)
		_ = h.write(conn, errorResponse{Error: CodeInternal})
		return
	}
	defer h.service.Close(context.WithoutCancel(ctx), sess)

	h.logger.InfoContext(ctx, "Session opened",
		attr.PlayerID(sess.PlayerID),
		attr.Bool("guest", sess.IsGuest),
		attr.ExtractCorrelationID(ctx),
	)

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(conn, done)

	h.readLoop(ctx, conn, sess)

	h.logger.InfoContext(ctx, "Session closed",
		attr.PlayerID(sess.PlayerID),
		attr.RoundID(sess.RoundID()),
		attr.ExtractCorrelationID(ctx),
	)
}

func (h *Handlers) readLoop(ctx context.Context, conn *websocket.Conn, sess *roundservice.Session) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WarnContext(ctx, "Websocket read failed",
					attr.PlayerID(sess.PlayerID),
					attr.ExtractCorrelationID(ctx),
					attr.Error(err),
				)
			}
			return
		}
		received := time.Now().UTC()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var req roundservice.Request
		if err := json.Unmarshal(data, &req); err != nil {
			if err := h.write(conn, errorResponse{Error: CodeInvalidRequest}); err != nil {
				return
			}
			continue
		}

		resp, err := h.service.Handle(ctx, sess, req)
		var out any = resp
		if err != nil {
			code := errorCode(err)
			if code == CodeInternal {
				h.logger.ErrorContext(ctx, "Action failed",
					attr.PlayerID(sess.PlayerID),
					attr.String("action", string(req.Action)),
					attr.ExtractCorrelationID(ctx),
					attr.Error(err),
				)
			}
			out = errorResponse{Error: code}
		}

		writeErr := h.write(conn, out)
		h.publishAction(ctx, sess, req, resp, err != nil, received)
		if writeErr != nil {
			h.logger.WarnContext(ctx, "Websocket write failed",
				attr.PlayerID(sess.PlayerID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(writeErr),
			)
			return
		}
	}
}

// keepAlive pings the client until done closes. WriteControl may run
// alongside the read loop's writes.
func (h *Handlers) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// publishAction emits the user.action audit event. Failures are logged only.
func (h *Handlers) publishAction(ctx context.Context, sess *roundservice.Session, req roundservice.Request, resp roundservice.Response, failed bool, received time.Time) {
	if h.publisher == nil {
		return
	}
	event := eventbus.UserAction{
		PlayerID:   sess.PlayerID,
		Action:     string(req.Action),
		Program:    req.Program,
		RoundID:    sess.RoundID(),
		Status:     resp.Status,
		Failed:     failed,
		ReceivedAt: received,
		SentAt:     time.Now().UTC(),
	}
	msg, err := eventbus.NewMessage(ctx, event)
	if err == nil {
		err = h.publisher.Publish(eventbus.TopicUserAction, msg)
	}
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to publish user action",
			attr.PlayerID(sess.PlayerID),
			attr.String("action", string(req.Action)),
			attr.ExtractCorrelationID(ctx),
			attr.Error(err),
		)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, roundservice.ErrProgramNotFound),
		errors.Is(err, roundservice.ErrLeaderboardNotFound),
		errors.Is(err, roundservice.ErrRoundNotFound),
		errors.Is(err, roundservice.ErrGenerationNotFound):
		return CodeNotFound
	case errors.Is(err, roundservice.ErrUnknownAction),
		errors.Is(err, roundservice.ErrInvalidPayload),
		errors.Is(err, roundservice.ErrMissingProgram):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
