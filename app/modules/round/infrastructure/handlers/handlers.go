package roundhandlers

import (
	"log/slog"
	"net/http"
	"slices"

	authhandlers "github.com/Black-And-White-Club/avery/app/modules/auth/infrastructure/handlers"
	authjwt "github.com/Black-And-White-Club/avery/app/modules/auth/infrastructure/jwt"
	roundservice "github.com/Black-And-White-Club/avery/app/modules/round/application"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Handlers serves the round session protocol over websockets.
type Handlers struct {
	service   roundservice.Service
	publisher message.Publisher
	tokens    authjwt.Provider
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandlers builds the websocket handlers. A nil publisher disables the
// user.action audit events. An empty allowedOrigins accepts any origin.
func NewHandlers(
	service roundservice.Service,
	publisher message.Publisher,
	tokens authjwt.Provider,
	allowedOrigins []string,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		service:   service,
		publisher: publisher,
		tokens:    tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger,
	}
}

// Routes mounts the session endpoint on r behind player authentication.
func (h *Handlers) Routes(r chi.Router) {
	r.With(authhandlers.PlayerAuth(h.tokens)).Get("/ws/round", h.ServeSession)
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
