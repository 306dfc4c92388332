package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	authhandlers "github.com/Black-And-White-Club/avery/app/modules/auth/infrastructure/handlers"
	pipelinehandlers "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/handlers"
	roundhandlers "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/handlers"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router mounts the round websocket, the task polling endpoint, health and
// metrics.
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(authhandlers.CORSMiddleware(app.Config.HTTP.AllowedOrigins))

	roundhandlers.NewHandlers(
		app.RoundService,
		app.EventBus.Publisher(),
		app.Tokens,
		app.Config.HTTP.AllowedOrigins,
		app.logger,
	).Routes(r)

	limiter := authhandlers.NewIPRateLimiter(20, 40)
	r.Group(func(r chi.Router) {
		r.Use(authhandlers.RateLimitMiddleware(limiter))
		pipelinehandlers.NewHandlers(app.PipelineService, app.Queue, app.logger).Routes(r)
	})

	r.Get("/healthz", app.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(app.Observability.Registry, promhttp.HandlerOpts{}))
	return r
}

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	EventBus string            `json:"event_bus"`
}

func (app *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}, EventBus: app.EventBus.Transport()}
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			app.logger.WarnContext(ctx, "Health check failed", attr.String("check", name), attr.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			return
		}
		resp.Checks[name] = "ok"
	}
	check("database", app.DB.Ping)
	check("queue", app.Queue.HealthCheck)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
