package pipelinehandlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinequeue "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/queue"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/go-chi/chi/v5"
)

// JobLister reads the queue's own record of a generation's jobs.
type JobLister interface {
	ListJobs(ctx context.Context, generationID int64) ([]pipelinequeue.JobInfo, error)
}

// Handlers serves the polling endpoint.
type Handlers struct {
	service pipelineservice.Service
	jobs    JobLister
	logger  *slog.Logger
}

func NewHandlers(service pipelineservice.Service, jobs JobLister, logger *slog.Logger) *Handlers {
	return &Handlers{service: service, jobs: jobs, logger: logger}
}

// tasksResponse is the poll result plus every queue job of the generation,
// including retries and finished jobs whose task record is gone.
type tasksResponse struct {
	pipelineservice.PollResult
	Jobs []pipelinequeue.JobInfo `json:"jobs"`
}

// Routes mounts the pipeline endpoints on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/tasks/generation/{generationID}", h.GetGenerationTasks)
}

// GetGenerationTasks reports the pipeline status of a generation, its
// outstanding task records and the state of its queue jobs. It never blocks on
// the pipeline.
func (h *Handlers) GetGenerationTasks(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "generationID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid generation id", http.StatusBadRequest)
		return
	}

	res, err := h.service.PollStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, pipelineservice.ErrGenerationNotFound) {
			http.Error(w, "Generation not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to poll generation",
			attr.GenerationID(id),
			attr.Error(err),
		)
		http.Error(w, "Failed to poll generation", http.StatusInternalServerError)
		return
	}

	resp := tasksResponse{PollResult: res, Jobs: []pipelinequeue.JobInfo{}}
	if h.jobs != nil {
		jobs, err := h.jobs.ListJobs(r.Context(), id)
		if err != nil {
			h.logger.WarnContext(r.Context(), "Failed to list queue jobs",
				attr.GenerationID(id),
				attr.Error(err),
			)
		} else if jobs != nil {
			resp.Jobs = jobs
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to encode response", attr.Error(err))
	}
}
