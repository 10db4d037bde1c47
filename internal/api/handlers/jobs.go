package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payretry/internal/core"
	"payretry/internal/jobs"
	"payretry/internal/types"
)

// JobService is the Job Runner surface used by JobHandler.
type JobService interface {
	RunForDate(ctx context.Context, req jobs.RunRequest) (*types.RetryJob, error)
	Get(ctx context.Context, id string) (*types.RetryJob, error)
	List(ctx context.Context, f types.JobFilter) ([]*types.RetryJob, types.PageInfo, error)
	Metrics(ctx context.Context, orgID string, from, to time.Time) (*types.JobMetrics, error)
}

// defaultMetricsWindow is the range /jobs/metrics covers without a from
// parameter.
const defaultMetricsWindow = 30 * 24 * time.Hour

// JobHandler serves manual job runs and job queries.
type JobHandler struct {
	jobs      JobService
	validator *core.Validator
	logger    *slog.Logger
	clock     types.Clock
}

// NewJobHandler creates a JobHandler. clock may be nil.
func NewJobHandler(jobs JobService, v *core.Validator, l *slog.Logger, clock types.Clock) *JobHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobHandler{jobs: jobs, validator: v, logger: l, clock: clock}
}

// RegisterRoutes mounts the job routes.
func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/run", h.Run)
		r.Get("/metrics", h.Metrics)
		r.Get("/{id}", h.Get)
	})
}

// Run handles POST /jobs/run. Runs through the API are always manual and
// attributed to the caller. A run that already happened under the same
// idempotency key returns the existing job.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req jobs.RunRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := defaultOrganisation(r, &req.OrganisationID); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.IsManual = true
	if actor, ok := types.GetActor(r.Context()); ok {
		req.TriggeredBy = actor.ID
	}

	job, err := h.jobs.RunForDate(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "manual retry job run",
		"job_id", job.ID,
		"organisation_id", job.OrganisationID,
		"status", job.Status,
		"dry_run", req.DryRun,
	)
	core.Data(w, r, http.StatusOK, job)
}

// Get handles GET /jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, job)
}

// List handles GET /jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := listOrganisation(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	status := types.JobStatus(r.URL.Query().Get("status"))

	items, page, err := h.jobs.List(r.Context(), types.JobFilter{
		OrganisationID: orgID,
		Status:         status,
		From:           from,
		To:             to,
		Page:           core.PageFromQuery(r),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, items, page)
}

// Metrics handles GET /jobs/metrics?from=&to=. Dates are inclusive; the
// default window is the last 30 days up to today.
func (h *JobHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	orgID, err := requireOrganisation(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if to.IsZero() {
		to = h.clock.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	}
	if from.IsZero() {
		from = to.Add(-defaultMetricsWindow)
	}

	m, err := h.jobs.Metrics(r.Context(), orgID, from, to)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, m)
}

// dateRange reads inclusive from/to dates and returns the half-open range
// [from, to+1d) the repositories expect.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := core.DateParam(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := core.DateParam(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidInput, "from must not be after to", nil)
	}
	return from, to, nil
}
