package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"payretry/internal/core"
	"payretry/internal/schedule"
	"payretry/internal/types"
)

// ScheduleService is the Schedule Manager surface used by ScheduleHandler.
type ScheduleService interface {
	HandlePaymentRejected(ctx context.Context, evt types.RejectionEvent) (*schedule.IngestResult, error)
	CheckEligibility(ctx context.Context, evt types.RejectionEvent) (*schedule.EligibilityCheck, error)
	Get(ctx context.Context, id string) (*types.RetrySchedule, error)
	List(ctx context.Context, f types.ScheduleFilter) ([]*types.RetrySchedule, types.PageInfo, error)
	Cancel(ctx context.Context, scheduleID, reason string) (*types.RetrySchedule, error)
	Replan(ctx context.Context, scheduleID string, date time.Time, reason string) (*types.RetrySchedule, error)
	MarkResolved(ctx context.Context, scheduleID, reason string) (*types.RetrySchedule, error)
	Statistics(ctx context.Context, orgID string) (*types.ScheduleStatistics, error)
}

// AttemptService is the Attempt Executor surface used by ScheduleHandler.
type AttemptService interface {
	Get(ctx context.Context, id string) (*types.RetryAttempt, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]*types.RetryAttempt, error)
}

// CancelScheduleRequest is the body of POST /schedules/{id}/cancel.
type CancelScheduleRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ReplanScheduleRequest is the body of POST /schedules/{id}/replan.
type ReplanScheduleRequest struct {
	NextRetryDate time.Time `json:"next_retry_date" validate:"required"`
	Reason        string    `json:"reason,omitempty" validate:"max=500"`
}

// ResolveScheduleRequest is the body of POST /schedules/{id}/resolve.
type ResolveScheduleRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// ScheduleHandler serves rejection ingress and schedule operations.
type ScheduleHandler struct {
	schedules ScheduleService
	attempts  AttemptService
	validator *core.Validator
	logger    *slog.Logger
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(schedules ScheduleService, attempts AttemptService, v *core.Validator, l *slog.Logger) *ScheduleHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ScheduleHandler{schedules: schedules, attempts: attempts, validator: v, logger: l}
}

// RegisterRoutes mounts the ingress, schedule and attempt routes.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Post("/rejections", h.IngestRejection)
	r.Post("/eligibility/check", h.CheckEligibility)
	r.Get("/statistics", h.Statistics)

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/cancel", h.Cancel)
			r.Post("/replan", h.Replan)
			r.Post("/resolve", h.Resolve)
			r.Get("/attempts", h.ListAttempts)
		})
	})
	r.Get("/attempts/{id}", h.GetAttempt)
}

func (h *ScheduleHandler) decodeRejection(w http.ResponseWriter, r *http.Request) (types.RejectionEvent, error) {
	var evt types.RejectionEvent
	if err := core.DecodeJSON(w, r, &evt); err != nil {
		return evt, err
	}
	if err := defaultOrganisation(r, &evt.OrganisationID); err != nil {
		return evt, err
	}
	return evt, h.validator.ValidateStruct(evt)
}

// IngestRejection handles POST /rejections. A new schedule answers 201; a
// rejection already on record answers 200 with processed=false.
func (h *ScheduleHandler) IngestRejection(w http.ResponseWriter, r *http.Request) {
	evt, err := h.decodeRejection(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.schedules.HandlePaymentRejected(r.Context(), evt)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "payment rejection ingested",
		"schedule_id", res.ScheduleID,
		"organisation_id", evt.OrganisationID,
		"original_payment_id", evt.OriginalPaymentID,
		"eligibility", res.Eligibility,
		"processed", res.Processed,
	)

	status := http.StatusOK
	if res.Processed {
		status = http.StatusCreated
	}
	core.Data(w, r, status, res)
}

// CheckEligibility handles POST /eligibility/check. Nothing is persisted.
func (h *ScheduleHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	evt, err := h.decodeRejection(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	res, err := h.schedules.CheckEligibility(r.Context(), evt)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// List handles GET /schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := listOrganisation(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	resolved, err := core.BoolParam(r, "resolved")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	q := r.URL.Query()
	eligibility := types.Eligibility(q.Get("eligibility"))
	if eligibility != "" && !eligibility.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput,
			"unknown eligibility", nil, map[string]any{"eligibility": eligibility}))
		return
	}

	items, page, err := h.schedules.List(r.Context(), types.ScheduleFilter{
		OrganisationID: orgID,
		Eligibility:    eligibility,
		IsResolved:     resolved,
		ClientID:       q.Get("client_id"),
		SubscriptionID: q.Get("subscription_id"),
		Page:           core.PageFromQuery(r),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, items, page)
}

// Get handles GET /schedules/{id}.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	s, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, s)
}

// Cancel handles POST /schedules/{id}/cancel.
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	var req CancelScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	s, err := h.schedules.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, s)
}

// Replan handles POST /schedules/{id}/replan.
func (h *ScheduleHandler) Replan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	var req ReplanScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	s, err := h.schedules.Replan(r.Context(), id, req.NextRetryDate, req.Reason)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, s)
}

// Resolve handles POST /schedules/{id}/resolve, for payments settled
// through another channel.
func (h *ScheduleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	var req ResolveScheduleRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	s, err := h.schedules.MarkResolved(r.Context(), id, req.Reason)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, s)
}

// ListAttempts handles GET /schedules/{id}/attempts.
func (h *ScheduleHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	items, err := h.attempts.ListBySchedule(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, items, types.PageInfo{})
}

// GetAttempt handles GET /attempts/{id}.
func (h *ScheduleHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	a, err := h.attempts.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, a)
}

// Statistics handles GET /statistics.
func (h *ScheduleHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	orgID, err := requireOrganisation(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	stats, err := h.schedules.Statistics(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, stats)
}
