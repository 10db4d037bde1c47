package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payretry/internal/core"
	"payretry/internal/policy"
	"payretry/internal/types"
)

// PolicyService is the Policy Store surface used by PolicyHandler.
type PolicyService interface {
	CreateRetryPolicy(ctx context.Context, req policy.CreateRetryPolicyRequest) (*types.RetryPolicy, error)
	UpdateRetryPolicy(ctx context.Context, id string, req policy.UpdateRetryPolicyRequest) (*types.RetryPolicy, error)
	GetRetryPolicy(ctx context.Context, id string) (*types.RetryPolicy, error)
	ListRetryPolicies(ctx context.Context, f types.PolicyFilter) ([]*types.RetryPolicy, types.PageInfo, error)
	DeleteRetryPolicy(ctx context.Context, id string) error

	CreateReminderPolicy(ctx context.Context, req policy.CreateReminderPolicyRequest) (*types.ReminderPolicy, error)
	GetReminderPolicy(ctx context.Context, id string) (*types.ReminderPolicy, error)
	ListReminderPolicies(ctx context.Context, f types.PolicyFilter) ([]*types.ReminderPolicy, types.PageInfo, error)
}

// PolicyHandler serves retry and reminder policy management.
type PolicyHandler struct {
	policies  PolicyService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPolicyHandler creates a PolicyHandler.
func NewPolicyHandler(policies PolicyService, v *core.Validator, l *slog.Logger) *PolicyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PolicyHandler{policies: policies, validator: v, logger: l}
}

// RegisterRoutes mounts the policy routes.
func (h *PolicyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/retry-policies", func(r chi.Router) {
		r.Get("/", h.ListRetryPolicies)
		r.Post("/", h.CreateRetryPolicy)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRetryPolicy)
			r.Patch("/", h.UpdateRetryPolicy)
			r.Delete("/", h.DeleteRetryPolicy)
		})
	})
	r.Route("/reminder-policies", func(r chi.Router) {
		r.Get("/", h.ListReminderPolicies)
		r.Post("/", h.CreateReminderPolicy)
		r.Get("/{id}", h.GetReminderPolicy)
	})
}

func (h *PolicyHandler) policyFilter(r *http.Request) (types.PolicyFilter, error) {
	orgID, err := requireOrganisation(r)
	if err != nil {
		return types.PolicyFilter{}, err
	}
	activeOnly, err := core.BoolParam(r, "active_only")
	if err != nil {
		return types.PolicyFilter{}, err
	}
	return types.PolicyFilter{
		OrganisationID: orgID,
		ActiveOnly:     activeOnly != nil && *activeOnly,
		Page:           core.PageFromQuery(r),
	}, nil
}

// ListRetryPolicies handles GET /retry-policies.
func (h *PolicyHandler) ListRetryPolicies(w http.ResponseWriter, r *http.Request) {
	f, err := h.policyFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	items, page, err := h.policies.ListRetryPolicies(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, items, page)
}

// CreateRetryPolicy handles POST /retry-policies.
func (h *PolicyHandler) CreateRetryPolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.CreateRetryPolicyRequest
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

	p, err := h.policies.CreateRetryPolicy(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "retry policy created",
		"policy_id", p.ID,
		"organisation_id", p.OrganisationID,
	)
	core.Data(w, r, http.StatusCreated, p)
}

// GetRetryPolicy handles GET /retry-policies/{id}.
func (h *PolicyHandler) GetRetryPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	p, err := h.policies.GetRetryPolicy(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, p)
}

// UpdateRetryPolicy handles PATCH /retry-policies/{id}. Policies already
// referenced by a schedule are immutable and answer 409.
func (h *PolicyHandler) UpdateRetryPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	var req policy.UpdateRetryPolicyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	p, err := h.policies.UpdateRetryPolicy(r.Context(), id, req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, p)
}

// DeleteRetryPolicy handles DELETE /retry-policies/{id}.
func (h *PolicyHandler) DeleteRetryPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.policies.DeleteRetryPolicy(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "retry policy deleted", "policy_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListReminderPolicies handles GET /reminder-policies.
func (h *PolicyHandler) ListReminderPolicies(w http.ResponseWriter, r *http.Request) {
	f, err := h.policyFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	items, page, err := h.policies.ListReminderPolicies(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, items, page)
}

// CreateReminderPolicy handles POST /reminder-policies.
func (h *PolicyHandler) CreateReminderPolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.CreateReminderPolicyRequest
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

	p, err := h.policies.CreateReminderPolicy(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "reminder policy created",
		"policy_id", p.ID,
		"organisation_id", p.OrganisationID,
	)
	core.Data(w, r, http.StatusCreated, p)
}

// GetReminderPolicy handles GET /reminder-policies/{id}.
func (h *PolicyHandler) GetReminderPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	p, err := h.policies.GetReminderPolicy(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, p)
}
