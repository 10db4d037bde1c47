package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"payretry/internal/core"
	"payretry/internal/types"
)

// AuditQuerier is the Audit Log query surface.
type AuditQuerier interface {
	List(ctx context.Context, f types.AuditFilter) ([]*types.AuditEntry, types.PageInfo, error)
}

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  AuditQuerier
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditQuerier, l *slog.Logger) *AuditHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuditHandler{audit: audit, logger: l}
}

// RegisterRoutes mounts the audit route.
func (h *AuditHandler) RegisterRoutes(r chi.Router) {
	r.Get("/audit-logs", h.List)
}

// List handles GET /audit-logs. The cursor is the sequence number of the
// last entry of the previous page.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	f := types.AuditFilter{
		OrganisationID:  orgID,
		EntityType:      types.AuditEntityType(q.Get("entity_type")),
		EntityID:        q.Get("entity_id"),
		RetryScheduleID: q.Get("schedule_id"),
		ActorType:       types.AuditActorType(q.Get("actor_type")),
		From:            from,
		To:              to,
	}
	if raw := q.Get("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "limit must be an integer", err))
			return
		}
	}
	if raw := q.Get("cursor"); raw != "" {
		if f.AfterSequence, err = strconv.ParseInt(raw, 10, 64); err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "invalid cursor", err))
			return
		}
	}

	items, page, err := h.audit.List(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, items, page)
}
