package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payretry/internal/core"
	"payretry/internal/reminders"
	"payretry/internal/types"
)

// ReminderService is the Reminder Engine surface used by the reminder and
// delivery webhook handlers.
type ReminderService interface {
	Get(ctx context.Context, id string) (*types.Reminder, error)
	List(ctx context.Context, f types.ReminderFilter) ([]*types.Reminder, types.PageInfo, error)
	SendNow(ctx context.Context, id string) (*types.Reminder, error)
	HandleDeliveryStatus(ctx context.Context, u reminders.DeliveryUpdate) (*types.Reminder, error)
}

// ReminderHandler serves reminder queries and manual sends.
type ReminderHandler struct {
	reminders ReminderService
	logger    *slog.Logger
}

// NewReminderHandler creates a ReminderHandler.
func NewReminderHandler(reminders ReminderService, l *slog.Logger) *ReminderHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ReminderHandler{reminders: reminders, logger: l}
}

// RegisterRoutes mounts the reminder routes.
func (h *ReminderHandler) RegisterRoutes(r chi.Router) {
	r.Route("/reminders", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/send", h.Send)
	})
}

// List handles GET /reminders.
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := listOrganisation(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	q := r.URL.Query()
	status := types.ReminderStatus(q.Get("status"))
	if status != "" && !validReminderStatus(status) {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput,
			"unknown reminder status", nil, map[string]any{"status": status}))
		return
	}

	items, page, err := h.reminders.List(r.Context(), types.ReminderFilter{
		OrganisationID:  orgID,
		RetryScheduleID: q.Get("schedule_id"),
		ClientID:        q.Get("client_id"),
		Status:          status,
		Channel:         types.ReminderChannel(q.Get("channel")),
		Page:            core.PageFromQuery(r),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.List(w, r, items, page)
}

// Get handles GET /reminders/{id}.
func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	rem, err := h.reminders.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, rem)
}

// Send handles POST /reminders/{id}/send. Provider failures are recorded on
// the reminder, which is returned with status REMINDER_FAILED.
func (h *ReminderHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	rem, err := h.reminders.SendNow(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "manual reminder send",
		"reminder_id", rem.ID,
		"channel", rem.Channel,
		"status", rem.Status,
	)
	core.Data(w, r, http.StatusOK, rem)
}

func validReminderStatus(s types.ReminderStatus) bool {
	for _, known := range types.ReminderStatuses() {
		if known == s {
			return true
		}
	}
	return false
}
