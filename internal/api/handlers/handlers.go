// Package handlers contains the HTTP handlers of the /v1 admin and ingress
// API: policy management, rejection ingress, schedule operations, job runs,
// reminders, provider webhooks and the audit log.
//
// Every handler depends on a small locally declared service interface so
// tests can substitute fakes; cmd/api wires the concrete engine services.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payretry/internal/types"
)

// maxWebhookBodySize bounds provider callback payloads.
const maxWebhookBodySize = 64 * 1024

// listOrganisation returns the organisation a list query targets: the
// organisation_id query parameter, defaulting to the caller's own. An empty
// result is only possible for unscoped machine callers.
func listOrganisation(r *http.Request) (string, error) {
	orgID := r.URL.Query().Get("organisation_id")
	if orgID == "" {
		orgID = types.GetOrganisationID(r.Context())
	}
	if err := types.CheckOrganisation(r.Context(), orgID); err != nil {
		return "", err
	}
	return orgID, nil
}

// requireOrganisation is listOrganisation for queries that only make sense
// within one organisation.
func requireOrganisation(r *http.Request) (string, error) {
	orgID, err := listOrganisation(r)
	if err != nil {
		return "", err
	}
	if orgID == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "organisation_id is required", nil)
	}
	return orgID, nil
}

// defaultOrganisation fills an omitted organisation in a request body with
// the caller's, then checks the caller may act on it.
func defaultOrganisation(r *http.Request, orgID *string) error {
	if *orgID == "" {
		*orgID = types.GetOrganisationID(r.Context())
	}
	return types.CheckOrganisation(r.Context(), *orgID)
}

func pathID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "id is required", nil)
	}
	return id, nil
}

// isServerError reports whether err would be answered with a 5xx, meaning a
// provider should redeliver the callback.
func isServerError(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return true
	}
	return appErr.HTTPStatus() >= http.StatusInternalServerError
}
