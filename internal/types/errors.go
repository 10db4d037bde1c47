package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and engine code use these instead of
// hardcoded strings; the prefix decides the HTTP status.
const (
	// Validation (400)
	ErrCodeValidationMissingField      ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidInput      ErrorCode = "validation_invalid_input"
	ErrCodeValidationInvalidTimezone   ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationInvalidCutoff     ErrorCode = "validation_invalid_cutoff_time"
	ErrCodeValidationInvalidDelays     ErrorCode = "validation_invalid_retry_delays"
	ErrCodeValidationInvalidWindow     ErrorCode = "validation_invalid_time_window"
	ErrCodeValidationInvalidTransition ErrorCode = "validation_invalid_state_transition"
	ErrCodeValidationReplanDate        ErrorCode = "validation_replan_date_in_past"

	// Auth (401) / Permission (403)
	ErrCodeAuthTokenMissing      ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid      ErrorCode = "auth_token_invalid"
	ErrCodeAuthSignatureInvalid  ErrorCode = "auth_signature_invalid"
	ErrCodePermissionOrgMismatch ErrorCode = "permission_organisation_mismatch"

	// Not Found (404)
	ErrCodeNotFoundRetryPolicy    ErrorCode = "not_found_retry_policy"
	ErrCodeNotFoundReminderPolicy ErrorCode = "not_found_reminder_policy"
	ErrCodeNotFoundSchedule       ErrorCode = "not_found_retry_schedule"
	ErrCodeNotFoundAttempt        ErrorCode = "not_found_retry_attempt"
	ErrCodeNotFoundJob            ErrorCode = "not_found_retry_job"
	ErrCodeNotFoundReminder       ErrorCode = "not_found_reminder"

	// Conflict (409)
	ErrCodeConflictDuplicate       ErrorCode = "conflict_duplicate"
	ErrCodeConflictAlreadyResolved ErrorCode = "conflict_schedule_already_resolved"
	ErrCodeConflictPolicyInUse     ErrorCode = "conflict_policy_in_use"
	ErrCodeConflictJobLocked       ErrorCode = "conflict_job_locked"

	// Policy configuration (422)
	ErrCodePolicyNotResolved ErrorCode = "policy_not_resolved"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalSerialization ErrorCode = "internal_serialization_error"
	ErrCodeUpstreamPayment       ErrorCode = "upstream_payment_unavailable"
	ErrCodeUpstreamNotification  ErrorCode = "upstream_notification_unavailable"
	ErrCodeUpstreamTimeout       ErrorCode = "upstream_timeout"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamRejected      ErrorCode = "upstream_request_rejected"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "policy_"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Engine and handler errors
// are expressed as AppError so the API layer can map them consistently.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound reports whether err carries any not_found_* code.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && strings.HasPrefix(string(appErr.Code), "not_found_")
}
