package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInvalidCutoff,
		Message: "cutoff must be HH:MM",
	}

	expected := "validation_invalid_cutoff_time: cutoff must be HH:MM"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset")
	appErr := NewAppError(ErrCodeInternalDB, "failed to load schedule", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the wrapped error")
	}
}

func TestAppErrorErrorsAsThroughWrapping(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundSchedule, "schedule not found", nil)
	wrapped := fmt.Errorf("advance: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should extract AppError from the chain")
	}
	if target.Code != ErrCodeNotFoundSchedule {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeNotFoundSchedule)
	}
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should be true for not_found_* codes")
	}
	if !HasCode(wrapped, ErrCodeNotFoundSchedule) {
		t.Error("HasCode should match the wrapped code")
	}
	if HasCode(errors.New("plain"), ErrCodeNotFoundSchedule) {
		t.Error("HasCode should be false for non-AppErrors")
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidDelays, http.StatusBadRequest},
		{ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{ErrCodePermissionOrgMismatch, http.StatusForbidden},
		{ErrCodeNotFoundJob, http.StatusNotFound},
		{ErrCodeConflictAlreadyResolved, http.StatusConflict},
		{ErrCodePolicyNotResolved, http.StatusUnprocessableEntity},
		{ErrCodeUpstreamPayment, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorWithDetailsDoesNotMutateOriginal(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeValidationInvalidInput, "bad", nil, map[string]any{"a": 1})
	derived := base.WithDetails(map[string]any{"b": 2})

	if len(base.Details) != 1 {
		t.Errorf("original details mutated: %v", base.Details)
	}
	if derived.Details["a"] != 1 || derived.Details["b"] != 2 {
		t.Errorf("merged details = %v", derived.Details)
	}
}
