package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payretry/internal/types"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// APIResponse is the envelope for single-object responses.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse is the envelope for every error response.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON marshals data with the given status. Marshal failures become a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalSerialization),
			Message:   "failed to marshal response",
			RequestID: types.GetRequestID(r.Context()),
		}})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Data writes {"data": v}.
func Data(w http.ResponseWriter, r *http.Request, status int, v any) {
	JSON(w, r, status, APIResponse{Data: v})
}

// List writes a paginated list envelope.
func List[T any](w http.ResponseWriter, r *http.Request, items []T, page types.PageInfo) {
	if items == nil {
		items = []T{}
	}
	JSON(w, r, http.StatusOK, types.ListResponse[T]{Data: items, PageInfo: page})
}

// Error writes err as an error envelope. AppErrors keep their code, message
// and details; anything else is reported as an opaque 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if status := appErr.HTTPStatus(); status >= 500 {
			if logger := types.LoggerFromContext(r.Context()); logger != nil {
				logger.Error("request failed", "code", appErr.Code, "error", appErr.Error())
			}
		}
		JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{Error: ErrorDetail{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: requestID,
		}})
		return
	}

	if logger := types.LoggerFromContext(r.Context()); logger != nil {
		logger.Error("request failed", "error", err)
	}
	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{Error: ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: requestID,
	}})
}

const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

// DecodeJSON strictly decodes a single JSON object of at most 1 MB into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxBytesErr):
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not exceed 1MB", err)
	case errors.As(err, &syntaxErr):
		return types.NewAppError(errCodeValidationInvalidJSON, "malformed JSON in request body", err)
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return types.NewAppError(errCodeValidationInvalidJSON,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not be empty", err)
	}
	return types.NewAppError(errCodeValidationInvalidJSON, "invalid JSON in request body", err)
}

// PageFromQuery reads ?limit= and ?cursor=.
func PageFromQuery(r *http.Request) types.Page {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return types.PageFromCursor(limit, r.URL.Query().Get("cursor"))
}

// DateParam parses a YYYY-MM-DD query parameter as midnight UTC. A missing
// parameter returns the zero time.
func DateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput,
			name+" must be a YYYY-MM-DD date", err, map[string]any{"parameter": name})
	}
	return t, nil
}

// BoolParam parses an optional boolean query parameter.
func BoolParam(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput,
			name+" must be true or false", err, map[string]any{"parameter": name})
	}
	return &b, nil
}
