package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"payretry/internal/types"
)

// authPublicPrefixes bypass AuthMiddleware. Webhooks authenticate with a
// provider signature or their own key inside the handler.
var authPublicPrefixes = []string{
	"/health",
	"/v1/webhooks/",
}

// AuthMiddleware resolves the caller from X-API-Key (machine callers) or an
// Authorization bearer token (operators), and stores the principal in the
// request context. A nil Authenticator disables authentication.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		var (
			principal *types.Principal
			err       error
		)
		switch {
		case r.Header.Get("X-API-Key") != "":
			principal, err = s.Authenticator.ResolveAPIKey(r.Context(), r.Header.Get("X-API-Key"))
		case r.Header.Get("Authorization") != "":
			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
				return
			}
			principal, err = s.Authenticator.ResolveBearer(r.Context(), token)
		default:
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header or X-API-Key is required")
			return
		}

		if err != nil || principal == nil {
			s.handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(types.WithPrincipal(r.Context(), *principal)))
	})
}

func isPublicPath(path string) bool {
	for _, prefix := range authPublicPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractBearerToken returns the token of a "Bearer <token>" header; the
// scheme is case-insensitive per RFC 7235.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if s.Guard != nil {
		s.Guard.RecordFailure(r.Context(), extractClientIP(r))
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		s.Logger.WarnContext(r.Context(), "authentication failed",
			slog.String("path", r.URL.Path),
			slog.String("error_code", string(appErr.Code)),
		)
		s.writeAuthError(w, r, appErr.Code, appErr.Message)
		return
	}

	if err != nil {
		s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   message,
		RequestID: types.GetRequestID(r.Context()),
	}})
}

// RequireSystem restricts a route to machine callers.
func (s *Server) RequireSystem(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}
		actor, ok := types.GetActor(r.Context())
		if !ok || actor.Type != types.ActorSystem {
			JSON(w, r, http.StatusForbidden, APIErrorResponse{Error: ErrorDetail{
				Code:      string(errCodePermissionMachineOnly),
				Message:   "this operation is reserved to machine callers",
				RequestID: types.GetRequestID(r.Context()),
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

const errCodePermissionMachineOnly types.ErrorCode = "permission_machine_only"
