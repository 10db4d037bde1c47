package core

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"payretry/internal/types"
)

const errCodeIPBlocked = "permission_ip_blocked"

// IPSecurityMiddleware rejects IPs with too many failed authentications
// before any credential is checked.
func (s *Server) IPSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Guard == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := extractClientIP(r)
		if s.Guard.IsIPBlocked(r.Context(), ip) {
			s.Logger.WarnContext(r.Context(), "blocked request from IP",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			JSON(w, r, http.StatusForbidden, APIErrorResponse{Error: ErrorDetail{
				Code:      errCodeIPBlocked,
				Message:   "Access denied",
				RequestID: types.GetRequestID(r.Context()),
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientIP prefers the first X-Forwarded-For entry (API Gateway and
// load balancers append to it) and falls back to RemoteAddr without port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
