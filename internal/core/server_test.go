package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/config"
	"payretry/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, auth Authenticator, guard IPGuard) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.CorsAllowedOrigins = []string{"https://ops.example.com"}
	cfg.Build.Version = "1.2.3"

	s, err := NewServer(cfg, testLogger())
	require.NoError(t, err)
	s.Authenticator = auth
	s.Guard = guard
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			actor, _ := types.GetActor(r.Context())
			Data(w, r, http.StatusOK, map[string]string{
				"type": string(actor.Type),
				"id":   actor.ID,
				"org":  types.GetOrganisationID(r.Context()),
			})
		})
		r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
		r.Post("/webhooks/test", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.With(s.RequireSystem).Post("/machine", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	s.MountRoutes()
	return s
}

func testAuth() *MockAuthenticator {
	return &MockAuthenticator{
		Tokens: map[string]types.Principal{
			"op-token": {Actor: types.AuditActor{Type: types.ActorUser, ID: "ops@example.com"}, OrganisationID: "org_1"},
		},
		Keys: map[string]types.Principal{
			"prk_machine": {Actor: types.AuditActor{Type: types.ActorSystem, ID: "prk_machine"}},
		},
	}
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, testLogger())
	assert.Error(t, err)
	_, err = NewServer(&config.Config{}, nil)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	guard := &MockGuard{}
	s := newTestServer(t, testAuth(), guard)

	t.Run("missing credentials", func(t *testing.T) {
		rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/whoami", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(types.ErrCodeAuthTokenMissing), decodeError(t, rec).Code)
	})

	t.Run("operator token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
		req.Header.Set("Authorization", "bearer op-token")
		rec := do(s, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data":{"type":"USER","id":"ops@example.com","org":"org_1"}}`, rec.Body.String())
	})

	t.Run("machine key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
		req.Header.Set("X-API-Key", "prk_machine")
		rec := do(s, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data":{"type":"SYSTEM","id":"prk_machine","org":""}}`, rec.Body.String())
	})

	t.Run("invalid token records a failure", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
		req.Header.Set("Authorization", "Bearer nope")
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rec := do(s, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(types.ErrCodeAuthTokenInvalid), decodeError(t, rec).Code)
		assert.Contains(t, guard.Failures, "203.0.113.9")
	})

	t.Run("malformed scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
		req.Header.Set("Authorization", "Basic abc")
		assert.Equal(t, http.StatusUnauthorized, do(s, req).Code)
	})

	t.Run("webhooks are public", func(t *testing.T) {
		rec := do(s, httptest.NewRequest(http.MethodPost, "/v1/webhooks/test", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("health is public", func(t *testing.T) {
		rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireSystem(t *testing.T) {
	s := newTestServer(t, testAuth(), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/machine", nil)
	req.Header.Set("Authorization", "Bearer op-token")
	rec := do(s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_machine_only", decodeError(t, rec).Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/machine", nil)
	req.Header.Set("X-API-Key", "prk_machine")
	assert.Equal(t, http.StatusNoContent, do(s, req).Code)
}

func TestIPSecurityMiddleware(t *testing.T) {
	s := newTestServer(t, testAuth(), &MockGuard{Blocked: map[string]bool{"192.0.2.1": true}})

	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-API-Key", "prk_machine")
	rec := do(s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errCodeIPBlocked, decodeError(t, rec).Code)
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := do(s, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get("X-Request-Id"), 32)
}

func TestRecoverer(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/panic", nil)
	req.Header.Set("X-Request-Id", "req-panic")

	rec := do(s, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), detail.Code)
	assert.Equal(t, "req-panic", detail.RequestID)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, testAuth(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/whoami", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := do(s, req)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/whoami", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec = do(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return nil }},
	}
	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"1.2.3","components":{"database":{"status":"healthy"}}}`, rec.Body.String())

	s.HealthProbes = append(s.HealthProbes,
		ProbeFunc{ProbeName: "events", Fn: func(context.Context) error { return errors.New("broker down") }},
		ProbeFunc{ProbeName: "slow", Fn: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		}},
	)
	rec = do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "broker down", body.Components["events"].Message)
	assert.Equal(t, "unhealthy", body.Components["slow"].Status)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	s := newTestServer(t, nil, nil)
	var order []string
	s.Closers = []io.Closer{
		closerFunc(func() error { order = append(order, "db"); return nil }),
		closerFunc(func() error { order = append(order, "amqp"); return errors.New("already closed") }),
	}
	err := s.Shutdown(context.Background())
	assert.ErrorContains(t, err, "already closed")
	assert.Equal(t, []string{"amqp", "db"}, order)
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("BEARER  abc "))
	assert.Empty(t, extractBearerToken("Bearer"))
	assert.Empty(t, extractBearerToken("Token abc"))
}

func TestEscapeJSON(t *testing.T) {
	assert.Equal(t, `a\"b\\c\n`, escapeJSON("a\"b\\c\n"))
	assert.True(t, strings.HasPrefix(escapeJSON("plain"), "plain"))
}
