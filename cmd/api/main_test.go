package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/auth"
	"payretry/internal/config"
	"payretry/internal/core"
	"payretry/internal/engine"
)

const testJWTSecret = "test-secret-test-secret-test-secret!"

type apiFixture struct {
	srv    *core.Server
	apiKey string
	token  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	key, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "local",
		LogLevel:    "error",
		Server:      config.ServerConfig{Port: "0", RequestTimeout: 5 * time.Second, Mode: "http"},
		Database:    config.DatabaseConfig{Driver: "memory"},
		Payments:    config.PaymentsConfig{Provider: "stub", SubmitTimeout: 5 * time.Second},
		Notifications: config.NotificationsConfig{
			EmailProvider: "stub",
		},
		Engine: config.EngineConfig{
			DefaultTimezone:   "Europe/Paris",
			DefaultCutoffTime: "10:00",
			WorkerPoolSize:    2,
			OrgConcurrency:    1,
			ReminderBatchSize: 10,
			JobLockTTL:        time.Minute,
			DueScheduleLimit:  100,
		},
		Events: config.EventsConfig{Backend: "none"},
		Security: config.SecurityConfig{
			APIKeyHash:         config.SecretString(hash),
			JWTSecret:          testJWTSecret,
			JWTIssuer:          "payretry",
			DeliveryWebhookKey: "whk_test",
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := engine.Build(context.Background(), cfg, logger)
	require.NoError(t, err)
	srv, err := newServer(cfg, svc, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	token, err := auth.NewTokenService(testJWTSecret, "payretry", time.Hour, nil).Issue("ops@acme.test", "org_1")
	require.NoError(t, err)

	return &apiFixture{srv: srv, apiKey: key, token: token}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/retry-policies", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_token_missing", errorCodeOf(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/retry-policies", "", map[string]string{"X-API-Key": "prk_wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorTokenScopesToOrganisation(t *testing.T) {
	f := newAPIFixture(t)
	bearer := map[string]string{"Authorization": "Bearer " + f.token}

	rec := f.do(t, http.MethodPost, "/v1/retry-policies", `{"name":"Standard","is_default":true}`, bearer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/retry-policies", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/retry-policies?organisation_id=org_2", "", bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMachineKeyIngestsRejections(t *testing.T) {
	f := newAPIFixture(t)
	machine := map[string]string{"X-API-Key": f.apiKey}

	rec := f.do(t, http.MethodPost, "/v1/retry-policies",
		`{"organisation_id":"org_1","name":"Default","is_default":true}`, machine)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := `{"organisation_id":"org_1","original_payment_id":"pay_1","subscription_id":"sub_1",
		"client_id":"cli_1","raw_rejection_code":"MS02","rejected_at":"2026-03-02T08:00:00Z","amount_cents":4990}`
	rec = f.do(t, http.MethodPost, "/v1/rejections", body, machine)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/rejections", body, machine)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestWebhooksBypassAdminAuth(t *testing.T) {
	f := newAPIFixture(t)

	// Reaches the handler, which checks its own key.
	rec := f.do(t, http.MethodPost, "/v1/webhooks/delivery-status", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_token_invalid", errorCodeOf(t, rec))

	rec = f.do(t, http.MethodPost, "/v1/webhooks/delivery-status",
		`{"provider_message_id":"msg_unknown","status":"delivered"}`, map[string]string{"X-API-Key": "whk_test"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accepted":false`)
}

func TestGatewayHandler(t *testing.T) {
	f := newAPIFixture(t)
	h := newGatewayHandler(f.srv.Handler())

	resp, err := h(context.Background(), events.APIGatewayV2HTTPRequest{
		RawPath: "/health",
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: "req-123",
			HTTP:      events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: http.MethodGet, SourceIP: "203.0.113.7"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, "healthy")
	assert.Equal(t, "req-123", resp.Headers["X-Request-Id"])

	resp, err = h(context.Background(), events.APIGatewayV2HTTPRequest{
		RawPath:         "/v1/retry-policies",
		Headers:         map[string]string{"authorization": "Bearer " + f.token, "content-type": "application/json"},
		Body:            base64.StdEncoding.EncodeToString([]byte(`{"name":"Gateway"}`)),
		IsBase64Encoded: true,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: http.MethodPost, SourceIP: "203.0.113.7"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)

	_, err = h(context.Background(), events.APIGatewayV2HTTPRequest{
		RawPath:         "/health",
		Body:            "%%%",
		IsBase64Encoded: true,
	})
	assert.Error(t, err)
}

func TestIsLambdaEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")
	assert.True(t, isLambdaEnvironment())
}
