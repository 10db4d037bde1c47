package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/audit"
	"payretry/internal/core"
	"payretry/internal/memstore"
	"payretry/internal/policy"
	"payretry/internal/schedule"
	"payretry/internal/types"
)

// =============================================================================
// Test environment
// =============================================================================

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

var (
	operator = types.Principal{
		Actor:          types.AuditActor{Type: types.ActorUser, ID: "ops@acme.test"},
		OrganisationID: "org_1",
	}
	otherOperator = types.Principal{
		Actor:          types.AuditActor{Type: types.ActorUser, ID: "ops@other.test"},
		OrganisationID: "org_2",
	}
	machine = types.Principal{Actor: types.AuditActor{Type: types.ActorSystem, ID: "prk_ingress1"}}
)

// fakeAttempts serves attempts from a map keyed by id.
type fakeAttempts struct {
	byID map[string]*types.RetryAttempt
}

func (f *fakeAttempts) Get(_ context.Context, id string) (*types.RetryAttempt, error) {
	if a, ok := f.byID[id]; ok {
		return a, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundAttempt, "retry attempt not found", nil)
}

func (f *fakeAttempts) ListBySchedule(_ context.Context, scheduleID string) ([]*types.RetryAttempt, error) {
	var out []*types.RetryAttempt
	for _, a := range f.byID {
		if a.RetryScheduleID == scheduleID {
			out = append(out, a)
		}
	}
	return out, nil
}

type testEnv struct {
	mem       *memstore.Store
	clock     *testClock
	policies  *policy.Store
	schedules *schedule.Manager
	attempts  *fakeAttempts
	validator *core.Validator
	router    chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v, err := core.NewValidator(logger)
	require.NoError(t, err)

	e := &testEnv{
		mem:       memstore.New(),
		clock:     &testClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
		attempts:  &fakeAttempts{byID: map[string]*types.RetryAttempt{}},
		validator: v,
	}
	rec := audit.NewRecorder(e.clock, types.SystemActor)
	e.policies = policy.NewStore(e.mem, rec, e.clock, types.NopLogger{}, policy.Defaults{})
	e.schedules = schedule.NewManager(e.mem, e.policies, rec, nil, e.clock, types.NopLogger{})

	_, err = e.policies.CreateRetryPolicy(context.Background(), policy.CreateRetryPolicyRequest{
		PolicyScope: types.PolicyScope{OrganisationID: "org_1"},
		Name:        "Default",
		IsDefault:   true,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	NewPolicyHandler(e.policies, v, logger).RegisterRoutes(r)
	NewScheduleHandler(e.schedules, e.attempts, v, logger).RegisterRoutes(r)
	NewAuditHandler(audit.NewService(e.mem.AuditLog()), logger).RegisterRoutes(r)
	e.router = r
	return e
}

func (e *testEnv) do(t *testing.T, p types.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, e.router, p, method, path, body)
}

func serve(t *testing.T, h http.Handler, p types.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(types.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func serveWithHeaders(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func rejectionBody(paymentID, code string) map[string]any {
	return map[string]any{
		"original_payment_id": paymentID,
		"subscription_id":     "sub_1",
		"client_id":           "cli_1",
		"raw_rejection_code":  code,
		"rejected_at":         "2026-03-02T08:00:00Z",
		"amount_cents":        4990,
	}
}

func (e *testEnv) ingest(t *testing.T, paymentID string) schedule.IngestResult {
	t.Helper()
	rec := e.do(t, operator, http.MethodPost, "/rejections", rejectionBody(paymentID, "MS02_NOT_SPECIFIED_REASON"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[schedule.IngestResult](t, rec)
}

// =============================================================================
// Policies
// =============================================================================

func TestPolicyHandler_CreateRetryPolicyDefaultsOrganisation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, operator, http.MethodPost, "/retry-policies", map[string]any{"name": "Standard"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	p := decodeData[types.RetryPolicy](t, rec)
	assert.Equal(t, "org_1", p.OrganisationID)
	assert.Equal(t, []int{5, 10, 20}, p.RetryDelaysDays)
	assert.Equal(t, 3, p.MaxAttempts)

	rec = e.do(t, operator, http.MethodGet, "/retry-policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]types.RetryPolicy](t, rec), 2)
}

func TestPolicyHandler_RejectsOtherOrganisation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, otherOperator, http.MethodPost, "/retry-policies", map[string]any{
		"organisation_id": "org_1",
		"name":            "Hijack",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(types.ErrCodePermissionOrgMismatch), errorCode(t, rec))

	rec = e.do(t, otherOperator, http.MethodGet, "/retry-policies?organisation_id=org_1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPolicyHandler_ValidationErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body any
		code types.ErrorCode
	}{
		{"missing name", map[string]any{}, types.ErrCodeValidationMissingField},
		{"bad timezone", map[string]any{"name": "x", "timezone": "Mars/Base"}, types.ErrCodeValidationInvalidTimezone},
		{"bad cutoff", map[string]any{"name": "x", "cutoff_time": "25:00"}, types.ErrCodeValidationInvalidCutoff},
		{"unknown field", map[string]any{"name": "x", "colour": "red"}, errCodeInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, operator, http.MethodPost, "/retry-policies", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tt.code), errorCode(t, rec))
		})
	}
}

const errCodeInvalidJSON types.ErrorCode = "validation_invalid_json"

func TestPolicyHandler_UpdateAndDelete(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, operator, http.MethodPost, "/retry-policies", map[string]any{"name": "Temp"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeData[types.RetryPolicy](t, rec).ID

	rec = e.do(t, operator, http.MethodPatch, "/retry-policies/"+id, map[string]any{"max_attempts": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decodeData[types.RetryPolicy](t, rec).MaxAttempts)

	rec = e.do(t, operator, http.MethodDelete, "/retry-policies/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, operator, http.MethodGet, "/retry-policies/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicyHandler_ReminderPolicies(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, operator, http.MethodPost, "/reminder-policies", map[string]any{"name": "Gentle"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeData[types.ReminderPolicy](t, rec)
	assert.Equal(t, "org_1", p.OrganisationID)

	rec = e.do(t, operator, http.MethodGet, "/reminder-policies/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, operator, http.MethodGet, "/reminder-policies?active_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]types.ReminderPolicy](t, rec), 1)

	rec = e.do(t, operator, http.MethodGet, "/reminder-policies?active_only=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPolicyHandler_MachineCallerMustNameOrganisation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, machine, http.MethodGet, "/retry-policies", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, machine, http.MethodGet, "/retry-policies?organisation_id=org_1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// Rejections and schedules
// =============================================================================

func TestScheduleHandler_IngestIsIdempotent(t *testing.T) {
	e := newTestEnv(t)

	first := e.ingest(t, "pay_1")
	assert.True(t, first.Processed)
	assert.Equal(t, types.EligibilityEligible, first.Eligibility)
	assert.NotEmpty(t, first.ScheduleID)

	rec := e.do(t, operator, http.MethodPost, "/rejections", rejectionBody("pay_1", "MS02_NOT_SPECIFIED_REASON"))
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeData[schedule.IngestResult](t, rec)
	assert.False(t, again.Processed)
	assert.Equal(t, first.ScheduleID, again.ScheduleID)
}

func TestScheduleHandler_IngestValidation(t *testing.T) {
	e := newTestEnv(t)

	body := rejectionBody("pay_1", "MS02_NOT_SPECIFIED_REASON")
	delete(body, "client_id")
	rec := e.do(t, operator, http.MethodPost, "/rejections", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, rec))

	rec = e.do(t, operator, http.MethodPost, "/rejections", `{"original_payment_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Machine callers are unscoped and must name the organisation.
	rec = e.do(t, machine, http.MethodPost, "/rejections", rejectionBody("pay_2", "MS02_NOT_SPECIFIED_REASON"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = rejectionBody("pay_2", "MS02_NOT_SPECIFIED_REASON")
	body["organisation_id"] = "org_1"
	rec = e.do(t, machine, http.MethodPost, "/rejections", body)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestScheduleHandler_IneligibleRejection(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, operator, http.MethodPost, "/rejections", rejectionBody("pay_1", "AC01"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeData[schedule.IngestResult](t, rec)
	assert.Equal(t, types.EligibilityNotEligibleReasonCode, res.Eligibility)
}

func TestScheduleHandler_CheckEligibilityPersistsNothing(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, operator, http.MethodPost, "/eligibility/check", rejectionBody("pay_1", "MS02_NOT_SPECIFIED_REASON"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	check := decodeData[schedule.EligibilityCheck](t, rec)
	assert.Equal(t, types.EligibilityEligible, check.Eligibility)
	assert.NotNil(t, check.FirstRetryDate)

	rec = e.do(t, operator, http.MethodGet, "/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]types.RetrySchedule](t, rec))
}

func TestScheduleHandler_ListAndGet(t *testing.T) {
	e := newTestEnv(t)
	res := e.ingest(t, "pay_1")
	e.ingest(t, "pay_2")

	rec := e.do(t, operator, http.MethodGet, "/schedules?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page types.ListResponse[types.RetrySchedule]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, "1", page.PageInfo.NextCursor)

	rec = e.do(t, operator, http.MethodGet, "/schedules?eligibility=ELIGIBLE&resolved=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]types.RetrySchedule](t, rec), 2)

	rec = e.do(t, operator, http.MethodGet, "/schedules?eligibility=MAYBE", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, operator, http.MethodGet, "/schedules/"+res.ScheduleID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pay_1", decodeData[types.RetrySchedule](t, rec).OriginalPaymentID)

	rec = e.do(t, otherOperator, http.MethodGet, "/schedules/"+res.ScheduleID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, operator, http.MethodGet, "/schedules/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleHandler_Cancel(t *testing.T) {
	e := newTestEnv(t)
	res := e.ingest(t, "pay_1")
	path := "/schedules/" + res.ScheduleID + "/cancel"

	rec := e.do(t, operator, http.MethodPost, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, rec))

	rec = e.do(t, operator, http.MethodPost, path, map[string]any{"reason": "client paid by transfer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decodeData[types.RetrySchedule](t, rec)
	assert.True(t, s.IsResolved)
	assert.Equal(t, types.EligibilityNotEligibleManualCancel, s.Eligibility)
	assert.Equal(t, "Manually cancelled: client paid by transfer", s.ResolutionReason)
	assert.Equal(t, "ops@acme.test", s.Metadata["cancelledBy"])

	rec = e.do(t, operator, http.MethodPost, path, map[string]any{"reason": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduleHandler_Replan(t *testing.T) {
	e := newTestEnv(t)
	res := e.ingest(t, "pay_1")
	path := "/schedules/" + res.ScheduleID + "/replan"

	rec := e.do(t, operator, http.MethodPost, path, map[string]any{"next_retry_date": "2026-03-01T09:00:00Z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationReplanDate), errorCode(t, rec))

	rec = e.do(t, operator, http.MethodPost, path, map[string]any{
		"next_retry_date": "2026-03-20T09:00:00Z",
		"reason":          "client asked for later",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decodeData[types.RetrySchedule](t, rec)
	require.NotNil(t, s.NextRetryDate)
	assert.Equal(t, time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC), s.NextRetryDate.UTC())
}

func TestScheduleHandler_Resolve(t *testing.T) {
	e := newTestEnv(t)
	res := e.ingest(t, "pay_1")

	rec := e.do(t, operator, http.MethodPost, "/schedules/"+res.ScheduleID+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decodeData[types.RetrySchedule](t, rec)
	assert.True(t, s.IsResolved)
	assert.Equal(t, types.ResolutionSettled, s.ResolutionReason)
}

func TestScheduleHandler_Attempts(t *testing.T) {
	e := newTestEnv(t)
	e.attempts.byID["att_1"] = &types.RetryAttempt{ID: "att_1", RetryScheduleID: "sch_1", AttemptNumber: 1}

	rec := e.do(t, operator, http.MethodGet, "/schedules/sch_1/attempts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]types.RetryAttempt](t, rec), 1)

	rec = e.do(t, operator, http.MethodGet, "/attempts/att_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeData[types.RetryAttempt](t, rec).AttemptNumber)

	rec = e.do(t, operator, http.MethodGet, "/attempts/att_9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleHandler_Statistics(t *testing.T) {
	e := newTestEnv(t)
	e.ingest(t, "pay_1")
	e.do(t, operator, http.MethodPost, "/rejections", rejectionBody("pay_2", "AC01"))

	rec := e.do(t, operator, http.MethodGet, "/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decodeData[types.ScheduleStatistics](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Eligible)

	rec = e.do(t, machine, http.MethodGet, "/statistics", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, otherOperator, http.MethodGet, "/statistics?organisation_id=org_1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// Audit log
// =============================================================================

func TestAuditHandler_ListBySchedule(t *testing.T) {
	e := newTestEnv(t)
	res := e.ingest(t, "pay_1")
	rec := e.do(t, operator, http.MethodPost, "/schedules/"+res.ScheduleID+"/cancel", map[string]any{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, operator, http.MethodGet, "/audit-logs?schedule_id="+res.ScheduleID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decodeData[[]types.AuditEntry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, types.AuditActionCreated, entries[0].Action)
	assert.Equal(t, types.AuditActionCancelled, entries[1].Action)
	assert.Equal(t, "ops@acme.test", entries[1].ActorID)

	rec = e.do(t, operator, http.MethodGet, "/audit-logs?schedule_id="+res.ScheduleID+"&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page types.ListResponse[types.AuditEntry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.True(t, page.PageInfo.HasMore)

	rec = e.do(t, operator, http.MethodGet, "/audit-logs?schedule_id="+res.ScheduleID+"&cursor="+page.PageInfo.NextCursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rest := decodeData[[]types.AuditEntry](t, rec)
	require.Len(t, rest, 1)
	assert.Equal(t, types.AuditActionCancelled, rest[0].Action)
}

func TestAuditHandler_BadParameters(t *testing.T) {
	e := newTestEnv(t)

	for _, q := range []string{"?cursor=abc", "?limit=ten", "?from=2026-03-10&to=2026-03-01", "?from=yesterday"} {
		rec := e.do(t, operator, http.MethodGet, "/audit-logs"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
