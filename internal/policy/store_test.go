package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/audit"
	"payretry/internal/eligibility"
	"payretry/internal/memstore"
	"payretry/internal/types"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *memstore.Store, *fixedClock) {
	t.Helper()
	mem := memstore.New()
	clock := &fixedClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	rec := audit.NewRecorder(clock, types.SystemActor)
	return NewStore(mem, rec, clock, types.NopLogger{}, Defaults{}), mem, clock
}

func TestCreateRetryPolicyDefaults(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateRetryPolicy(ctx, CreateRetryPolicyRequest{
		PolicyScope: types.PolicyScope{OrganisationID: "org_1"},
		Name:        "Default",
	})
	require.NoError(t, err)

	assert.Equal(t, []int{5, 10, 20}, p.RetryDelaysDays)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 30, p.MaxTotalDays)
	assert.True(t, p.RetryOnAM04)
	assert.True(t, p.StopOnPaymentSettled)
	assert.True(t, p.StopOnContractCancelled)
	assert.True(t, p.StopOnMandateRevoked)
	assert.Equal(t, types.BackoffFixed, p.BackoffStrategy)
	assert.Equal(t, "Europe/Paris", p.Timezone)
	assert.Equal(t, "10:00", p.CutoffTime)
	assert.Equal(t, eligibility.DefaultRetryableCodes(), p.RetryableCodes)
	assert.True(t, p.IsActive)
	assert.Equal(t, 1, p.Version)

	entries, err := mem.AuditLog().List(ctx, types.AuditFilter{EntityID: p.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.AuditActionCreated, entries[0].Action)
}

func TestCreateRetryPolicyExplicitFalse(t *testing.T) {
	s, _, _ := newTestStore(t)
	no := false

	p, err := s.CreateRetryPolicy(context.Background(), CreateRetryPolicyRequest{
		PolicyScope:          types.PolicyScope{OrganisationID: "org_1"},
		Name:                 "Strict",
		RetryOnAM04:          &no,
		StopOnMandateRevoked: &no,
	})
	require.NoError(t, err)
	assert.False(t, p.RetryOnAM04)
	assert.False(t, p.StopOnMandateRevoked)
	assert.True(t, p.StopOnPaymentSettled)
}

func TestCreateRetryPolicyValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	bad := "Mars/Olympus"

	_, err := s.CreateRetryPolicy(context.Background(), CreateRetryPolicyRequest{
		PolicyScope: types.PolicyScope{OrganisationID: "org_1"},
		Name:        "Broken",
		Timezone:    &bad,
	})
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidTimezone))

	_, err = s.CreateRetryPolicy(context.Background(), CreateRetryPolicyRequest{
		PolicyScope: types.PolicyScope{OrganisationID: "org_1", Channel: "SEPA"},
		Name:        "Channel without product",
	})
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidInput))
}

func TestUpdateRetryPolicy(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateRetryPolicy(ctx, CreateRetryPolicyRequest{PolicyScope: types.PolicyScope{OrganisationID: "org_1"}, Name: "A"})
	require.NoError(t, err)

	five := 5
	updated, err := s.UpdateRetryPolicy(ctx, p.ID, UpdateRetryPolicyRequest{MaxAttempts: &five, RetryDelaysDays: []int{3}})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.MaxAttempts)
	assert.Equal(t, []int{3}, updated.RetryDelaysDays)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "A", updated.Name)

	entries, err := mem.AuditLog().List(ctx, types.AuditFilter{EntityID: p.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"max_attempts", "retry_delays_days", "version"}, entries[1].ChangedFields)

	require.NoError(t, mem.Schedules().Create(ctx, &types.RetrySchedule{
		ID: "sch_1", OrganisationID: "org_1", RetryPolicyID: p.ID, IdempotencyKey: "k",
	}))
	_, err = s.UpdateRetryPolicy(ctx, p.ID, UpdateRetryPolicyRequest{MaxAttempts: &five})
	assert.True(t, types.HasCode(err, types.ErrCodeConflictPolicyInUse))

	err = s.DeleteRetryPolicy(ctx, p.ID)
	assert.True(t, types.HasCode(err, types.ErrCodeConflictPolicyInUse))
}

func TestDeleteRetryPolicy(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateRetryPolicy(ctx, CreateRetryPolicyRequest{PolicyScope: types.PolicyScope{OrganisationID: "org_1"}, Name: "A"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteRetryPolicy(ctx, p.ID))

	_, err = s.GetRetryPolicy(ctx, p.ID)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundRetryPolicy))
}

func TestGetRetryPolicyOrganisationScope(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateRetryPolicy(ctx, CreateRetryPolicyRequest{PolicyScope: types.PolicyScope{OrganisationID: "org_1"}, Name: "A"})
	require.NoError(t, err)

	_, err = s.GetRetryPolicy(types.WithOrganisationID(ctx, "org_2"), p.ID)
	assert.True(t, types.HasCode(err, types.ErrCodePermissionOrgMismatch))
}

func TestListRetryPolicies(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	for i := range 3 {
		_, err := s.CreateRetryPolicy(ctx, CreateRetryPolicyRequest{
			PolicyScope: types.PolicyScope{OrganisationID: "org_1"},
			Name:        "P",
			Priority:    i,
		})
		require.NoError(t, err)
	}

	items, info, err := s.ListRetryPolicies(ctx, types.PolicyFilter{OrganisationID: "org_1", Page: types.Page{Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, 2, items[0].Priority)
}

func TestResolveRetryPolicy(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	create := func(name string, scope types.PolicyScope, priority int) *types.RetryPolicy {
		clock.t = clock.t.Add(time.Minute)
		scope.OrganisationID = "org_1"
		p, err := s.CreateRetryPolicy(ctx, CreateRetryPolicyRequest{PolicyScope: scope, Name: name, Priority: priority})
		require.NoError(t, err)
		return p
	}

	orgDefault := create("org", types.PolicyScope{}, 100)
	company := create("company", types.PolicyScope{CompanyID: "co_1"}, 0)
	product := create("product", types.PolicyScope{CompanyID: "co_1", ProductID: "prd_1"}, 0)
	productChannel := create("product+channel", types.PolicyScope{ProductID: "prd_1", Channel: "SEPA"}, 0)
	create("other company", types.PolicyScope{CompanyID: "co_2"}, 500)

	tests := []struct {
		name  string
		scope types.PolicyScope
		want  string
	}{
		{"organisation only", types.PolicyScope{}, orgDefault.ID},
		{"company", types.PolicyScope{CompanyID: "co_1"}, company.ID},
		{"product beats company", types.PolicyScope{CompanyID: "co_1", ProductID: "prd_1"}, product.ID},
		{"product and channel beats product", types.PolicyScope{CompanyID: "co_1", ProductID: "prd_1", Channel: "SEPA"}, productChannel.ID},
		{"unknown company falls back to default", types.PolicyScope{CompanyID: "co_9"}, orgDefault.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.scope.OrganisationID = "org_1"
			got, err := s.ResolveRetryPolicy(ctx, tt.scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}

	_, err := s.ResolveRetryPolicy(ctx, types.PolicyScope{OrganisationID: "org_404"})
	assert.True(t, types.HasCode(err, types.ErrCodePolicyNotResolved))
}

func TestResolveRetryPolicyPrefersDefaultOnTie(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	create := func(name string, isDefault bool, priority int) *types.RetryPolicy {
		clock.t = clock.t.Add(time.Minute)
		p, err := s.CreateRetryPolicy(ctx, CreateRetryPolicyRequest{
			PolicyScope: types.PolicyScope{OrganisationID: "org_1"},
			Name:        name,
			IsDefault:   isDefault,
			Priority:    priority,
		})
		require.NoError(t, err)
		return p
	}

	def := create("Default", true, 0)
	create("Campaign", false, 0)

	got, err := s.ResolveRetryPolicy(ctx, types.PolicyScope{OrganisationID: "org_1"})
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID, "default outranks a newer policy of equal priority")

	boosted := create("Boosted", false, 10)
	got, err = s.ResolveRetryPolicy(ctx, types.PolicyScope{OrganisationID: "org_1"})
	require.NoError(t, err)
	assert.Equal(t, boosted.ID, got.ID, "priority still comes first")

	got, err = s.ResolveRetryPolicy(ctx, types.PolicyScope{OrganisationID: "org_1", CompanyID: "co_1"})
	require.NoError(t, err)
	assert.Equal(t, boosted.ID, got.ID)
}

func TestReminderPolicyLifecycle(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateReminderPolicy(ctx, CreateReminderPolicyRequest{
		PolicyScope: types.PolicyScope{OrganisationID: "org_1"},
		Name:        "Default reminders",
		TriggerRules: []types.TriggerRule{
			{Trigger: types.TriggerAfterRetryFailed, Channel: types.ChannelEmail, TemplateID: "tpl_failed"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 24, p.CooldownHours)
	assert.Equal(t, 3, p.MaxRemindersPerDay)
	assert.Equal(t, 10, p.MaxRemindersPerWeek)
	assert.Equal(t, 9, p.AllowedStartHour)
	assert.Equal(t, 19, p.AllowedEndHour)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, p.AllowedDaysOfWeek)
	assert.True(t, p.RespectOptOut)
	require.Len(t, p.TriggerRules, 1)
	assert.NotEmpty(t, p.TriggerRules[0].ID)

	got, err := s.ResolveReminderPolicy(ctx, types.PolicyScope{OrganisationID: "org_1", CompanyID: "co_1"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	items, _, err := s.ListReminderPolicies(ctx, types.PolicyFilter{OrganisationID: "org_1"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = s.CreateReminderPolicy(ctx, CreateReminderPolicyRequest{
		PolicyScope:  types.PolicyScope{OrganisationID: "org_1"},
		Name:         "Rule without template",
		TriggerRules: []types.TriggerRule{{Trigger: types.TriggerManual, Channel: types.ChannelSMS}},
	})
	assert.True(t, types.HasCode(err, types.ErrCodeValidationMissingField))
}
