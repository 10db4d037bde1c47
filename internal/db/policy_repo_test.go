package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func retryPolicyRow(id string, priority int, created time.Time) []any {
	return []any{
		id, "org_1", nil, "prod_1", nil,
		"Default SEPA", nil, []int{5, 10, 20}, 3, 30,
		true, []string{"AM04_ACCOUNT_CLOSED"}, []string{},
		true, true, true,
		"FIXED", "Europe/Paris", "10:00",
		true, false, priority, 2, created, created,
	}
}

func TestRetryPolicyRepository_Create(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryPolicyRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 25 && args[0] == "rp_1" && args[2] == (*string)(nil)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	err := repo.Create(ctx, &types.RetryPolicy{
		ID:              "rp_1",
		PolicyScope:     types.PolicyScope{OrganisationID: "org_1"},
		Name:            "Default",
		RetryDelaysDays: []int{5, 10, 20},
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRetryPolicyRepository_Create_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryPolicyRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &types.RetryPolicy{ID: "rp_1"})
	assert.True(t, types.HasCode(err, types.ErrCodeConflictDuplicate))
}

func TestRetryPolicyRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryPolicyRepository(db)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"rp_1"}).
		Return(&mockRow{values: retryPolicyRow("rp_1", 5, created)})

	p, err := repo.GetByID(context.Background(), "rp_1")
	require.NoError(t, err)
	assert.Equal(t, "org_1", p.OrganisationID)
	assert.Equal(t, "", p.CompanyID)
	assert.Equal(t, "prod_1", p.ProductID)
	assert.Equal(t, []int{5, 10, 20}, p.RetryDelaysDays)
	assert.Equal(t, types.BackoffFixed, p.BackoffStrategy)
	assert.Equal(t, 5, p.Priority)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, created, p.CreatedAt)
}

func TestRetryPolicyRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryPolicyRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundRetryPolicy))
}

func TestRetryPolicyRepository_List(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryPolicyRepository(db)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "organisation_id = $1", "is_active", "LIMIT $2", "OFFSET $3")
	}), []any{"org_1", 11, 20}).
		Return(newMockRows(retryPolicyRow("rp_1", 9, created), retryPolicyRow("rp_2", 1, created)), nil)

	got, err := repo.List(context.Background(), types.PolicyFilter{
		OrganisationID: "org_1",
		ActiveOnly:     true,
		Page:           types.Page{Limit: 10, Offset: 20},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rp_1", got[0].ID)
	db.AssertExpectations(t)
}

func TestRetryPolicyRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryPolicyRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), &types.RetryPolicy{ID: "rp_x"})
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundRetryPolicy))
}

func TestRetryPolicyRepository_Delete(t *testing.T) {
	tests := []struct {
		name string
		tag  pgconn.CommandTag
		err  error
		want types.ErrorCode
	}{
		{"deleted", pgconn.NewCommandTag("DELETE 1"), nil, ""},
		{"missing", pgconn.NewCommandTag("DELETE 0"), nil, types.ErrCodeNotFoundRetryPolicy},
		{"referenced", pgconn.CommandTag{}, &pgconn.PgError{Code: "23503"}, types.ErrCodeConflictPolicyInUse},
		{"driver", pgconn.CommandTag{}, errors.New("reset by peer"), types.ErrCodeInternalDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(tt.tag, tt.err)

			err := NewRetryPolicyRepository(db).Delete(context.Background(), "rp_1")
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, types.HasCode(err, tt.want), "got %v", err)
		})
	}
}

func TestReminderPolicyRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewReminderPolicyRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rules := types.TriggerRuleList{{ID: "r1", Trigger: types.TriggerBeforeRetry, Channel: types.ChannelEmail, TemplateID: "tpl"}}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"rmp_1"}).
		Return(&mockRow{values: []any{
			"rmp_1", "org_1", "co_1", nil, nil,
			"Gentle", rules, 24, 3, 10,
			9, 19, []int{1, 2, 3, 4, 5}, "Europe/Paris", true,
			true, true, 0, now, now,
		}})

	p, err := repo.GetByID(context.Background(), "rmp_1")
	require.NoError(t, err)
	assert.Equal(t, "co_1", p.CompanyID)
	assert.Len(t, p.TriggerRules, 1)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, p.AllowedDaysOfWeek)
	assert.Equal(t, 24, p.CooldownHours)
}

func TestReminderPolicyRepository_ListActive_QueryError(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := NewReminderPolicyRepository(db).ListActive(context.Background(), "org_1")
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
