package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func scheduleRow(id string, next *time.Time) []any {
	rejected := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var nextVal any
	if next != nil {
		nextVal = *next
	}
	return []any{
		id, "org_1", nil, nil, nil,
		"pay_1", "sub_1", "inv_1", nil, "cli_1", "pm_1",
		"AM04_ACCOUNT_CLOSED", "AM04", nil, rejected,
		"rp_1", int64(4999), "EUR", "ELIGIBLE", nil,
		0, 3, nextVal,
		false, nil, nil,
		"schedule:org_1:pay_1", types.JSONMap{"source": "sepa"}, rejected, rejected,
	}
}

func TestRetryScheduleRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRetryScheduleRepository(db)
	next := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"rs_1"}).
		Return(&mockRow{values: scheduleRow("rs_1", &next)})

	s, err := repo.GetByID(context.Background(), "rs_1")
	require.NoError(t, err)
	assert.Equal(t, "inv_1", s.InvoiceID)
	assert.Equal(t, "", s.ContractID)
	assert.Equal(t, types.EligibilityEligible, s.Eligibility)
	assert.Equal(t, int64(4999), s.AmountCents)
	require.NotNil(t, s.NextRetryDate)
	assert.Equal(t, next, *s.NextRetryDate)
	assert.Nil(t, s.ResolvedAt)
	assert.Equal(t, "sepa", s.Metadata["source"])
}

func TestRetryScheduleRepository_GetByIdempotencyKey_NotFound(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := NewRetryScheduleRepository(db).GetByIdempotencyKey(context.Background(), "schedule:org_1:none")
	assert.True(t, types.IsNotFound(err))
}

func TestRetryScheduleRepository_Create_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 30
	})).Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "retry_schedules_idempotency_key_key"})

	err := NewRetryScheduleRepository(db).Create(context.Background(), &types.RetrySchedule{ID: "rs_1"})
	assert.True(t, types.HasCode(err, types.ErrCodeConflictDuplicate))
}

func TestRetryScheduleRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := NewRetryScheduleRepository(db).Update(context.Background(), &types.RetrySchedule{ID: "rs_x"})
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundSchedule))
}

func TestRetryScheduleRepository_List_Filters(t *testing.T) {
	db := new(mockDBTX)
	resolved := false

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "organisation_id = $1", "eligibility = $2", "is_resolved = $3", "client_id = $4", "LIMIT $5")
	}), []any{"org_1", types.EligibilityEligible, false, "cli_1", types.DefaultPageSize + 1, 0}).
		Return(newMockRows(scheduleRow("rs_1", nil)), nil)

	got, err := NewRetryScheduleRepository(db).List(context.Background(), types.ScheduleFilter{
		OrganisationID: "org_1",
		Eligibility:    types.EligibilityEligible,
		IsResolved:     &resolved,
		ClientID:       "cli_1",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].NextRetryDate)
	db.AssertExpectations(t)
}

func TestRetryScheduleRepository_FindDue(t *testing.T) {
	db := new(mockDBTX)
	cutoff := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"),
		[]any{"org_1", types.EligibilityEligible, cutoff, 100}).
		Return(newMockRows(scheduleRow("rs_1", &cutoff), scheduleRow("rs_2", &cutoff)), nil)

	got, err := NewRetryScheduleRepository(db).FindDue(context.Background(), "org_1", cutoff, 100)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	db.AssertExpectations(t)
}

func TestRetryScheduleRepository_OrganisationsWithDue(t *testing.T) {
	db := new(mockDBTX)
	cutoff := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([]any{"org_1"}, []any{"org_2"}), nil)

	orgs, err := NewRetryScheduleRepository(db).OrganisationsWithDue(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"org_1", "org_2"}, orgs)
}

func TestRetryScheduleRepository_Statistics(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"org_1"}).
		Return(newMockRows(
			[]any{"ELIGIBLE", false, 4},
			[]any{"ELIGIBLE", true, 6},
			[]any{"NOT_ELIGIBLE_REASON_CODE", true, 2},
		), nil)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"org_1", types.ResolutionPaid}).
		Return(&mockRow{values: []any{1.5}})

	stats, err := NewRetryScheduleRepository(db).Statistics(ctx, "org_1")
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Total)
	assert.Equal(t, 10, stats.Eligible)
	assert.Equal(t, 8, stats.Resolved)
	assert.Equal(t, 4, stats.Pending)
	assert.Equal(t, 2, stats.ByEligibility[types.EligibilityNotEligibleReasonCode])
	assert.InDelta(t, 1.5, stats.AvgAttemptsBeforeSuccess, 1e-9)
}

func TestRetryScheduleRepository_CountByPolicy(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"rp_1"}).
		Return(&mockRow{values: []any{3}})

	n, err := NewRetryScheduleRepository(db).CountByPolicy(context.Background(), "rp_1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
