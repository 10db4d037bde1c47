package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func jobRow(id string, status types.JobStatus, reasons []byte) []any {
	day := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	return []any{
		id, "org_1", day, "Europe/Paris", "10:00",
		day, day, day, string(status),
		10, 8, 2, 0,
		nil, []string{"rs_3", "rs_9"}, reasons,
		"org_1:2026-03-07:false", "scheduler", false, false, day, day,
	}
}

func TestRetryJobRepository_GetByIdempotencyKey(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"org_1:2026-03-07:false"}).
		Return(&mockRow{values: jobRow("job_1", types.JobPartial, []byte(`{"rs_3":"upstream_timeout"}`))})

	j, err := NewRetryJobRepository(db).GetByIdempotencyKey(context.Background(), "org_1:2026-03-07:false")
	require.NoError(t, err)
	assert.Equal(t, types.JobPartial, j.Status)
	assert.Equal(t, []string{"rs_3", "rs_9"}, j.FailedScheduleIDs)
	assert.Equal(t, "upstream_timeout", j.FailureReasons["rs_3"])
	assert.Equal(t, 8, j.SuccessfulAttempts)
}

func TestRetryJobRepository_UpdateEncodesFailureReasons(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		b, ok := args[10].([]byte)
		return ok && string(b) == `{"rs_3":"boom"}`
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := NewRetryJobRepository(db).Update(context.Background(), &types.RetryJob{
		ID:             "job_1",
		Status:         types.JobPartial,
		FailureReasons: map[string]string{"rs_3": "boom"},
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRetryJobRepository_List(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	t.Run("paged", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return containsAll(sql, "status = $2", "LIMIT $3")
		}), []any{"org_1", types.JobFailed, 6, 0}).
			Return(newMockRows(jobRow("job_1", types.JobFailed, nil)), nil)

		got, err := NewRetryJobRepository(db).List(context.Background(), types.JobFilter{
			OrganisationID: "org_1",
			Status:         types.JobFailed,
			Page:           types.Page{Limit: 5},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].FailureReasons)
	})

	t.Run("unbounded", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return !containsAll(sql, "LIMIT") && containsAll(sql, "target_date >= $1", "target_date < $2")
		}), []any{from, to}).Return(newMockRows(), nil)

		got, err := NewRetryJobRepository(db).List(context.Background(), types.JobFilter{
			From: from,
			To:   to,
			Page: types.Page{Limit: types.Unbounded},
		})
		require.NoError(t, err)
		assert.Empty(t, got)
		db.AssertExpectations(t)
	})
}
