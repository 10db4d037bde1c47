package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func TestRetryAttemptRepository_CreateCompressesRawResponse(t *testing.T) {
	db := new(mockDBTX)
	raw := json.RawMessage(`{"id":"pi_1","status":"succeeded"}`)

	var stored []byte
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		b, ok := args[8].([]byte)
		stored = b
		return ok && len(args) == 16
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := NewRetryAttemptRepository(db).Create(context.Background(), &types.RetryAttempt{
		ID:              "ra_1",
		RetryScheduleID: "rs_1",
		AttemptNumber:   1,
		Status:          types.AttemptScheduled,
		RawResponse:     raw,
		IdempotencyKey:  "rs_1:1",
	})
	require.NoError(t, err)

	out, err := decompressRaw(stored)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestRetryAttemptRepository_GetByScheduleAndNumber(t *testing.T) {
	db := new(mockDBTX)
	planned := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	raw := compressRaw(json.RawMessage(`{"code":"AM04"}`))

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"rs_1", 2}).
		Return(&mockRow{values: []any{
			"ra_2", "rs_1", 2, planned, planned, "FAILED",
			"pi_2", nil, raw, "AM04", "account closed",
			"AM04_ACCOUNT_CLOSED", "job_1", "rs_1:2", planned, planned,
		}})

	a, err := NewRetryAttemptRepository(db).GetByScheduleAndNumber(context.Background(), "rs_1", 2)
	require.NoError(t, err)
	assert.Equal(t, types.AttemptFailed, a.Status)
	assert.Equal(t, "pi_2", a.PaymentIntentID)
	assert.Equal(t, "", a.NetworkRef)
	assert.Equal(t, "AM04_ACCOUNT_CLOSED", a.NewRejectionCode)
	assert.JSONEq(t, `{"code":"AM04"}`, string(a.RawResponse))
	require.NotNil(t, a.ExecutedAt)
}

func TestRetryAttemptRepository_GetByPaymentIntentID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := NewRetryAttemptRepository(db).GetByPaymentIntentID(context.Background(), "pi_missing")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAttempt))
}

func TestRetryAttemptRepository_ListBySchedule_IterationError(t *testing.T) {
	db := new(mockDBTX)
	rows := newMockRows()
	rows.errVal = pgx.ErrTxClosed
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{"rs_1"}).Return(rows, nil)

	_, err := NewRetryAttemptRepository(db).ListBySchedule(context.Background(), "rs_1")
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	assert.True(t, rows.closed)
}
