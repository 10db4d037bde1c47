package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func reminderRow(id string, status types.ReminderStatus, sent *time.Time) []any {
	planned := time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)
	var sentVal any
	if sent != nil {
		sentVal = *sent
	}
	return []any{
		id, "org_1", nil, "rs_1", nil,
		"cli_1", "rmp_1", "rule_1", "EMAIL", "tpl_before_retry", types.JSONMap{"amount": "49.99"},
		"BEFORE_RETRY", planned, sentVal, nil, string(status),
		"sendgrid", "msg_1", nil, nil, nil,
		0, "rs_1:BEFORE_RETRY:EMAIL:initial", planned, planned,
	}
}

func TestReminderRepository_GetByProviderMessageID(t *testing.T) {
	db := new(mockDBTX)
	sent := time.Date(2026, 3, 6, 9, 1, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"msg_1"}).
		Return(&mockRow{values: reminderRow("rem_1", types.ReminderSent, &sent)})

	rm, err := NewReminderRepository(db).GetByProviderMessageID(context.Background(), "msg_1")
	require.NoError(t, err)
	assert.Equal(t, types.ChannelEmail, rm.Channel)
	assert.Equal(t, types.TriggerBeforeRetry, rm.Trigger)
	assert.Equal(t, types.ReminderSent, rm.Status)
	assert.Equal(t, "rule_1", rm.TriggerRuleID)
	assert.Equal(t, "", rm.RetryAttemptID)
	assert.Equal(t, "49.99", rm.TemplateVariables["amount"])
	require.NotNil(t, rm.SentAt)
}

func TestReminderRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := NewReminderRepository(db).GetByID(context.Background(), "rem_x")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundReminder))
}

func TestReminderRepository_ListSentSince_OnlyCountedStatuses(t *testing.T) {
	db := new(mockDBTX)
	since := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		statuses, ok := args[3].([]string)
		if !ok || len(args) != 4 || args[2] != since {
			return false
		}
		assert.ElementsMatch(t, []string{"REMINDER_SENT", "REMINDER_DELIVERED", "REMINDER_OPENED", "REMINDER_CLICKED"}, statuses)
		return true
	})).Return(newMockRows(reminderRow("rem_1", types.ReminderDelivered, &since)), nil)

	got, err := NewReminderRepository(db).ListSentSince(context.Background(), "org_1", "cli_1", since)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReminderRepository_ListDue(t *testing.T) {
	db := new(mockDBTX)
	now := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{types.ReminderPending, now, 100}).
		Return(newMockRows(reminderRow("rem_1", types.ReminderPending, nil)), nil)

	got, err := NewReminderRepository(db).ListDue(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].SentAt)
}

func TestReminderRepository_GetByIdempotencyKey(t *testing.T) {
	db := new(mockDBTX)
	key := "rs_1:BEFORE_RETRY:EMAIL:initial"
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "idempotency_key = $1")
	}), []any{key}).
		Return(&mockRow{values: reminderRow("rem_1", types.ReminderPending, nil)})

	rm, err := NewReminderRepository(db).GetByIdempotencyKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, key, rm.IdempotencyKey)
	assert.Equal(t, types.ReminderPending, rm.Status)
	db.AssertExpectations(t)
}
