package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func parisPolicy(strategy types.BackoffStrategy, delays ...int) *types.RetryPolicy {
	return &types.RetryPolicy{
		RetryDelaysDays: delays,
		MaxAttempts:     3,
		MaxTotalDays:    30,
		BackoffStrategy: strategy,
		Timezone:        "Europe/Paris",
		CutoffTime:      "10:00",
	}
}

func TestCutoffInstant(t *testing.T) {
	// 23:30 UTC on 1 March is already 2 March in Paris.
	got, err := CutoffInstant(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), "Europe/Paris", "10:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), got)

	// Summer time shifts the UTC instant by an hour.
	got, err = CutoffInstant(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC), "Europe/Paris", "10:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC), got)

	_, err = CutoffInstant(time.Now(), "Nowhere/City", "10:00")
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidTimezone))
	_, err = CutoffInstant(time.Now(), "UTC", "25:00")
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidCutoff))
}

func TestDelayDays(t *testing.T) {
	fixed := parisPolicy(types.BackoffFixed, 5, 10, 20)
	assert.Equal(t, 5, DelayDays(fixed, 0))
	assert.Equal(t, 10, DelayDays(fixed, 1))
	assert.Equal(t, 20, DelayDays(fixed, 2))
	assert.Equal(t, 20, DelayDays(fixed, 7), "last offset repeats")

	exp := parisPolicy(types.BackoffExponential, 3)
	assert.Equal(t, 3, DelayDays(exp, 0))
	assert.Equal(t, 6, DelayDays(exp, 1))
	assert.Equal(t, 12, DelayDays(exp, 2))
	assert.Equal(t, 3<<maxBackoffShift, DelayDays(exp, 100))
}

func TestRetryDatesFollowCutoffAcrossDST(t *testing.T) {
	p := parisPolicy(types.BackoffFixed, 5, 10, 20)
	rejected := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	first, err := FirstRetryDate(rejected, p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC), first)

	second, err := NextRetryDate(first, rejected, 1, p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC), second)

	third, err := NextRetryDate(second, rejected, 2, p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC), third, "10:00 CEST")
}

func TestExponentialClampedToWindow(t *testing.T) {
	p := parisPolicy(types.BackoffExponential, 10)
	rejected := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	first, err := FirstRetryDate(rejected, p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC), first)

	// 12 Mar + 20 days = 1 Apr, inside the 30-day window.
	second, err := NextRetryDate(first, rejected, 1, p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), second)

	// 1 Apr + 40 days exceeds the window ending 1 Apr.
	third, err := NextRetryDate(second, rejected, 2, p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), third)
}

func TestElapsedDays(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, ElapsedDays(start, start.Add(-time.Hour)))
	assert.Equal(t, 0, ElapsedDays(start, start.Add(23*time.Hour)))
	assert.Equal(t, 30, ElapsedDays(start, start.AddDate(0, 0, 30)))
}

func TestDateOnly(t *testing.T) {
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), DateOnly(time.Date(2026, 3, 2, 17, 4, 0, 0, time.UTC)))
}
