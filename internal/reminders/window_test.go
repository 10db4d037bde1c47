package reminders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/types"
)

func parisPolicy() *types.ReminderPolicy {
	return &types.ReminderPolicy{
		AllowedStartHour:  9,
		AllowedEndHour:    19,
		AllowedDaysOfWeek: []int{1, 2, 3, 4, 5},
		Timezone:          "Europe/Paris",
	}
}

func TestInWindow(t *testing.T) {
	p := parisPolicy()
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		// March 2026: Paris is UTC+1 until the 29th.
		{"wednesday morning", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), true},
		{"start inclusive", time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC), true},
		{"before start", time.Date(2026, 3, 4, 7, 59, 0, 0, time.UTC), false},
		{"end inclusive", time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC), true},
		{"just past end", time.Date(2026, 3, 4, 18, 0, 30, 0, time.UTC), false},
		{"saturday", time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC), false},
		{"after dst switch", time.Date(2026, 3, 30, 7, 30, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InWindow(tt.at, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextWindow(t *testing.T) {
	p := parisPolicy()
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"inside stays", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)},
		{"early morning same day", time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC), time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)},
		{"evening next day", time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC), time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)},
		{"friday evening to monday", time.Date(2026, 3, 6, 19, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)},
		{"weekend across dst", time.Date(2026, 3, 28, 12, 0, 0, 0, time.UTC), time.Date(2026, 3, 30, 7, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextWindow(tt.at, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextWindowAllDaysWhenUnset(t *testing.T) {
	p := parisPolicy()
	p.AllowedDaysOfWeek = nil
	got, err := NextWindow(time.Date(2026, 3, 7, 20, 0, 0, 0, time.UTC), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 8, 8, 0, 0, 0, time.UTC), got)
}

func TestWindowErrors(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	p := parisPolicy()
	p.AllowedStartHour, p.AllowedEndHour = 20, 8
	_, err := InWindow(at, p)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidWindow))

	p = parisPolicy()
	p.Timezone = "Nowhere/City"
	_, err = NextWindow(at, p)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidTimezone))

	p = parisPolicy()
	p.AllowedDaysOfWeek = []int{9}
	_, err = NextWindow(at, p)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidWindow))
}
