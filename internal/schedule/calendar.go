package schedule

import (
	"time"

	"payretry/internal/types"
)

// maxBackoffShift bounds the exponent of exponential backoff; the result is
// clamped to the policy's retry window long before this.
const maxBackoffShift = 16

// CutoffInstant returns the UTC instant of cutoff ("HH:MM") on the local
// calendar day of day in timezone tz.
func CutoffInstant(day time.Time, tz, cutoff string) (time.Time, error) {
	loc, err := types.LoadLocation(tz)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone, "invalid timezone", err)
	}
	hour, minute, err := types.ParseCutoff(cutoff)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidCutoff, "invalid cutoff time", err)
	}
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc).UTC(), nil
}

// DateOnly returns the calendar date of t in UTC at midnight. Job target
// dates are stored this way.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DelayDays returns the number of days between attempt n (0-based) and the
// next one under p.
//
// FIXED uses RetryDelaysDays[n], repeating the last offset once the list is
// shorter than MaxAttempts. EXPONENTIAL uses RetryDelaysDays[0] * 2^n.
func DelayDays(p *types.RetryPolicy, n int) int {
	if len(p.RetryDelaysDays) == 0 {
		return 0
	}
	n = max(n, 0)
	if p.BackoffStrategy == types.BackoffExponential {
		return p.RetryDelaysDays[0] << min(n, maxBackoffShift)
	}
	return p.RetryDelaysDays[min(n, len(p.RetryDelaysDays)-1)]
}

// FirstRetryDate is the rejection's local calendar day plus the first delay,
// at the policy cutoff.
func FirstRetryDate(rejectedAt time.Time, p *types.RetryPolicy) (time.Time, error) {
	return shiftToCutoff(rejectedAt, DelayDays(p, 0), p)
}

// NextRetryDate computes the date of the attempt following attempt number
// attemptsMade (1-based), counting from the previous planned date prev.
// Exponential schedules are clamped to the last day of the retry window.
func NextRetryDate(prev, rejectedAt time.Time, attemptsMade int, p *types.RetryPolicy) (time.Time, error) {
	next, err := shiftToCutoff(prev, DelayDays(p, attemptsMade), p)
	if err != nil {
		return time.Time{}, err
	}
	if p.BackoffStrategy == types.BackoffExponential {
		limit, err := shiftToCutoff(rejectedAt, p.MaxTotalDays, p)
		if err != nil {
			return time.Time{}, err
		}
		if next.After(limit) {
			next = limit
		}
	}
	return next, nil
}

// ElapsedDays counts whole days between the rejection and now.
func ElapsedDays(rejectedAt, now time.Time) int {
	if now.Before(rejectedAt) {
		return 0
	}
	return int(now.Sub(rejectedAt) / (24 * time.Hour))
}

func shiftToCutoff(from time.Time, days int, p *types.RetryPolicy) (time.Time, error) {
	loc, err := types.LoadLocation(p.Timezone)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone, "invalid policy timezone", err)
	}
	local := from.In(loc).AddDate(0, 0, days)
	return CutoffInstant(local, p.Timezone, p.CutoffTime)
}
