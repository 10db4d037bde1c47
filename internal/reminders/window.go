package reminders

import (
	"slices"
	"time"

	"payretry/internal/types"
)

// isoWeekday maps time.Weekday to ISO numbering, Monday=1 .. Sunday=7.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func dayAllowed(p *types.ReminderPolicy, d time.Weekday) bool {
	return len(p.AllowedDaysOfWeek) == 0 || slices.Contains(p.AllowedDaysOfWeek, isoWeekday(d))
}

// InWindow reports whether t falls in the policy's allowed sending window:
// an allowed weekday, between AllowedStartHour:00 and AllowedEndHour:00
// local time, both ends included.
func InWindow(t time.Time, p *types.ReminderPolicy) (bool, error) {
	loc, err := location(p)
	if err != nil {
		return false, err
	}
	local := t.In(loc)
	if !dayAllowed(p, local.Weekday()) {
		return false, nil
	}
	minutes := local.Hour()*60 + local.Minute()
	if local.Second() > 0 || local.Nanosecond() > 0 {
		// 19:00:30 is past a 19:00 end.
		if minutes == p.AllowedEndHour*60 {
			return false, nil
		}
	}
	return minutes >= p.AllowedStartHour*60 && minutes <= p.AllowedEndHour*60, nil
}

// NextWindow returns t when it is inside the sending window, otherwise the
// start of the next window.
func NextWindow(t time.Time, p *types.ReminderPolicy) (time.Time, error) {
	ok, err := InWindow(t, p)
	if err != nil || ok {
		return t, err
	}
	loc, _ := location(p)
	local := t.In(loc)
	y, m, d := local.Date()
	for i := range 8 {
		start := time.Date(y, m, d+i, p.AllowedStartHour, 0, 0, 0, loc)
		if !dayAllowed(p, start.Weekday()) || !start.After(t) {
			continue
		}
		return start.UTC(), nil
	}
	return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidWindow, "reminder policy allows no sending window", nil)
}

func location(p *types.ReminderPolicy) (*time.Location, error) {
	if p.AllowedStartHour < 0 || p.AllowedEndHour > 23 || p.AllowedStartHour > p.AllowedEndHour {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidWindow, "invalid reminder time window", nil)
	}
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := types.LoadLocation(tz)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTimezone, "invalid timezone", err)
	}
	return loc, nil
}
