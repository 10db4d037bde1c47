package types

import (
	"fmt"
	"regexp"
	"time"
)

// Policy constraint constants.
const (
	MaxRetryDelayDays  = 365
	MaxPolicyAttempts  = 20
	MaxPolicyTotalDays = 365
	MaxNameLength      = 200
	MaxRejectionCode   = 50
	MaxCooldownHours   = 24 * 30
)

var cutoffPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ParseCutoff parses an "HH:MM" local time of day.
func ParseCutoff(s string) (hour, minute int, err error) {
	if !cutoffPattern.MatchString(s) {
		return 0, 0, fmt.Errorf("%s: %q is not HH:MM", ErrCodeValidationInvalidCutoff, s)
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", ErrCodeValidationInvalidCutoff, err)
	}
	return hour, minute, nil
}

// LoadLocation resolves an IANA timezone name, rejecting the empty string
// which time.LoadLocation would silently treat as UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("%s: timezone is required", ErrCodeValidationInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ErrCodeValidationInvalidTimezone, err)
	}
	return loc, nil
}

// Validate checks the retry policy's internal consistency.
func (p *RetryPolicy) Validate() error {
	if p.OrganisationID == "" {
		return NewAppError(ErrCodeValidationMissingField, "organisation_id is required", nil)
	}
	if len(p.Name) > MaxNameLength {
		return NewAppError(ErrCodeValidationInvalidInput, "name is too long", nil)
	}
	if len(p.RetryDelaysDays) == 0 {
		return NewAppError(ErrCodeValidationInvalidDelays, "retry_delays_days must not be empty", nil)
	}
	for i, d := range p.RetryDelaysDays {
		if d < 1 || d > MaxRetryDelayDays {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidDelays,
				"retry delays must be between 1 and 365 days", nil, map[string]any{"index": i, "value": d})
		}
	}
	if p.MaxAttempts < 1 || p.MaxAttempts > MaxPolicyAttempts {
		return NewAppError(ErrCodeValidationInvalidInput, "max_attempts must be between 1 and 20", nil)
	}
	if p.MaxTotalDays < 1 || p.MaxTotalDays > MaxPolicyTotalDays {
		return NewAppError(ErrCodeValidationInvalidInput, "max_total_days must be between 1 and 365", nil)
	}
	if !p.BackoffStrategy.Valid() {
		return NewAppError(ErrCodeValidationInvalidInput, fmt.Sprintf("unknown backoff strategy %q", p.BackoffStrategy), nil)
	}
	if _, err := LoadLocation(p.Timezone); err != nil {
		return NewAppError(ErrCodeValidationInvalidTimezone, "invalid timezone", err)
	}
	if _, _, err := ParseCutoff(p.CutoffTime); err != nil {
		return NewAppError(ErrCodeValidationInvalidCutoff, "invalid cutoff_time", err)
	}
	if p.ProductID == "" && p.Channel != "" {
		return NewAppError(ErrCodeValidationInvalidInput, "channel scoping requires product_id", nil)
	}
	return nil
}

// Validate checks the reminder policy's internal consistency.
func (p *ReminderPolicy) Validate() error {
	if p.OrganisationID == "" {
		return NewAppError(ErrCodeValidationMissingField, "organisation_id is required", nil)
	}
	if p.CooldownHours < 0 || p.CooldownHours > MaxCooldownHours {
		return NewAppError(ErrCodeValidationInvalidInput, "cooldown_hours out of range", nil)
	}
	if p.MaxRemindersPerDay < 0 || p.MaxRemindersPerWeek < 0 {
		return NewAppError(ErrCodeValidationInvalidInput, "reminder caps must not be negative", nil)
	}
	if p.AllowedStartHour < 0 || p.AllowedEndHour > 23 || p.AllowedStartHour > p.AllowedEndHour {
		return NewAppError(ErrCodeValidationInvalidWindow, "allowed hours must satisfy 0 <= start <= end <= 23", nil)
	}
	if len(p.AllowedDaysOfWeek) == 0 {
		return NewAppError(ErrCodeValidationInvalidWindow, "allowed_days_of_week must not be empty", nil)
	}
	for _, d := range p.AllowedDaysOfWeek {
		if d < 1 || d > 7 {
			return NewAppError(ErrCodeValidationInvalidWindow, "allowed_days_of_week uses ISO weekdays 1..7", nil)
		}
	}
	if _, err := LoadLocation(p.Timezone); err != nil {
		return NewAppError(ErrCodeValidationInvalidTimezone, "invalid timezone", err)
	}
	for _, r := range p.TriggerRules {
		if r.TemplateID == "" {
			return NewAppError(ErrCodeValidationMissingField, "trigger rule template_id is required", nil)
		}
		if r.DelayHours < 0 {
			return NewAppError(ErrCodeValidationInvalidInput, "trigger rule delay_hours must not be negative", nil)
		}
	}
	return nil
}
