package policy

import (
	"payretry/internal/types"
)

// CreateRetryPolicyRequest is the input of CreateRetryPolicy. Nil fields take
// the store defaults.
type CreateRetryPolicyRequest struct {
	types.PolicyScope
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description,omitempty"`

	RetryDelaysDays         []int                  `json:"retry_delays_days,omitempty" validate:"omitempty,min=1,dive,min=1,max=365"`
	MaxAttempts             *int                   `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=20"`
	MaxTotalDays            *int                   `json:"max_total_days,omitempty" validate:"omitempty,min=1,max=365"`
	RetryOnAM04             *bool                  `json:"retry_on_am04,omitempty"`
	RetryableCodes          []string               `json:"retryable_codes,omitempty" validate:"omitempty,dive,rejection_code"`
	NonRetryableCodes       []string               `json:"non_retryable_codes,omitempty" validate:"omitempty,dive,rejection_code"`
	StopOnPaymentSettled    *bool                  `json:"stop_on_payment_settled,omitempty"`
	StopOnContractCancelled *bool                  `json:"stop_on_contract_cancelled,omitempty"`
	StopOnMandateRevoked    *bool                  `json:"stop_on_mandate_revoked,omitempty"`
	BackoffStrategy         *types.BackoffStrategy `json:"backoff_strategy,omitempty" validate:"omitempty,oneof=FIXED EXPONENTIAL"`
	Timezone                *string                `json:"timezone,omitempty" validate:"omitempty,iana_tz"`
	CutoffTime              *string                `json:"cutoff_time,omitempty" validate:"omitempty,hhmm"`
	IsActive                *bool                  `json:"is_active,omitempty"`
	IsDefault               bool                   `json:"is_default,omitempty"`
	Priority                int                    `json:"priority,omitempty"`
}

// UpdateRetryPolicyRequest is a partial update; only non-nil fields change.
type UpdateRetryPolicyRequest struct {
	Name                    *string                `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description             *string                `json:"description,omitempty"`
	RetryDelaysDays         []int                  `json:"retry_delays_days,omitempty" validate:"omitempty,min=1,dive,min=1,max=365"`
	MaxAttempts             *int                   `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=20"`
	MaxTotalDays            *int                   `json:"max_total_days,omitempty" validate:"omitempty,min=1,max=365"`
	RetryOnAM04             *bool                  `json:"retry_on_am04,omitempty"`
	RetryableCodes          []string               `json:"retryable_codes,omitempty" validate:"omitempty,dive,rejection_code"`
	NonRetryableCodes       []string               `json:"non_retryable_codes,omitempty" validate:"omitempty,dive,rejection_code"`
	StopOnPaymentSettled    *bool                  `json:"stop_on_payment_settled,omitempty"`
	StopOnContractCancelled *bool                  `json:"stop_on_contract_cancelled,omitempty"`
	StopOnMandateRevoked    *bool                  `json:"stop_on_mandate_revoked,omitempty"`
	BackoffStrategy         *types.BackoffStrategy `json:"backoff_strategy,omitempty" validate:"omitempty,oneof=FIXED EXPONENTIAL"`
	Timezone                *string                `json:"timezone,omitempty" validate:"omitempty,iana_tz"`
	CutoffTime              *string                `json:"cutoff_time,omitempty" validate:"omitempty,hhmm"`
	IsActive                *bool                  `json:"is_active,omitempty"`
	IsDefault               *bool                  `json:"is_default,omitempty"`
	Priority                *int                   `json:"priority,omitempty"`
}

// CreateReminderPolicyRequest is the input of CreateReminderPolicy.
type CreateReminderPolicyRequest struct {
	types.PolicyScope
	Name         string              `json:"name" validate:"required,max=200"`
	TriggerRules []types.TriggerRule `json:"trigger_rules"`

	CooldownHours       *int    `json:"cooldown_hours,omitempty" validate:"omitempty,min=0,max=720"`
	MaxRemindersPerDay  *int    `json:"max_reminders_per_day,omitempty" validate:"omitempty,min=0"`
	MaxRemindersPerWeek *int    `json:"max_reminders_per_week,omitempty" validate:"omitempty,min=0"`
	AllowedStartHour    *int    `json:"allowed_start_hour,omitempty" validate:"omitempty,min=0,max=23"`
	AllowedEndHour      *int    `json:"allowed_end_hour,omitempty" validate:"omitempty,min=0,max=23"`
	AllowedDaysOfWeek   []int   `json:"allowed_days_of_week,omitempty" validate:"omitempty,dive,min=1,max=7"`
	Timezone            *string `json:"timezone,omitempty" validate:"omitempty,iana_tz"`
	RespectOptOut       *bool   `json:"respect_opt_out,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
	IsDefault           bool    `json:"is_default,omitempty"`
	Priority            int     `json:"priority,omitempty"`
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
