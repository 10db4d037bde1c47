package types

import (
	"encoding/json"
	"time"
)

// PolicyScope identifies where a policy applies. Empty optional fields mean
// "any": an organisation-default policy leaves all three empty.
type PolicyScope struct {
	OrganisationID string `json:"organisation_id" validate:"required"`
	CompanyID      string `json:"company_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	Channel        string `json:"channel,omitempty"`
}

// RetryPolicy is the versioned configuration that drives eligibility and
// retry date computation for an organisation scope.
type RetryPolicy struct {
	ID string `json:"id"`
	PolicyScope

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	RetryDelaysDays         []int           `json:"retry_delays_days"`
	MaxAttempts             int             `json:"max_attempts"`
	MaxTotalDays            int             `json:"max_total_days"`
	RetryOnAM04             bool            `json:"retry_on_am04"`
	RetryableCodes          []string        `json:"retryable_codes"`
	NonRetryableCodes       []string        `json:"non_retryable_codes"`
	StopOnPaymentSettled    bool            `json:"stop_on_payment_settled"`
	StopOnContractCancelled bool            `json:"stop_on_contract_cancelled"`
	StopOnMandateRevoked    bool            `json:"stop_on_mandate_revoked"`
	BackoffStrategy         BackoffStrategy `json:"backoff_strategy"`
	Timezone                string          `json:"timezone"`
	CutoffTime              string          `json:"cutoff_time"`

	IsActive  bool `json:"is_active"`
	IsDefault bool `json:"is_default"`
	Priority  int  `json:"priority"`
	Version   int  `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerRule maps a lifecycle trigger to a templated message on one channel.
type TriggerRule struct {
	ID         string          `json:"id"`
	Trigger    ReminderTrigger `json:"trigger"`
	Channel    ReminderChannel `json:"channel"`
	TemplateID string          `json:"template_id"`
	DelayHours int             `json:"delay_hours"`
}

// ReminderPolicy governs which reminders are sent and how often.
type ReminderPolicy struct {
	ID string `json:"id"`
	PolicyScope

	Name         string          `json:"name"`
	TriggerRules TriggerRuleList `json:"trigger_rules"`

	CooldownHours       int    `json:"cooldown_hours"`
	MaxRemindersPerDay  int    `json:"max_reminders_per_day"`
	MaxRemindersPerWeek int    `json:"max_reminders_per_week"`
	AllowedStartHour    int    `json:"allowed_start_hour"`
	AllowedEndHour      int    `json:"allowed_end_hour"`
	AllowedDaysOfWeek   []int  `json:"allowed_days_of_week"` // ISO weekday, 1=Monday..7=Sunday
	Timezone            string `json:"timezone"`
	RespectOptOut       bool   `json:"respect_opt_out"`

	IsActive  bool `json:"is_active"`
	IsDefault bool `json:"is_default"`
	Priority  int  `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetrySchedule tracks one rejected payment from rejection to resolution.
//
// Invariants: IsResolved implies NextRetryDate == nil, and a schedule whose
// Eligibility is not ELIGIBLE never gets another attempt.
type RetrySchedule struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	CompanyID      string `json:"company_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	Channel        string `json:"channel,omitempty"`

	OriginalPaymentID string `json:"original_payment_id"`
	SubscriptionID    string `json:"subscription_id"`
	InvoiceID         string `json:"invoice_id,omitempty"`
	ContractID        string `json:"contract_id,omitempty"`
	ClientID          string `json:"client_id"`
	PaymentMethodRef  string `json:"payment_method_ref,omitempty"`

	RejectionCode    string    `json:"rejection_code"`
	RejectionRawCode string    `json:"rejection_raw_code"`
	RejectionMessage string    `json:"rejection_message,omitempty"`
	RejectionDate    time.Time `json:"rejection_date"`

	RetryPolicyID string `json:"retry_policy_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`

	Eligibility       Eligibility `json:"eligibility"`
	EligibilityReason string      `json:"eligibility_reason,omitempty"`

	CurrentAttempt int        `json:"current_attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRetryDate  *time.Time `json:"next_retry_date"`

	IsResolved       bool       `json:"is_resolved"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`

	IdempotencyKey string  `json:"idempotency_key"`
	Metadata       JSONMap `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue reports whether the schedule may be attempted at instant now.
func (s *RetrySchedule) IsDue(now time.Time) bool {
	return !s.IsResolved &&
		s.Eligibility == EligibilityEligible &&
		s.NextRetryDate != nil &&
		!s.NextRetryDate.After(now)
}

// RetryAttempt is one execution try of a schedule.
type RetryAttempt struct {
	ID              string        `json:"id"`
	RetryScheduleID string        `json:"retry_schedule_id"`
	AttemptNumber   int           `json:"attempt_number"`
	PlannedDate     time.Time     `json:"planned_date"`
	ExecutedAt      *time.Time    `json:"executed_at,omitempty"`
	Status          AttemptStatus `json:"status"`

	PaymentIntentID  string          `json:"payment_intent_id,omitempty"`
	NetworkRef       string          `json:"network_ref,omitempty"`
	RawResponse      json.RawMessage `json:"raw_response,omitempty"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	NewRejectionCode string          `json:"new_rejection_code,omitempty"`

	RetryJobID     string `json:"retry_job_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetryJob is one batch execution for an (organisation, target date) pair.
type RetryJob struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	TargetDate     time.Time `json:"target_date"`
	Timezone       string    `json:"timezone"`
	CutoffTime     string    `json:"cutoff_time"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      JobStatus  `json:"status"`

	TotalAttempts      int `json:"total_attempts"`
	SuccessfulAttempts int `json:"successful_attempts"`
	FailedAttempts     int `json:"failed_attempts"`
	SkippedAttempts    int `json:"skipped_attempts"`

	ErrorMessage      string            `json:"error_message,omitempty"`
	FailedScheduleIDs []string          `json:"failed_schedule_ids"`
	FailureReasons    map[string]string `json:"failure_reasons,omitempty"`

	IdempotencyKey string `json:"idempotency_key"`
	TriggeredBy    string `json:"triggered_by"`
	IsManual       bool   `json:"is_manual"`
	DryRun         bool   `json:"dry_run"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reminder is one dispatched (or planned) customer message.
type Reminder struct {
	ID               string `json:"id"`
	OrganisationID   string `json:"organisation_id"`
	CompanyID        string `json:"company_id,omitempty"`
	RetryScheduleID  string `json:"retry_schedule_id"`
	RetryAttemptID   string `json:"retry_attempt_id,omitempty"`
	ClientID         string `json:"client_id"`
	ReminderPolicyID string `json:"reminder_policy_id"`
	TriggerRuleID    string `json:"trigger_rule_id,omitempty"`

	Channel           ReminderChannel `json:"channel"`
	TemplateID        string          `json:"template_id"`
	TemplateVariables JSONMap         `json:"template_variables,omitempty"`
	Trigger           ReminderTrigger `json:"trigger"`

	PlannedAt   time.Time      `json:"planned_at"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	Status      ReminderStatus `json:"status"`

	ProviderName      string `json:"provider_name,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	DeliveryStatusRaw string `json:"delivery_status_raw,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	RetryCount        int    `json:"retry_count"`

	IdempotencyKey string `json:"idempotency_key"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry is an append-only record of a state transition. Sequence is
// assigned by the store and is strictly increasing.
type AuditEntry struct {
	ID             string          `json:"id"`
	Sequence       int64           `json:"sequence"`
	OrganisationID string          `json:"organisation_id"`
	EntityType     AuditEntityType `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Action         string          `json:"action"`

	OldValue      json.RawMessage `json:"old_value,omitempty"`
	NewValue      json.RawMessage `json:"new_value,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`

	RetryScheduleID string `json:"retry_schedule_id,omitempty"`
	RetryAttemptID  string `json:"retry_attempt_id,omitempty"`
	ReminderID      string `json:"reminder_id,omitempty"`
	PaymentID       string `json:"payment_id,omitempty"`

	ActorType AuditActorType `json:"actor_type"`
	ActorID   string         `json:"actor_id,omitempty"`
	ActorIP   string         `json:"actor_ip,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Metadata  JSONMap   `json:"metadata,omitempty"`
}

// AuditActor identifies who performed a mutation.
type AuditActor struct {
	Type AuditActorType `json:"type"`
	ID   string         `json:"id,omitempty"`
	IP   string         `json:"ip,omitempty"`
}

// SchedulerActor is the actor used for batch and cron-driven mutations.
var SchedulerActor = AuditActor{Type: ActorScheduler, ID: "retry-scheduler"}

// SystemActor is the actor used for engine-internal mutations.
var SystemActor = AuditActor{Type: ActorSystem, ID: "system"}

// RejectionEvent is the ingress payload emitted by the payment-processing
// component whenever a collection attempt fails.
type RejectionEvent struct {
	OrganisationID    string    `json:"organisation_id" validate:"required"`
	CompanyID         string    `json:"company_id,omitempty"`
	ProductID         string    `json:"product_id,omitempty"`
	Channel           string    `json:"channel,omitempty"`
	OriginalPaymentID string    `json:"original_payment_id" validate:"required"`
	SubscriptionID    string    `json:"subscription_id" validate:"required"`
	InvoiceID         string    `json:"invoice_id,omitempty"`
	ContractID        string    `json:"contract_id,omitempty"`
	ClientID          string    `json:"client_id" validate:"required"`
	PaymentMethodRef  string    `json:"payment_method_ref,omitempty"`
	RejectionCode     string    `json:"rejection_code,omitempty"`
	RawRejectionCode  string    `json:"raw_rejection_code" validate:"required,max=50"`
	RejectionMessage  string    `json:"rejection_message,omitempty"`
	RejectedAt        time.Time `json:"rejected_at" validate:"required"`
	AmountCents       int64     `json:"amount_cents" validate:"gt=0"`
	Currency          string    `json:"currency" validate:"omitempty,len=3"`

	PaymentSettled    bool `json:"payment_settled,omitempty"`
	ContractCancelled bool `json:"contract_cancelled,omitempty"`
	MandateRevoked    bool `json:"mandate_revoked,omitempty"`
	ClientBlocked     bool `json:"client_blocked,omitempty"`
}

// Scope returns the policy scope the event resolves against.
func (e RejectionEvent) Scope() PolicyScope {
	return PolicyScope{
		OrganisationID: e.OrganisationID,
		CompanyID:      e.CompanyID,
		ProductID:      e.ProductID,
		Channel:        e.Channel,
	}
}

// ScheduleStatistics aggregates schedule state for one organisation.
type ScheduleStatistics struct {
	Total                    int                 `json:"total"`
	Eligible                 int                 `json:"eligible"`
	Resolved                 int                 `json:"resolved"`
	Pending                  int                 `json:"pending"`
	ByEligibility            map[Eligibility]int `json:"by_eligibility"`
	AvgAttemptsBeforeSuccess float64             `json:"avg_attempts_before_success"`
}

// JobMetrics aggregates job counters over a date range.
type JobMetrics struct {
	Jobs               int     `json:"jobs"`
	CompletedJobs      int     `json:"completed_jobs"`
	PartialJobs        int     `json:"partial_jobs"`
	FailedJobs         int     `json:"failed_jobs"`
	TotalAttempts      int     `json:"total_attempts"`
	SuccessfulAttempts int     `json:"successful_attempts"`
	FailedAttempts     int     `json:"failed_attempts"`
	SkippedAttempts    int     `json:"skipped_attempts"`
	SuccessRate        float64 `json:"success_rate"`
}
