package types

// Eligibility classifies whether a rejected payment may be retried, and if
// not, why.
type Eligibility string

const (
	EligibilityEligible                  Eligibility = "ELIGIBLE"
	EligibilityNotEligibleReasonCode     Eligibility = "NOT_ELIGIBLE_REASON_CODE"
	EligibilityNotEligibleMaxAttempts    Eligibility = "NOT_ELIGIBLE_MAX_ATTEMPTS"
	EligibilityNotEligiblePaymentSettled Eligibility = "NOT_ELIGIBLE_PAYMENT_SETTLED"
	EligibilityNotEligibleContract       Eligibility = "NOT_ELIGIBLE_CONTRACT_CANCELLED"
	EligibilityNotEligibleMandateRevoked Eligibility = "NOT_ELIGIBLE_MANDATE_REVOKED"
	EligibilityNotEligibleClientBlocked  Eligibility = "NOT_ELIGIBLE_CLIENT_BLOCKED"
	EligibilityNotEligibleManualCancel   Eligibility = "NOT_ELIGIBLE_MANUAL_CANCEL"
)

// AllEligibilities lists every eligibility value in declaration order.
var AllEligibilities = []Eligibility{
	EligibilityEligible,
	EligibilityNotEligibleReasonCode,
	EligibilityNotEligibleMaxAttempts,
	EligibilityNotEligiblePaymentSettled,
	EligibilityNotEligibleContract,
	EligibilityNotEligibleMandateRevoked,
	EligibilityNotEligibleClientBlocked,
	EligibilityNotEligibleManualCancel,
}

// Valid reports whether e is a known eligibility value.
func (e Eligibility) Valid() bool {
	for _, v := range AllEligibilities {
		if v == e {
			return true
		}
	}
	return false
}

// BackoffStrategy selects how the delay before the next attempt is computed.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "FIXED"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
)

// Valid reports whether b is a known strategy.
func (b BackoffStrategy) Valid() bool {
	return b == BackoffFixed || b == BackoffExponential
}

// Resolution reasons written on schedules the engine resolves itself. Manual
// cancellations and ineligibility carry free-form reasons instead.
const (
	ResolutionPaid      = "PAID"
	ResolutionExhausted = "EXHAUSTED"
	ResolutionSettled   = "SETTLED_EXTERNALLY"
)

// ----------------------------------------------------------------------------
// State machines
//
// Each status type carries an explicit transition table. Every declared status
// has an entry (terminal statuses map to nil) so the tables double as the
// exhaustive list of states, and tests iterate them to check closure.
// ----------------------------------------------------------------------------

// AttemptStatus is the lifecycle state of a single RetryAttempt.
type AttemptStatus string

const (
	AttemptScheduled  AttemptStatus = "SCHEDULED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted  AttemptStatus = "SUBMITTED"
	AttemptSucceeded  AttemptStatus = "SUCCEEDED"
	AttemptFailed     AttemptStatus = "FAILED"
	AttemptCancelled  AttemptStatus = "CANCELLED"
	AttemptSkipped    AttemptStatus = "SKIPPED"
)

var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptScheduled:  {AttemptInProgress, AttemptCancelled, AttemptSkipped},
	AttemptInProgress: {AttemptSubmitted},
	AttemptSubmitted:  {AttemptSucceeded, AttemptFailed},
	AttemptSucceeded:  nil,
	AttemptFailed:     nil,
	AttemptCancelled:  nil,
	AttemptSkipped:    nil,
}

// CanTransitionTo reports whether the attempt may move from s to next.
func (s AttemptStatus) CanTransitionTo(next AttemptStatus) bool {
	return contains(attemptTransitions[s], next)
}

// IsTerminal reports whether no further transitions are allowed.
func (s AttemptStatus) IsTerminal() bool {
	allowed, known := attemptTransitions[s]
	return known && len(allowed) == 0
}

// IsPendingConfirmation reports whether the attempt may already have reached
// the payment network and its outcome is not yet known.
func (s AttemptStatus) IsPendingConfirmation() bool {
	return s == AttemptInProgress || s == AttemptSubmitted
}

// AttemptStatuses returns every declared attempt status.
func AttemptStatuses() []AttemptStatus {
	return keys(attemptTransitions)
}

// JobStatus is the lifecycle state of a RetryJob.
type JobStatus string

const (
	JobPending   JobStatus = "JOB_PENDING"
	JobRunning   JobStatus = "JOB_RUNNING"
	JobCompleted JobStatus = "JOB_COMPLETED"
	JobFailed    JobStatus = "JOB_FAILED"
	JobPartial   JobStatus = "JOB_PARTIAL"
)

// A FAILED job is the only finished job that may run again under the same
// idempotency key.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobRunning, JobFailed},
	JobRunning:   {JobCompleted, JobPartial, JobFailed},
	JobCompleted: nil,
	JobPartial:   nil,
	JobFailed:    {JobRunning},
}

// CanTransitionTo reports whether the job may move from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	return contains(jobTransitions[s], next)
}

// IsFinished reports whether the job run has ended, successfully or not.
func (s JobStatus) IsFinished() bool {
	return s == JobCompleted || s == JobPartial || s == JobFailed
}

// JobStatuses returns every declared job status.
func JobStatuses() []JobStatus {
	return keys(jobTransitions)
}

// ReminderStatus mirrors provider delivery states for a Reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "REMINDER_PENDING"
	ReminderSent      ReminderStatus = "REMINDER_SENT"
	ReminderDelivered ReminderStatus = "REMINDER_DELIVERED"
	ReminderFailed    ReminderStatus = "REMINDER_FAILED"
	ReminderCancelled ReminderStatus = "REMINDER_CANCELLED"
	ReminderBounced   ReminderStatus = "REMINDER_BOUNCED"
	ReminderOpened    ReminderStatus = "REMINDER_OPENED"
	ReminderClicked   ReminderStatus = "REMINDER_CLICKED"
)

// A failed reminder may be dispatched again manually, hence FAILED -> SENT.
var reminderTransitions = map[ReminderStatus][]ReminderStatus{
	ReminderPending:   {ReminderSent, ReminderFailed, ReminderCancelled},
	ReminderSent:      {ReminderDelivered, ReminderBounced, ReminderFailed, ReminderOpened, ReminderClicked},
	ReminderDelivered: {ReminderOpened, ReminderClicked, ReminderBounced},
	ReminderOpened:    {ReminderClicked},
	ReminderFailed:    {ReminderSent, ReminderCancelled},
	ReminderClicked:   nil,
	ReminderBounced:   nil,
	ReminderCancelled: nil,
}

// CanTransitionTo reports whether the reminder may move from s to next.
func (s ReminderStatus) CanTransitionTo(next ReminderStatus) bool {
	return contains(reminderTransitions[s], next)
}

// IsTerminal reports whether no further transitions are allowed.
func (s ReminderStatus) IsTerminal() bool {
	allowed, known := reminderTransitions[s]
	return known && len(allowed) == 0
}

// CountsTowardsCaps reports whether a reminder in this status has reached
// the client and therefore counts for cooldown and daily/weekly caps.
func (s ReminderStatus) CountsTowardsCaps() bool {
	switch s {
	case ReminderSent, ReminderDelivered, ReminderOpened, ReminderClicked:
		return true
	}
	return false
}

// ReminderStatuses returns every declared reminder status.
func ReminderStatuses() []ReminderStatus {
	return keys(reminderTransitions)
}

// ReminderTrigger identifies the lifecycle event that fired a reminder.
type ReminderTrigger string

const (
	TriggerOnAM04Received           ReminderTrigger = "ON_AM04_RECEIVED"
	TriggerBeforeRetry              ReminderTrigger = "BEFORE_RETRY"
	TriggerAfterRetryFailed         ReminderTrigger = "AFTER_RETRY_FAILED"
	TriggerAfterAllRetriesExhausted ReminderTrigger = "AFTER_ALL_RETRIES_EXHAUSTED"
	TriggerManual                   ReminderTrigger = "MANUAL"
)

// ReminderChannel is the delivery medium of a reminder.
type ReminderChannel string

const (
	ChannelEmail            ReminderChannel = "EMAIL"
	ChannelSMS              ReminderChannel = "SMS"
	ChannelPhoneCall        ReminderChannel = "PHONE_CALL"
	ChannelPushNotification ReminderChannel = "PUSH_NOTIFICATION"
	ChannelPostalMail       ReminderChannel = "POSTAL_MAIL"
)

// AuditActorType identifies who caused an audited change.
type AuditActorType string

const (
	ActorSystem    AuditActorType = "SYSTEM"
	ActorUser      AuditActorType = "USER"
	ActorScheduler AuditActorType = "SCHEDULER"
	ActorWebhook   AuditActorType = "WEBHOOK"
)

// AuditEntityType names the record type an audit entry refers to.
type AuditEntityType string

const (
	EntityRetryPolicy    AuditEntityType = "RETRY_POLICY"
	EntityReminderPolicy AuditEntityType = "REMINDER_POLICY"
	EntityRetrySchedule  AuditEntityType = "RETRY_SCHEDULE"
	EntityRetryAttempt   AuditEntityType = "RETRY_ATTEMPT"
	EntityRetryJob       AuditEntityType = "RETRY_JOB"
	EntityReminder       AuditEntityType = "REMINDER"
)

// Audit action names.
const (
	AuditActionCreated        = "CREATED"
	AuditActionUpdated        = "UPDATED"
	AuditActionDeleted        = "DELETED"
	AuditActionCancelled      = "CANCELLED"
	AuditActionReplanned      = "REPLANNED"
	AuditActionResolved       = "RESOLVED"
	AuditActionAdvanced       = "ADVANCED"
	AuditActionStarted        = "STARTED"
	AuditActionSubmitted      = "SUBMITTED"
	AuditActionSucceeded      = "SUCCEEDED"
	AuditActionFailed         = "FAILED"
	AuditActionCompleted      = "COMPLETED"
	AuditActionSent           = "SENT"
	AuditActionDeliveryPrefix = "DELIVERY_"
)

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func keys[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
