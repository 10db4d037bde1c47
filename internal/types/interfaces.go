package types

import (
	"context"
	"time"
)

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the engine.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// RetryPolicyRepository defines data access for retry policies.
type RetryPolicyRepository interface {
	Create(ctx context.Context, p *RetryPolicy) error
	Update(ctx context.Context, p *RetryPolicy) error
	GetByID(ctx context.Context, id string) (*RetryPolicy, error)
	List(ctx context.Context, f PolicyFilter) ([]*RetryPolicy, error)
	// ListActive returns every active policy of the organisation regardless
	// of scope; ranking happens in the policy package.
	ListActive(ctx context.Context, orgID string) ([]*RetryPolicy, error)
	Delete(ctx context.Context, id string) error
}

// ReminderPolicyRepository defines data access for reminder policies.
type ReminderPolicyRepository interface {
	Create(ctx context.Context, p *ReminderPolicy) error
	Update(ctx context.Context, p *ReminderPolicy) error
	GetByID(ctx context.Context, id string) (*ReminderPolicy, error)
	List(ctx context.Context, f PolicyFilter) ([]*ReminderPolicy, error)
	ListActive(ctx context.Context, orgID string) ([]*ReminderPolicy, error)
}

// RetryScheduleRepository defines data access for retry schedules.
// Create returns a conflict_duplicate AppError when the idempotency key is
// already taken.
type RetryScheduleRepository interface {
	Create(ctx context.Context, s *RetrySchedule) error
	Update(ctx context.Context, s *RetrySchedule) error
	GetByID(ctx context.Context, id string) (*RetrySchedule, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*RetrySchedule, error)
	List(ctx context.Context, f ScheduleFilter) ([]*RetrySchedule, error)
	// FindDue returns unresolved ELIGIBLE schedules of orgID whose
	// next_retry_date is at or before cutoff, oldest first.
	FindDue(ctx context.Context, orgID string, cutoff time.Time, limit int) ([]*RetrySchedule, error)
	// OrganisationsWithDue returns the distinct organisations that have at
	// least one schedule due at cutoff.
	OrganisationsWithDue(ctx context.Context, cutoff time.Time) ([]string, error)
	CountByPolicy(ctx context.Context, policyID string) (int, error)
	Statistics(ctx context.Context, orgID string) (*ScheduleStatistics, error)
}

// RetryAttemptRepository defines data access for retry attempts.
// Create returns a conflict_duplicate AppError when (schedule, attempt number)
// or the idempotency key is already taken.
type RetryAttemptRepository interface {
	Create(ctx context.Context, a *RetryAttempt) error
	Update(ctx context.Context, a *RetryAttempt) error
	GetByID(ctx context.Context, id string) (*RetryAttempt, error)
	GetByScheduleAndNumber(ctx context.Context, scheduleID string, attemptNumber int) (*RetryAttempt, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*RetryAttempt, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]*RetryAttempt, error)
}

// RetryJobRepository defines data access for retry jobs.
// Create returns a conflict_duplicate AppError when the idempotency key is
// already taken.
type RetryJobRepository interface {
	Create(ctx context.Context, j *RetryJob) error
	Update(ctx context.Context, j *RetryJob) error
	GetByID(ctx context.Context, id string) (*RetryJob, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*RetryJob, error)
	List(ctx context.Context, f JobFilter) ([]*RetryJob, error)
}

// ReminderRepository defines data access for reminders.
// Create returns a conflict_duplicate AppError when the occurrence key is
// already taken.
type ReminderRepository interface {
	Create(ctx context.Context, r *Reminder) error
	Update(ctx context.Context, r *Reminder) error
	GetByID(ctx context.Context, id string) (*Reminder, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Reminder, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*Reminder, error)
	List(ctx context.Context, f ReminderFilter) ([]*Reminder, error)
	// ListDue returns PENDING reminders planned at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)
	// ListSentSince returns the reminders of a client that reached the client
	// (see ReminderStatus.CountsTowardsCaps) with sent_at >= since.
	ListSentSince(ctx context.Context, orgID, clientID string, since time.Time) ([]*Reminder, error)
}

// AuditLogRepository is the append-only audit store. Append assigns ID and
// Sequence; there is deliberately no update or delete.
type AuditLogRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
}

// ClientDirectory resolves reminder recipients and their contact
// preferences. The client records themselves live outside this engine.
type ClientDirectory interface {
	GetContact(ctx context.Context, orgID, clientID string) (*ClientContact, error)
}

// JobLocker provides a distributed mutual-exclusion lock for cron runs.
// Locks expire after ttl even if never released.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// Repositories provides access to all repository instances bound to the same
// connection (pool or transaction).
type Repositories interface {
	RetryPolicies() RetryPolicyRepository
	ReminderPolicies() ReminderPolicyRepository
	Schedules() RetryScheduleRepository
	Attempts() RetryAttemptRepository
	Jobs() RetryJobRepository
	Reminders() ReminderRepository
	AuditLog() AuditLogRepository
}

// TransactionManager provides transactional execution across repositories.
// The repositories passed to fn are bound to the transaction; returning an
// error from fn rolls everything back, including audit entries.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Store is the full persistence surface the engine depends on.
type Store interface {
	Repositories
	TransactionManager
}

// PaymentSubmitter is the payment network capability. Implementations must be
// idempotent on PaymentSubmission.IdempotencyKey.
type PaymentSubmitter interface {
	Submit(ctx context.Context, req PaymentSubmission) (*PaymentResult, error)
}

// NotificationSender is the message delivery capability for one or more
// reminder channels.
type NotificationSender interface {
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
}

// EventPublisher emits lifecycle events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, evt LifecycleEvent) error
}

// EngineMetrics records engine-level telemetry.
type EngineMetrics interface {
	RecordAttempt(ctx context.Context, result string)
	RecordJobDuration(ctx context.Context, orgID string, d time.Duration)
	RecordReminder(ctx context.Context, channel ReminderChannel, result string)
}
