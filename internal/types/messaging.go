package types

import (
	"context"
	"encoding/json"
	"time"
)

// PaymentOutcome is the synchronous verdict of the payment network.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "SUCCEEDED"
	PaymentFailed    PaymentOutcome = "FAILED"
	PaymentPending   PaymentOutcome = "PENDING"
)

// PaymentSubmission is the request sent to the payment capability for one
// retry attempt. The idempotency key is derived from (schedule, attempt).
type PaymentSubmission struct {
	IdempotencyKey   string
	OrganisationID   string
	ScheduleID       string
	AttemptNumber    int
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
	CustomerRef      string
	Description      string
}

// PaymentResult is the capability's answer for a submission.
type PaymentResult struct {
	Status          PaymentOutcome
	PaymentIntentID string
	NetworkRef      string
	RejectionCode   string
	Message         string
	RawResponse     json.RawMessage
}

// AttemptConfirmation is an asynchronous outcome for a SUBMITTED attempt,
// typically delivered by a payment webhook.
type AttemptConfirmation struct {
	Succeeded     bool            `json:"succeeded"`
	RejectionCode string          `json:"rejection_code,omitempty"`
	Message       string          `json:"message,omitempty"`
	NetworkRef    string          `json:"network_ref,omitempty"`
	RawResponse   json.RawMessage `json:"-"`
}

// ClientContact is the reachable identity of a debtor.
type ClientContact struct {
	ClientID  string
	Name      string
	Email     string
	Phone     string
	PushToken string
	Address   string
	Locale    string
	OptedOut  bool
}

// RecipientFor returns the address used for the given channel, or "" when
// the client cannot be reached on it.
func (c *ClientContact) RecipientFor(channel ReminderChannel) string {
	switch channel {
	case ChannelEmail:
		return c.Email
	case ChannelSMS, ChannelPhoneCall:
		return c.Phone
	case ChannelPushNotification:
		return c.PushToken
	case ChannelPostalMail:
		return c.Address
	}
	return ""
}

// OutboundMessage is the request sent to the notification capability.
type OutboundMessage struct {
	Channel        ReminderChannel
	TemplateID     string
	Variables      map[string]any
	Recipient      string
	RecipientName  string
	IdempotencyKey string
}

// SendResult is the notification capability's answer.
type SendResult struct {
	ProviderName      string
	ProviderMessageID string
	Status            string
}

// Lifecycle event types published after commit.
const (
	EventScheduleCreated  = "retry.schedule.created"
	EventScheduleResolved = "retry.schedule.resolved"
	EventAttemptSucceeded = "retry.attempt.succeeded"
	EventAttemptFailed    = "retry.attempt.failed"
	EventJobCompleted     = "retry.job.completed"
	EventReminderSent     = "reminder.sent"
)

// LifecycleEvent is the envelope published to the event bus. JSON tags use
// snake_case to match downstream consumers.
type LifecycleEvent struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrganisationID string         `json:"organisation_id"`
	EntityID       string         `json:"entity_id"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// ReminderEvent is a schedule or attempt occurrence the reminder engine may
// react to. Attempt is nil for schedule-level triggers.
type ReminderEvent struct {
	Trigger    ReminderTrigger
	Schedule   *RetrySchedule
	Attempt    *RetryAttempt
	OccurredAt time.Time
}

// ReminderTriggerer receives lifecycle occurrences after they are committed.
type ReminderTriggerer interface {
	OnEvent(ctx context.Context, evt ReminderEvent) error
}
