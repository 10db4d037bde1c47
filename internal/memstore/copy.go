package memstore

import (
	"encoding/json"
	"slices"
	"time"

	"payretry/internal/types"
)

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return slices.Clone(b)
}

func copyRetryPolicy(p *types.RetryPolicy) *types.RetryPolicy {
	c := *p
	c.RetryDelaysDays = slices.Clone(p.RetryDelaysDays)
	c.RetryableCodes = slices.Clone(p.RetryableCodes)
	c.NonRetryableCodes = slices.Clone(p.NonRetryableCodes)
	return &c
}

func copyReminderPolicy(p *types.ReminderPolicy) *types.ReminderPolicy {
	c := *p
	c.TriggerRules = slices.Clone(p.TriggerRules)
	c.AllowedDaysOfWeek = slices.Clone(p.AllowedDaysOfWeek)
	return &c
}

func copySchedule(s *types.RetrySchedule) *types.RetrySchedule {
	c := *s
	c.NextRetryDate = copyTime(s.NextRetryDate)
	c.ResolvedAt = copyTime(s.ResolvedAt)
	c.Metadata = s.Metadata.Clone()
	return &c
}

func copyAttempt(a *types.RetryAttempt) *types.RetryAttempt {
	c := *a
	c.ExecutedAt = copyTime(a.ExecutedAt)
	c.RawResponse = copyRaw(a.RawResponse)
	return &c
}

func copyJob(j *types.RetryJob) *types.RetryJob {
	c := *j
	c.StartedAt = copyTime(j.StartedAt)
	c.CompletedAt = copyTime(j.CompletedAt)
	c.FailedScheduleIDs = slices.Clone(j.FailedScheduleIDs)
	if j.FailureReasons != nil {
		c.FailureReasons = make(map[string]string, len(j.FailureReasons))
		for k, v := range j.FailureReasons {
			c.FailureReasons[k] = v
		}
	}
	return &c
}

func copyReminder(r *types.Reminder) *types.Reminder {
	c := *r
	c.SentAt = copyTime(r.SentAt)
	c.DeliveredAt = copyTime(r.DeliveredAt)
	c.TemplateVariables = r.TemplateVariables.Clone()
	return &c
}

func copyAudit(e *types.AuditEntry) *types.AuditEntry {
	c := *e
	c.OldValue = copyRaw(e.OldValue)
	c.NewValue = copyRaw(e.NewValue)
	c.ChangedFields = slices.Clone(e.ChangedFields)
	c.Metadata = e.Metadata.Clone()
	return &c
}
