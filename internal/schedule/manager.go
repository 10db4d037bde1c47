// Package schedule owns the RetrySchedule lifecycle: creation from a
// rejection, retry date computation, advancement after attempts, manual
// cancellation and replanning, and resolution.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"payretry/internal/audit"
	"payretry/internal/core"
	"payretry/internal/eligibility"
	"payretry/internal/types"
)

// eventValidator checks rejection events against their validate tags, the
// same rules the HTTP ingress applies.
var eventValidator = sync.OnceValues(func() (*core.Validator, error) {
	return core.NewValidator(slog.New(slog.DiscardHandler))
})

// validateEvent rejects a malformed event before anything is read or written.
func validateEvent(evt types.RejectionEvent) error {
	v, err := eventValidator()
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "rejection validator unavailable", err)
	}
	return v.ValidateStruct(evt)
}

// PolicyResolver finds the retry policy for a scope.
type PolicyResolver interface {
	ResolveRetryPolicy(ctx context.Context, scope types.PolicyScope) (*types.RetryPolicy, error)
}

// Reminders is the part of the reminder engine the manager drives.
// CancelPending runs inside the caller's transaction.
type Reminders interface {
	OnEvent(ctx context.Context, evt types.ReminderEvent) error
	CancelPending(ctx context.Context, repos types.Repositories, scheduleID, reason string) (int, error)
}

// Manager is the Schedule Manager.
type Manager struct {
	store     types.Store
	policies  PolicyResolver
	recorder  *audit.Recorder
	publisher types.EventPublisher
	reminders Reminders
	clock     types.Clock
	logger    types.Logger
}

// NewManager creates a Manager. publisher may be nil.
func NewManager(store types.Store, policies PolicyResolver, recorder *audit.Recorder, publisher types.EventPublisher, clock types.Clock, logger types.Logger) *Manager {
	return &Manager{
		store:     store,
		policies:  policies,
		recorder:  recorder,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// SetReminders wires the reminder engine. It is set after construction
// because the engine is built from the same store.
func (m *Manager) SetReminders(r Reminders) { m.reminders = r }

// IdempotencyKey derives the schedule key of a rejected payment.
func IdempotencyKey(orgID, originalPaymentID string) string {
	return "rejection:" + orgID + ":" + originalPaymentID
}

// IngestResult is the answer to a rejection ingress call.
type IngestResult struct {
	Processed   bool              `json:"processed"`
	ScheduleID  string            `json:"schedule_id"`
	Eligibility types.Eligibility `json:"eligibility"`
	Message     string            `json:"message"`
}

// HandlePaymentRejected is the ingress entry point for rejection events.
// Processed is false when the rejection was already known.
func (m *Manager) HandlePaymentRejected(ctx context.Context, evt types.RejectionEvent) (*IngestResult, error) {
	s, created, err := m.CreateFromRejection(ctx, evt)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Processed: created, ScheduleID: s.ID, Eligibility: s.Eligibility}
	switch {
	case !created:
		res.Message = "rejection already recorded"
	case s.Eligibility == types.EligibilityEligible:
		res.Message = fmt.Sprintf("retry scheduled for %s", s.NextRetryDate.Format(time.RFC3339))
	default:
		res.Message = s.EligibilityReason
	}
	return res, nil
}

// CreateFromRejection creates the schedule of a rejected payment, or returns
// the existing one (created=false) when the payment was already recorded.
func (m *Manager) CreateFromRejection(ctx context.Context, evt types.RejectionEvent) (*types.RetrySchedule, bool, error) {
	if err := validateEvent(evt); err != nil {
		return nil, false, err
	}
	if err := types.CheckOrganisation(ctx, evt.OrganisationID); err != nil {
		return nil, false, err
	}
	key := IdempotencyKey(evt.OrganisationID, evt.OriginalPaymentID)

	existing, err := m.store.Schedules().GetByIdempotencyKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !types.IsNotFound(err) {
		return nil, false, err
	}

	p, err := m.policies.ResolveRetryPolicy(ctx, evt.Scope())
	if err != nil {
		return nil, false, err
	}

	s, err := m.buildSchedule(evt, p, key)
	if err != nil {
		return nil, false, err
	}

	err = m.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		if err := repos.Schedules().Create(ctx, s); err != nil {
			return err
		}
		return m.recorder.Record(ctx, repos.AuditLog(), audit.Change{
			OrganisationID:  s.OrganisationID,
			EntityType:      types.EntityRetrySchedule,
			EntityID:        s.ID,
			Action:          types.AuditActionCreated,
			New:             s,
			RetryScheduleID: s.ID,
			PaymentID:       s.OriginalPaymentID,
		})
	})
	if types.HasCode(err, types.ErrCodeConflictDuplicate) {
		// A concurrent ingress call won the race.
		existing, getErr := m.store.Schedules().GetByIdempotencyKey(ctx, key)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	m.logger.Info("retry schedule created",
		"schedule_id", s.ID,
		"organisation_id", s.OrganisationID,
		"eligibility", s.Eligibility,
		"rejection_code", s.RejectionCode,
	)
	m.publish(ctx, types.EventScheduleCreated, s, map[string]any{
		"eligibility":     s.Eligibility,
		"rejection_code":  s.RejectionCode,
		"next_retry_date": s.NextRetryDate,
	})
	if s.IsResolved {
		m.publish(ctx, types.EventScheduleResolved, s, map[string]any{"resolution_reason": s.ResolutionReason})
	}
	if eligibility.IsAccountClosedClass(s.RejectionCode) {
		m.trigger(ctx, types.TriggerOnAM04Received, s, nil)
	}
	if s.Eligibility == types.EligibilityEligible {
		m.trigger(ctx, types.TriggerBeforeRetry, s, nil)
	}
	return s, true, nil
}

func (m *Manager) buildSchedule(evt types.RejectionEvent, p *types.RetryPolicy, key string) (*types.RetrySchedule, error) {
	now := m.clock.Now()
	in := eligibility.InputFromEvent(evt)
	decision := eligibility.Evaluate(in, p)

	currency := evt.Currency
	if currency == "" {
		currency = "EUR"
	}
	s := &types.RetrySchedule{
		ID:                types.NewID(types.PrefixSchedule),
		OrganisationID:    evt.OrganisationID,
		CompanyID:         evt.CompanyID,
		ProductID:         evt.ProductID,
		Channel:           evt.Channel,
		OriginalPaymentID: evt.OriginalPaymentID,
		SubscriptionID:    evt.SubscriptionID,
		InvoiceID:         evt.InvoiceID,
		ContractID:        evt.ContractID,
		ClientID:          evt.ClientID,
		PaymentMethodRef:  evt.PaymentMethodRef,
		RejectionCode:     in.RejectionCode,
		RejectionRawCode:  evt.RawRejectionCode,
		RejectionMessage:  evt.RejectionMessage,
		RejectionDate:     evt.RejectedAt.UTC(),
		RetryPolicyID:     p.ID,
		AmountCents:       evt.AmountCents,
		Currency:          currency,
		Eligibility:       decision.Eligibility,
		EligibilityReason: decision.Reason,
		MaxAttempts:       p.MaxAttempts,
		IdempotencyKey:    key,
		Metadata:          types.JSONMap{"policy_version": p.Version},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if !decision.Eligible() {
		resolve(s, decision.Reason, now)
		return s, nil
	}
	next, err := FirstRetryDate(s.RejectionDate, p)
	if err != nil {
		return nil, err
	}
	s.NextRetryDate = &next
	return s, nil
}

// EligibilityCheck is the result of a dry eligibility evaluation.
type EligibilityCheck struct {
	Eligibility    types.Eligibility `json:"eligibility"`
	Reason         string            `json:"reason,omitempty"`
	RejectionCode  string            `json:"rejection_code"`
	PolicyID       string            `json:"policy_id"`
	FirstRetryDate *time.Time        `json:"first_retry_date,omitempty"`
}

// CheckEligibility evaluates evt as CreateFromRejection would, without
// persisting anything.
func (m *Manager) CheckEligibility(ctx context.Context, evt types.RejectionEvent) (*EligibilityCheck, error) {
	if err := validateEvent(evt); err != nil {
		return nil, err
	}
	p, err := m.policies.ResolveRetryPolicy(ctx, evt.Scope())
	if err != nil {
		return nil, err
	}
	in := eligibility.InputFromEvent(evt)
	d := eligibility.Evaluate(in, p)
	res := &EligibilityCheck{
		Eligibility:   d.Eligibility,
		Reason:        d.Reason,
		RejectionCode: in.RejectionCode,
		PolicyID:      p.ID,
	}
	if d.Eligible() {
		first, err := FirstRetryDate(evt.RejectedAt, p)
		if err != nil {
			return nil, err
		}
		res.FirstRetryDate = &first
	}
	return res, nil
}

// Outcome is the terminal result of one attempt.
type Outcome struct {
	AttemptNumber int
	Succeeded     bool
	RejectionCode string
	Attempt       *types.RetryAttempt
}

// ApplyOutcome advances s after an attempt inside the caller's transaction
// and returns the updated schedule. It writes the schedule's audit entry;
// Committed must be called once the transaction commits.
func (m *Manager) ApplyOutcome(ctx context.Context, repos types.Repositories, s *types.RetrySchedule, o Outcome) (*types.RetrySchedule, error) {
	if s.IsResolved {
		return nil, alreadyResolved(s)
	}
	now := m.clock.Now()
	old := *s
	next := *s
	next.Metadata = s.Metadata.Clone()
	next.CurrentAttempt = max(s.CurrentAttempt, o.AttemptNumber)
	next.UpdatedAt = now

	action := types.AuditActionAdvanced
	switch {
	case o.Succeeded:
		resolve(&next, types.ResolutionPaid, now)
		action = types.AuditActionResolved
	default:
		if code := eligibility.NormalizeRejectionCode(o.RejectionCode); code != "" {
			next.RejectionCode = code
		}
		p, err := repos.RetryPolicies().GetByID(ctx, s.RetryPolicyID)
		if err != nil {
			return nil, err
		}
		decision := eligibility.Evaluate(eligibility.Input{RejectionCode: next.RejectionCode}, p)
		switch {
		case !decision.Eligible():
			next.Eligibility = decision.Eligibility
			next.EligibilityReason = decision.Reason
			resolve(&next, decision.Reason, now)
			action = types.AuditActionResolved
		case next.CurrentAttempt >= next.MaxAttempts:
			next.Eligibility = types.EligibilityNotEligibleMaxAttempts
			next.EligibilityReason = fmt.Sprintf("%d of %d attempts used", next.CurrentAttempt, next.MaxAttempts)
			resolve(&next, types.ResolutionExhausted, now)
			action = types.AuditActionResolved
		case ElapsedDays(next.RejectionDate, now) >= p.MaxTotalDays:
			next.Eligibility = types.EligibilityNotEligibleMaxAttempts
			next.EligibilityReason = fmt.Sprintf("retry window of %d days elapsed after %d of %d attempts",
				p.MaxTotalDays, next.CurrentAttempt, next.MaxAttempts)
			resolve(&next, types.ResolutionExhausted, now)
			action = types.AuditActionResolved
		default:
			prev := now
			if s.NextRetryDate != nil {
				prev = *s.NextRetryDate
			}
			date, err := NextRetryDate(prev, next.RejectionDate, next.CurrentAttempt, p)
			if err != nil {
				return nil, err
			}
			next.NextRetryDate = &date
		}
	}

	if err := repos.Schedules().Update(ctx, &next); err != nil {
		return nil, err
	}
	if next.IsResolved && m.reminders != nil {
		if _, err := m.reminders.CancelPending(ctx, repos, next.ID, "schedule resolved: "+next.ResolutionReason); err != nil {
			return nil, err
		}
	}
	change := audit.Change{
		OrganisationID:  next.OrganisationID,
		EntityType:      types.EntityRetrySchedule,
		EntityID:        next.ID,
		Action:          action,
		Old:             &old,
		New:             &next,
		RetryScheduleID: next.ID,
		PaymentID:       next.OriginalPaymentID,
	}
	if o.Attempt != nil {
		change.RetryAttemptID = o.Attempt.ID
	}
	if err := m.recorder.Record(ctx, repos.AuditLog(), change); err != nil {
		return nil, err
	}
	return &next, nil
}

// Committed emits the events and reminder triggers of an advancement that
// has been committed.
func (m *Manager) Committed(ctx context.Context, s *types.RetrySchedule, o Outcome) {
	if !o.Succeeded {
		m.trigger(ctx, types.TriggerAfterRetryFailed, s, o.Attempt)
	}
	switch {
	case s.IsResolved:
		m.publish(ctx, types.EventScheduleResolved, s, map[string]any{
			"resolution_reason": s.ResolutionReason,
			"current_attempt":   s.CurrentAttempt,
		})
		if s.ResolutionReason == types.ResolutionExhausted {
			m.trigger(ctx, types.TriggerAfterAllRetriesExhausted, s, o.Attempt)
		}
	case s.NextRetryDate != nil:
		m.trigger(ctx, types.TriggerBeforeRetry, s, o.Attempt)
	}
}

// AdvanceAfterAttempt loads the schedule, applies o and commits.
func (m *Manager) AdvanceAfterAttempt(ctx context.Context, scheduleID string, o Outcome) (*types.RetrySchedule, error) {
	var updated *types.RetrySchedule
	err := m.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		s, err := repos.Schedules().GetByID(ctx, scheduleID)
		if err != nil {
			return err
		}
		updated, err = m.ApplyOutcome(ctx, repos, s, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.Committed(ctx, updated, o)
	return updated, nil
}

// Cancel stops an unresolved schedule at an operator's request.
func (m *Manager) Cancel(ctx context.Context, scheduleID, reason string) (*types.RetrySchedule, error) {
	if reason == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "reason is required", nil)
	}
	actor := types.ActorOrDefault(ctx, types.SystemActor)
	updated, err := m.mutate(ctx, scheduleID, types.AuditActionCancelled, reason, func(s *types.RetrySchedule, now time.Time) error {
		s.Eligibility = types.EligibilityNotEligibleManualCancel
		s.EligibilityReason = reason
		s.Metadata["cancelledBy"] = actor.ID
		s.Metadata["cancelledAt"] = now.Format(time.RFC3339)
		s.Metadata["cancelReason"] = reason
		resolve(s, "Manually cancelled: "+reason, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("retry schedule cancelled", "schedule_id", scheduleID, "actor_id", actor.ID)
	m.publish(ctx, types.EventScheduleResolved, updated, map[string]any{"resolution_reason": updated.ResolutionReason})
	return updated, nil
}

// Replan moves the next retry of an unresolved schedule to date.
func (m *Manager) Replan(ctx context.Context, scheduleID string, date time.Time, reason string) (*types.RetrySchedule, error) {
	if date.Before(m.clock.Now()) {
		return nil, types.NewAppError(types.ErrCodeValidationReplanDate, "new retry date is in the past", nil)
	}
	return m.mutate(ctx, scheduleID, types.AuditActionReplanned, reason, func(s *types.RetrySchedule, _ time.Time) error {
		if s.Eligibility != types.EligibilityEligible {
			return types.NewAppError(types.ErrCodeValidationInvalidTransition, "only eligible schedules can be replanned", nil)
		}
		d := date.UTC()
		s.NextRetryDate = &d
		if reason != "" {
			s.Metadata["replanReason"] = reason
		}
		return nil
	})
}

// MarkResolved closes a schedule whose payment was settled through another
// channel.
func (m *Manager) MarkResolved(ctx context.Context, scheduleID, reason string) (*types.RetrySchedule, error) {
	if reason == "" {
		reason = types.ResolutionSettled
	}
	updated, err := m.mutate(ctx, scheduleID, types.AuditActionResolved, reason, func(s *types.RetrySchedule, now time.Time) error {
		s.Eligibility = types.EligibilityNotEligiblePaymentSettled
		s.EligibilityReason = "payment settled outside the retry flow"
		resolve(s, reason, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, types.EventScheduleResolved, updated, map[string]any{"resolution_reason": updated.ResolutionReason})
	return updated, nil
}

// mutate runs one operator mutation on an unresolved schedule with its audit
// entry. Pending reminders are cancelled when fn resolves the schedule.
func (m *Manager) mutate(ctx context.Context, scheduleID, action, reason string, fn func(s *types.RetrySchedule, now time.Time) error) (*types.RetrySchedule, error) {
	var updated *types.RetrySchedule
	err := m.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		old, err := repos.Schedules().GetByID(ctx, scheduleID)
		if err != nil {
			return err
		}
		if err := types.CheckOrganisation(ctx, old.OrganisationID); err != nil {
			return err
		}
		if old.IsResolved {
			return alreadyResolved(old)
		}

		now := m.clock.Now()
		s := *old
		s.Metadata = old.Metadata.Clone()
		if s.Metadata == nil {
			s.Metadata = types.JSONMap{}
		}
		if err := fn(&s, now); err != nil {
			return err
		}
		s.UpdatedAt = now
		if err := repos.Schedules().Update(ctx, &s); err != nil {
			return err
		}
		if s.IsResolved && m.reminders != nil {
			if _, err := m.reminders.CancelPending(ctx, repos, s.ID, reason); err != nil {
				return err
			}
		}
		updated = &s
		return m.recorder.Record(ctx, repos.AuditLog(), audit.Change{
			OrganisationID:  s.OrganisationID,
			EntityType:      types.EntityRetrySchedule,
			EntityID:        s.ID,
			Action:          action,
			Old:             old,
			New:             &s,
			RetryScheduleID: s.ID,
			PaymentID:       s.OriginalPaymentID,
			Metadata:        types.JSONMap{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get returns one schedule.
func (m *Manager) Get(ctx context.Context, id string) (*types.RetrySchedule, error) {
	s, err := m.store.Schedules().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := types.CheckOrganisation(ctx, s.OrganisationID); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns one page of schedules.
func (m *Manager) List(ctx context.Context, f types.ScheduleFilter) ([]*types.RetrySchedule, types.PageInfo, error) {
	f.Page = f.Page.Normalize()
	items, err := m.store.Schedules().List(ctx, f)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	items, info := types.Paginate(items, f.Page)
	return items, info, nil
}

// FindDue returns the schedules of orgID due at cutoff, oldest first.
func (m *Manager) FindDue(ctx context.Context, orgID string, cutoff time.Time, limit int) ([]*types.RetrySchedule, error) {
	return m.store.Schedules().FindDue(ctx, orgID, cutoff, limit)
}

// Statistics aggregates an organisation's schedules.
func (m *Manager) Statistics(ctx context.Context, orgID string) (*types.ScheduleStatistics, error) {
	return m.store.Schedules().Statistics(ctx, orgID)
}

func resolve(s *types.RetrySchedule, reason string, now time.Time) {
	s.IsResolved = true
	s.ResolutionReason = reason
	s.ResolvedAt = &now
	s.NextRetryDate = nil
}

func alreadyResolved(s *types.RetrySchedule) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictAlreadyResolved,
		"schedule is already resolved", nil,
		map[string]any{"schedule_id": s.ID, "resolution_reason": s.ResolutionReason})
}

func (m *Manager) publish(ctx context.Context, eventType string, s *types.RetrySchedule, payload map[string]any) {
	if m.publisher == nil {
		return
	}
	evt := types.LifecycleEvent{
		ID:             types.NewID(types.PrefixEvent),
		Type:           eventType,
		OrganisationID: s.OrganisationID,
		EntityID:       s.ID,
		OccurredAt:     m.clock.Now(),
		Payload:        payload,
	}
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("failed to publish lifecycle event",
			"event_type", eventType,
			"schedule_id", s.ID,
			"error", err,
		)
	}
}

func (m *Manager) trigger(ctx context.Context, trigger types.ReminderTrigger, s *types.RetrySchedule, a *types.RetryAttempt) {
	if m.reminders == nil {
		return
	}
	err := m.reminders.OnEvent(ctx, types.ReminderEvent{
		Trigger:    trigger,
		Schedule:   s,
		Attempt:    a,
		OccurredAt: m.clock.Now(),
	})
	if err != nil {
		m.logger.Warn("reminder trigger failed",
			"trigger", trigger,
			"schedule_id", s.ID,
			"error", err,
		)
	}
}
