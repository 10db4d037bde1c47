// Package reminders implements the Reminder Engine. It turns schedule and
// attempt lifecycle events into Reminder rows according to the matching
// ReminderPolicy and dispatches them through the notification capability,
// enforcing opt-out, cooldown, daily and weekly caps, and quiet hours.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payretry/internal/audit"
	"payretry/internal/types"
)

// Suppression codes recorded on reminders cancelled by a send rule.
const (
	SuppressedOptOut    = "OPTED_OUT"
	SuppressedCooldown  = "COOLDOWN"
	SuppressedDailyCap  = "DAILY_CAP"
	SuppressedWeeklyCap = "WEEKLY_CAP"

	errNoRecipient = "NO_RECIPIENT"
	errSendFailed  = "SEND_FAILED"
)

// PolicyResolver picks the reminder policy for a scope.
type PolicyResolver interface {
	ResolveReminderPolicy(ctx context.Context, scope types.PolicyScope) (*types.ReminderPolicy, error)
}

// Engine is the Reminder Engine.
type Engine struct {
	store     types.Store
	policies  PolicyResolver
	contacts  types.ClientDirectory
	sender    types.NotificationSender
	recorder  *audit.Recorder
	publisher types.EventPublisher
	metrics   types.EngineMetrics
	clock     types.Clock
	logger    types.Logger
	batchSize int
}

var _ types.ReminderTriggerer = (*Engine)(nil)

// NewEngine creates an Engine. publisher and metrics may be nil.
func NewEngine(
	store types.Store,
	policies PolicyResolver,
	contacts types.ClientDirectory,
	sender types.NotificationSender,
	recorder *audit.Recorder,
	publisher types.EventPublisher,
	metrics types.EngineMetrics,
	clock types.Clock,
	logger types.Logger,
	batchSize int,
) *Engine {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Engine{
		store:     store,
		policies:  policies,
		contacts:  contacts,
		sender:    sender,
		recorder:  recorder,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		batchSize: batchSize,
	}
}

// OccurrenceKey identifies one trigger occurrence on one channel. A second
// event for the same occurrence never creates a second reminder.
func OccurrenceKey(scheduleID string, trigger types.ReminderTrigger, channel types.ReminderChannel, attemptID string) string {
	if attemptID == "" {
		attemptID = "initial"
	}
	return fmt.Sprintf("%s:%s:%s:%s", scheduleID, trigger, channel, attemptID)
}

// occurrence strips the channel from a reminder's key: reminders of the same
// occurrence on different channels do not throttle each other.
func occurrence(r *types.Reminder) string {
	attemptID := r.RetryAttemptID
	if attemptID == "" {
		attemptID = "initial"
	}
	return fmt.Sprintf("%s:%s:%s", r.RetryScheduleID, r.Trigger, attemptID)
}

// OnEvent plans one reminder per trigger rule of the applicable policy that
// matches evt.Trigger. Reminders whose planned time has come are dispatched
// immediately; the others wait for ProcessPending.
func (e *Engine) OnEvent(ctx context.Context, evt types.ReminderEvent) error {
	s := evt.Schedule
	if s == nil {
		return types.NewAppError(types.ErrCodeValidationMissingField, "reminder event without schedule", nil)
	}
	log := e.logger.With("schedule_id", s.ID, "trigger", evt.Trigger)

	p, err := e.policies.ResolveReminderPolicy(ctx, scopeOf(s))
	if types.HasCode(err, types.ErrCodePolicyNotResolved) {
		log.Info("no reminder policy applies")
		return nil
	}
	if err != nil {
		return err
	}

	var rules []types.TriggerRule
	for _, rule := range p.TriggerRules {
		if rule.Trigger == evt.Trigger {
			rules = append(rules, rule)
		}
	}
	if len(rules) == 0 {
		return nil
	}

	optedOut := false
	if p.RespectOptOut {
		contact, err := e.contacts.GetContact(ctx, s.OrganisationID, s.ClientID)
		if err != nil {
			return err
		}
		optedOut = contact.OptedOut
	}

	occurredAt := evt.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = e.clock.Now()
	}
	var attemptID string
	if evt.Attempt != nil {
		attemptID = evt.Attempt.ID
	}

	var errs []error
	for _, rule := range rules {
		r, created, err := e.plan(ctx, p, rule, evt, attemptID, occurredAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if !created {
			continue
		}
		if optedOut {
			// Planned and cancelled so the trail shows the suppression.
			if _, err := e.cancel(ctx, r.ID, SuppressedOptOut, "suppressed: "+strings.ToLower(SuppressedOptOut)); err != nil {
				errs = append(errs, fmt.Errorf("reminder %s: %w", r.ID, err))
				continue
			}
			log.Info("client opted out of reminders", "client_id", s.ClientID, "reminder_id", r.ID)
			e.recordMetric(ctx, rule.Channel, types.ResultSuppressed)
			continue
		}
		if r.PlannedAt.After(e.clock.Now()) {
			continue
		}
		if _, err := e.dispatch(ctx, r, false); err != nil {
			errs = append(errs, fmt.Errorf("reminder %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

// plan creates the reminder of one rule, or returns the existing one for the
// same occurrence.
func (e *Engine) plan(ctx context.Context, p *types.ReminderPolicy, rule types.TriggerRule, evt types.ReminderEvent, attemptID string, occurredAt time.Time) (*types.Reminder, bool, error) {
	s := evt.Schedule
	key := OccurrenceKey(s.ID, evt.Trigger, rule.Channel, attemptID)

	existing, err := e.store.Reminders().GetByIdempotencyKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !types.IsNotFound(err) {
		return nil, false, err
	}

	planned, err := NextWindow(occurredAt.Add(time.Duration(rule.DelayHours)*time.Hour), p)
	if err != nil {
		return nil, false, err
	}
	now := e.clock.Now()
	r := &types.Reminder{
		ID:                types.NewID(types.PrefixReminder),
		OrganisationID:    s.OrganisationID,
		CompanyID:         s.CompanyID,
		RetryScheduleID:   s.ID,
		RetryAttemptID:    attemptID,
		ClientID:          s.ClientID,
		ReminderPolicyID:  p.ID,
		TriggerRuleID:     rule.ID,
		Channel:           rule.Channel,
		TemplateID:        rule.TemplateID,
		TemplateVariables: templateVariables(s, evt.Attempt, p),
		Trigger:           evt.Trigger,
		PlannedAt:         planned,
		Status:            types.ReminderPending,
		IdempotencyKey:    key,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = e.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		if err := repos.Reminders().Create(ctx, r); err != nil {
			return err
		}
		return e.recorder.Record(ctx, repos.AuditLog(), change(r, nil, types.AuditActionCreated))
	})
	if types.HasCode(err, types.ErrCodeConflictDuplicate) {
		existing, err := e.store.Reminders().GetByIdempotencyKey(ctx, key)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// DispatchResult is the outcome of one dispatch.
type DispatchResult string

const (
	DispatchSent       DispatchResult = "sent"
	DispatchFailed     DispatchResult = "failed"
	DispatchSuppressed DispatchResult = "suppressed"
	DispatchQueued     DispatchResult = "queued"
)

// dispatch sends r unless a send rule stops it. Manual dispatch skips quiet
// hours, cooldown and caps but still honours opt-out. Provider errors are
// recorded on the reminder and are not returned.
func (e *Engine) dispatch(ctx context.Context, r *types.Reminder, manual bool) (DispatchResult, error) {
	p, err := e.store.ReminderPolicies().GetByID(ctx, r.ReminderPolicyID)
	if err != nil {
		return "", err
	}
	now := e.clock.Now()
	log := e.logger.With("reminder_id", r.ID, "schedule_id", r.RetryScheduleID, "channel", r.Channel)

	if !manual {
		inWindow, err := InWindow(now, p)
		if err != nil {
			return "", err
		}
		if !inWindow {
			next, err := NextWindow(now, p)
			if err != nil {
				return "", err
			}
			_, err = e.update(ctx, r.ID, types.AuditActionUpdated, func(r *types.Reminder) error {
				if r.Status != types.ReminderPending {
					return invalidTransition(r.Status, types.ReminderPending)
				}
				r.PlannedAt = next
				return nil
			})
			if err != nil {
				return "", err
			}
			log.Info("reminder outside sending window, requeued", "planned_at", next)
			e.recordMetric(ctx, r.Channel, types.ResultQueued)
			return DispatchQueued, nil
		}
	}

	contact, err := e.contacts.GetContact(ctx, r.OrganisationID, r.ClientID)
	if err != nil {
		return "", err
	}
	reason := ""
	switch {
	case p.RespectOptOut && contact.OptedOut:
		reason = SuppressedOptOut
	case !manual:
		if reason, err = e.throttled(ctx, r, p, now); err != nil {
			return "", err
		}
	}
	if reason != "" {
		if _, err := e.cancel(ctx, r.ID, reason, "suppressed: "+strings.ToLower(reason)); err != nil {
			return "", err
		}
		log.Info("reminder suppressed", "reason", reason)
		e.recordMetric(ctx, r.Channel, types.ResultSuppressed)
		return DispatchSuppressed, nil
	}

	return e.send(ctx, r, contact, log)
}

// throttled returns the suppression code when cooldown or a cap forbids
// sending r now. Reminders of r's own occurrence do not count.
func (e *Engine) throttled(ctx context.Context, r *types.Reminder, p *types.ReminderPolicy, now time.Time) (string, error) {
	sent, err := e.store.Reminders().ListSentSince(ctx, r.OrganisationID, r.ClientID, now.AddDate(0, 0, -7))
	if err != nil {
		return "", err
	}
	own := occurrence(r)
	cooldownStart := now.Add(-time.Duration(p.CooldownHours) * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	var today, week int
	for _, prev := range sent {
		if prev.ID == r.ID || occurrence(prev) == own || prev.SentAt == nil {
			continue
		}
		if p.CooldownHours > 0 && prev.SentAt.After(cooldownStart) {
			return SuppressedCooldown, nil
		}
		week++
		if prev.SentAt.After(dayStart) {
			today++
		}
	}
	switch {
	case p.MaxRemindersPerDay > 0 && today >= p.MaxRemindersPerDay:
		return SuppressedDailyCap, nil
	case p.MaxRemindersPerWeek > 0 && week >= p.MaxRemindersPerWeek:
		return SuppressedWeeklyCap, nil
	}
	return "", nil
}

func (e *Engine) send(ctx context.Context, r *types.Reminder, contact *types.ClientContact, log types.Logger) (DispatchResult, error) {
	recipient := contact.RecipientFor(r.Channel)
	var (
		res     *types.SendResult
		sendErr error
	)
	if recipient == "" {
		sendErr = types.NewAppError(errNoRecipient, fmt.Sprintf("client has no %s address", strings.ToLower(string(r.Channel))), nil)
	} else {
		res, sendErr = e.sender.Send(ctx, types.OutboundMessage{
			Channel:        r.Channel,
			TemplateID:     r.TemplateID,
			Variables:      r.TemplateVariables,
			Recipient:      recipient,
			RecipientName:  contact.Name,
			IdempotencyKey: r.IdempotencyKey,
		})
	}

	if sendErr != nil {
		code := errSendFailed
		var appErr *types.AppError
		if errors.As(sendErr, &appErr) {
			code = string(appErr.Code)
		}
		_, err := e.update(ctx, r.ID, types.AuditActionFailed, func(r *types.Reminder) error {
			if !r.Status.CanTransitionTo(types.ReminderFailed) {
				return invalidTransition(r.Status, types.ReminderFailed)
			}
			r.Status = types.ReminderFailed
			r.ErrorCode = code
			r.ErrorMessage = sendErr.Error()
			r.RetryCount++
			return nil
		})
		if err != nil {
			return "", err
		}
		log.Warn("reminder send failed", "error_code", code, "error", sendErr)
		e.recordMetric(ctx, r.Channel, types.ResultFailed)
		return DispatchFailed, nil
	}

	updated, err := e.update(ctx, r.ID, types.AuditActionSent, func(r *types.Reminder) error {
		if !r.Status.CanTransitionTo(types.ReminderSent) {
			return invalidTransition(r.Status, types.ReminderSent)
		}
		now := e.clock.Now()
		r.Status = types.ReminderSent
		r.SentAt = &now
		r.ProviderName = res.ProviderName
		r.ProviderMessageID = res.ProviderMessageID
		r.DeliveryStatusRaw = res.Status
		r.ErrorCode, r.ErrorMessage = "", ""
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Info("reminder sent", "provider", res.ProviderName, "provider_message_id", res.ProviderMessageID)
	e.recordMetric(ctx, r.Channel, types.ResultSucceeded)
	e.publishSent(ctx, updated)
	return DispatchSent, nil
}

// ProcessResult summarises one ProcessPending sweep.
type ProcessResult struct {
	Processed  int `json:"processed"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Suppressed int `json:"suppressed"`
	Requeued   int `json:"requeued"`
	Errors     int `json:"errors"`
}

// ProcessPending dispatches up to one batch of PENDING reminders whose
// planned time has come, oldest first. Window, opt-out, cooldown and caps
// are checked again at dispatch time.
func (e *Engine) ProcessPending(ctx context.Context) (*ProcessResult, error) {
	due, err := e.store.Reminders().ListDue(ctx, e.clock.Now(), e.batchSize)
	if err != nil {
		return nil, err
	}
	res := &ProcessResult{}
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		outcome, err := e.dispatch(ctx, r, false)
		if err != nil {
			res.Errors++
			e.logger.Error("reminder dispatch failed", "reminder_id", r.ID, "error", err)
			continue
		}
		switch outcome {
		case DispatchSent:
			res.Sent++
		case DispatchFailed:
			res.Failed++
		case DispatchSuppressed:
			res.Suppressed++
		case DispatchQueued:
			res.Requeued++
		}
	}
	if res.Processed > 0 {
		e.logger.Info("processed pending reminders",
			"processed", res.Processed,
			"sent", res.Sent,
			"failed", res.Failed,
			"suppressed", res.Suppressed,
			"requeued", res.Requeued,
		)
	}
	return res, nil
}

// SendNow dispatches a PENDING or FAILED reminder immediately at an
// operator's request.
func (e *Engine) SendNow(ctx context.Context, id string) (*types.Reminder, error) {
	r, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != types.ReminderPending && r.Status != types.ReminderFailed {
		return nil, invalidTransition(r.Status, types.ReminderSent)
	}
	if _, err := e.dispatch(ctx, r, true); err != nil {
		return nil, err
	}
	return e.store.Reminders().GetByID(ctx, id)
}

// DeliveryUpdate is a provider delivery callback.
type DeliveryUpdate struct {
	ProviderMessageID string `json:"provider_message_id" validate:"required"`
	// Status is one of delivered, bounced, opened, clicked, failed.
	Status       string `json:"status" validate:"required,oneof=delivered bounced opened clicked failed"`
	RawStatus    string `json:"raw_status,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

var deliveryStatuses = map[string]types.ReminderStatus{
	"delivered": types.ReminderDelivered,
	"bounced":   types.ReminderBounced,
	"opened":    types.ReminderOpened,
	"clicked":   types.ReminderClicked,
	"failed":    types.ReminderFailed,
}

// HandleDeliveryStatus applies a provider callback. A repeated callback is
// a no-op; a callback the reminder's state machine does not allow returns a
// validation_invalid_state_transition error and changes nothing.
func (e *Engine) HandleDeliveryStatus(ctx context.Context, u DeliveryUpdate) (*types.Reminder, error) {
	status, ok := deliveryStatuses[strings.ToLower(u.Status)]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput,
			"unknown delivery status", nil, map[string]any{"status": u.Status})
	}
	r, err := e.store.Reminders().GetByProviderMessageID(ctx, u.ProviderMessageID)
	if err != nil {
		return nil, err
	}
	if r.Status == status {
		return r, nil
	}
	action := types.AuditActionDeliveryPrefix + strings.ToUpper(u.Status)
	return e.update(ctx, r.ID, action, func(r *types.Reminder) error {
		if !r.Status.CanTransitionTo(status) {
			return invalidTransition(r.Status, status)
		}
		r.Status = status
		if u.RawStatus != "" {
			r.DeliveryStatusRaw = u.RawStatus
		}
		switch status {
		case types.ReminderDelivered:
			now := e.clock.Now()
			r.DeliveredAt = &now
		case types.ReminderFailed, types.ReminderBounced:
			r.ErrorCode = valueOr(u.ErrorCode, "DELIVERY_"+strings.ToUpper(u.Status))
			r.ErrorMessage = valueOr(u.ErrorMessage, "delivery "+strings.ToLower(u.Status))
		}
		return nil
	})
}

// CancelForSchedule cancels every PENDING reminder of a schedule.
func (e *Engine) CancelForSchedule(ctx context.Context, scheduleID, reason string) (int, error) {
	var n int
	err := e.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		var err error
		n, err = e.CancelPending(ctx, repos, scheduleID, reason)
		return err
	})
	return n, err
}

// CancelPending cancels the PENDING reminders of a schedule inside the
// caller's transaction.
func (e *Engine) CancelPending(ctx context.Context, repos types.Repositories, scheduleID, reason string) (int, error) {
	pending, err := repos.Reminders().List(ctx, types.ReminderFilter{
		RetryScheduleID: scheduleID,
		Status:          types.ReminderPending,
		Page:            types.Page{Limit: types.Unbounded},
	})
	if err != nil {
		return 0, err
	}
	now := e.clock.Now()
	for _, old := range pending {
		r := *old
		r.Status = types.ReminderCancelled
		r.ErrorMessage = reason
		r.UpdatedAt = now
		if err := repos.Reminders().Update(ctx, &r); err != nil {
			return 0, err
		}
		if err := e.recorder.Record(ctx, repos.AuditLog(), change(&r, old, types.AuditActionCancelled)); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// Get returns one reminder.
func (e *Engine) Get(ctx context.Context, id string) (*types.Reminder, error) {
	r, err := e.store.Reminders().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := types.CheckOrganisation(ctx, r.OrganisationID); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns one page of reminders, latest planned first.
func (e *Engine) List(ctx context.Context, f types.ReminderFilter) ([]*types.Reminder, types.PageInfo, error) {
	if f.OrganisationID == "" {
		f.OrganisationID = types.GetOrganisationID(ctx)
	}
	if err := types.CheckOrganisation(ctx, f.OrganisationID); err != nil {
		return nil, types.PageInfo{}, err
	}
	f.Page = f.Page.Normalize()
	items, err := e.store.Reminders().List(ctx, f)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	items, info := types.Paginate(items, f.Page)
	return items, info, nil
}

func (e *Engine) cancel(ctx context.Context, id, code, reason string) (*types.Reminder, error) {
	return e.update(ctx, id, types.AuditActionCancelled, func(r *types.Reminder) error {
		if !r.Status.CanTransitionTo(types.ReminderCancelled) {
			return invalidTransition(r.Status, types.ReminderCancelled)
		}
		r.Status = types.ReminderCancelled
		r.ErrorCode = code
		r.ErrorMessage = reason
		return nil
	})
}

// update re-reads the reminder in a transaction, applies fn and records the
// audit entry.
func (e *Engine) update(ctx context.Context, id, action string, fn func(*types.Reminder) error) (*types.Reminder, error) {
	var updated *types.Reminder
	err := e.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		old, err := repos.Reminders().GetByID(ctx, id)
		if err != nil {
			return err
		}
		r := *old
		r.TemplateVariables = old.TemplateVariables.Clone()
		if err := fn(&r); err != nil {
			return err
		}
		r.UpdatedAt = e.clock.Now()
		if err := repos.Reminders().Update(ctx, &r); err != nil {
			return err
		}
		updated = &r
		return e.recorder.Record(ctx, repos.AuditLog(), change(&r, old, action))
	})
	return updated, err
}

func (e *Engine) publishSent(ctx context.Context, r *types.Reminder) {
	if e.publisher == nil {
		return
	}
	evt := types.LifecycleEvent{
		ID:             types.NewID(types.PrefixEvent),
		Type:           types.EventReminderSent,
		OrganisationID: r.OrganisationID,
		EntityID:       r.ID,
		OccurredAt:     e.clock.Now(),
		Payload: map[string]any{
			"schedule_id": r.RetryScheduleID,
			"client_id":   r.ClientID,
			"trigger":     r.Trigger,
			"channel":     r.Channel,
		},
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.logger.Warn("failed to publish lifecycle event", "event_type", evt.Type, "reminder_id", r.ID, "error", err)
	}
}

func (e *Engine) recordMetric(ctx context.Context, channel types.ReminderChannel, result string) {
	if e.metrics != nil {
		e.metrics.RecordReminder(ctx, channel, result)
	}
}

func change(r, old *types.Reminder, action string) audit.Change {
	c := audit.Change{
		OrganisationID:  r.OrganisationID,
		EntityType:      types.EntityReminder,
		EntityID:        r.ID,
		Action:          action,
		New:             r,
		RetryScheduleID: r.RetryScheduleID,
		RetryAttemptID:  r.RetryAttemptID,
		ReminderID:      r.ID,
	}
	if old != nil {
		c.Old = old
	}
	return c
}

func scopeOf(s *types.RetrySchedule) types.PolicyScope {
	return types.PolicyScope{
		OrganisationID: s.OrganisationID,
		CompanyID:      s.CompanyID,
		ProductID:      s.ProductID,
		Channel:        s.Channel,
	}
}

// templateVariables snapshots the values templates may interpolate.
func templateVariables(s *types.RetrySchedule, a *types.RetryAttempt, p *types.ReminderPolicy) types.JSONMap {
	vars := types.JSONMap{
		"schedule_id":         s.ID,
		"original_payment_id": s.OriginalPaymentID,
		"subscription_id":     s.SubscriptionID,
		"amount":              formatAmount(s.AmountCents),
		"amount_cents":        s.AmountCents,
		"currency":            s.Currency,
		"rejection_code":      s.RejectionCode,
		"current_attempt":     s.CurrentAttempt,
		"max_attempts":        s.MaxAttempts,
	}
	if s.InvoiceID != "" {
		vars["invoice_id"] = s.InvoiceID
	}
	if s.NextRetryDate != nil {
		if loc, err := types.LoadLocation(p.Timezone); err == nil {
			vars["next_retry_date"] = s.NextRetryDate.In(loc).Format(time.DateOnly)
		} else {
			vars["next_retry_date"] = s.NextRetryDate.Format(time.DateOnly)
		}
	}
	if a != nil {
		vars["attempt_number"] = a.AttemptNumber
		if a.NewRejectionCode != "" {
			vars["attempt_rejection_code"] = a.NewRejectionCode
		}
	}
	return vars
}

func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func invalidTransition(from, to types.ReminderStatus) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidTransition,
		"invalid reminder status transition", nil,
		map[string]any{"from": from, "to": to})
}
