// Package attempt executes retry attempts against the payment capability.
//
// An attempt moves SCHEDULED -> IN_PROGRESS -> SUBMITTED -> SUCCEEDED|FAILED.
// Each transition is committed before the next external call, so a crash or
// timeout leaves the attempt IN_PROGRESS or SUBMITTED, never silently failed.
// The next execution of the same schedule reuses the attempt and its
// idempotency key, which makes the payment capability return the original
// outcome instead of charging twice.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"payretry/internal/audit"
	"payretry/internal/schedule"
	"payretry/internal/types"
)

// Outcome labels of an execution.
const (
	OutcomeSucceeded = types.ResultSucceeded
	OutcomeFailed    = types.ResultFailed
	OutcomePending   = types.ResultPending
)

// Options tune a single execution.
type Options struct {
	// JobID links the attempt to the batch that ran it.
	JobID string
	// IgnoreDueDate lets an operator run a schedule before its next retry date.
	IgnoreDueDate bool
}

// Result describes what Execute did.
type Result struct {
	Attempt  *types.RetryAttempt  `json:"attempt"`
	Schedule *types.RetrySchedule `json:"schedule"`
	Outcome  string               `json:"outcome"`
}

// Executor is the Attempt Executor.
type Executor struct {
	store         types.Store
	schedules     *schedule.Manager
	payments      types.PaymentSubmitter
	recorder      *audit.Recorder
	publisher     types.EventPublisher
	metrics       types.EngineMetrics
	clock         types.Clock
	logger        types.Logger
	submitTimeout time.Duration
}

// NewExecutor creates an Executor. publisher and metrics may be nil.
func NewExecutor(
	store types.Store,
	schedules *schedule.Manager,
	payments types.PaymentSubmitter,
	recorder *audit.Recorder,
	publisher types.EventPublisher,
	metrics types.EngineMetrics,
	clock types.Clock,
	logger types.Logger,
	submitTimeout time.Duration,
) *Executor {
	if submitTimeout <= 0 {
		submitTimeout = 20 * time.Second
	}
	return &Executor{
		store:         store,
		schedules:     schedules,
		payments:      payments,
		recorder:      recorder,
		publisher:     publisher,
		metrics:       metrics,
		clock:         clock,
		logger:        logger,
		submitTimeout: submitTimeout,
	}
}

// IdempotencyKey derives the attempt key sent to the payment network.
func IdempotencyKey(scheduleID string, attemptNumber int) string {
	return scheduleID + ":" + strconv.Itoa(attemptNumber)
}

// Execute runs the next attempt of a schedule. A payment capability error
// is returned together with a Result whose attempt stays pending
// confirmation.
func (e *Executor) Execute(ctx context.Context, scheduleID string, opts Options) (*Result, error) {
	s, err := e.store.Schedules().GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := types.CheckOrganisation(ctx, s.OrganisationID); err != nil {
		return nil, err
	}
	if err := e.guard(s, opts); err != nil {
		return nil, err
	}

	a, err := e.prepare(ctx, s, opts)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("schedule_id", s.ID, "attempt_id", a.ID, "attempt_number", a.AttemptNumber)

	if a.Status == types.AttemptScheduled {
		if a, err = e.transition(ctx, a, types.AttemptInProgress, types.AuditActionStarted, nil); err != nil {
			return nil, err
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	res, submitErr := e.payments.Submit(submitCtx, types.PaymentSubmission{
		IdempotencyKey:   a.IdempotencyKey,
		OrganisationID:   s.OrganisationID,
		ScheduleID:       s.ID,
		AttemptNumber:    a.AttemptNumber,
		AmountCents:      s.AmountCents,
		Currency:         s.Currency,
		PaymentMethodRef: s.PaymentMethodRef,
		CustomerRef:      s.ClientID,
		Description:      fmt.Sprintf("Retry %d of payment %s", a.AttemptNumber, s.OriginalPaymentID),
	})
	cancel()

	if submitErr != nil {
		return e.leavePending(ctx, s, a, submitErr, log)
	}

	// The submission is committed before its outcome, also when the network
	// answers synchronously.
	submitted, err := e.transition(ctx, a, types.AttemptSubmitted, types.AuditActionSubmitted, func(a *types.RetryAttempt) {
		a.ErrorCode, a.ErrorMessage = "", ""
		applyRefs(a, res)
	})
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case types.PaymentSucceeded, types.PaymentFailed:
		return e.finish(ctx, submitted.ID, res.Status == types.PaymentSucceeded, confirmationFrom(res))
	default:
		log.Info("attempt submitted, awaiting confirmation", "network_ref", res.NetworkRef)
		e.recordMetric(ctx, OutcomePending)
		return &Result{Attempt: submitted, Schedule: s, Outcome: OutcomePending}, nil
	}
}

func (e *Executor) guard(s *types.RetrySchedule, opts Options) error {
	switch {
	case s.IsResolved:
		return types.NewAppError(types.ErrCodeConflictAlreadyResolved, "schedule is already resolved", nil)
	case s.Eligibility != types.EligibilityEligible:
		return types.NewAppError(types.ErrCodeValidationInvalidTransition,
			fmt.Sprintf("schedule is not eligible for retry (%s)", s.Eligibility), nil)
	case s.CurrentAttempt >= s.MaxAttempts:
		return types.NewAppError(types.ErrCodeValidationInvalidTransition, "schedule has no attempts left", nil)
	case !opts.IgnoreDueDate && (s.NextRetryDate == nil || s.NextRetryDate.After(e.clock.Now())):
		return types.NewAppError(types.ErrCodeValidationInvalidTransition, "schedule is not due yet", nil)
	}
	return nil
}

// prepare returns the attempt to run: the existing attempt for the next
// attempt number when a previous execution left one, or a new SCHEDULED one.
func (e *Executor) prepare(ctx context.Context, s *types.RetrySchedule, opts Options) (*types.RetryAttempt, error) {
	n := s.CurrentAttempt + 1
	existing, err := e.store.Attempts().GetByScheduleAndNumber(ctx, s.ID, n)
	switch {
	case err == nil:
		if existing.Status == types.AttemptScheduled || existing.Status.IsPendingConfirmation() {
			return existing, nil
		}
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictDuplicate,
			"attempt already finished", nil,
			map[string]any{"attempt_id": existing.ID, "status": existing.Status})
	case !types.IsNotFound(err):
		return nil, err
	}

	now := e.clock.Now()
	planned := now
	if s.NextRetryDate != nil {
		planned = *s.NextRetryDate
	}
	a := &types.RetryAttempt{
		ID:              types.NewID(types.PrefixAttempt),
		RetryScheduleID: s.ID,
		AttemptNumber:   n,
		PlannedDate:     planned,
		Status:          types.AttemptScheduled,
		RetryJobID:      opts.JobID,
		IdempotencyKey:  IdempotencyKey(s.ID, n),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = e.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		if err := repos.Attempts().Create(ctx, a); err != nil {
			return err
		}
		return e.recorder.Record(ctx, repos.AuditLog(), e.change(s.OrganisationID, a, types.AuditActionCreated, nil))
	})
	if types.HasCode(err, types.ErrCodeConflictDuplicate) {
		// Another runner created it first; continue with theirs.
		return e.store.Attempts().GetByScheduleAndNumber(ctx, s.ID, n)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// transition moves a to status in its own transaction.
func (e *Executor) transition(ctx context.Context, a *types.RetryAttempt, status types.AttemptStatus, action string, mutate func(*types.RetryAttempt)) (*types.RetryAttempt, error) {
	var updated *types.RetryAttempt
	err := e.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		current, err := repos.Attempts().GetByID(ctx, a.ID)
		if err != nil {
			return err
		}
		next := *current
		if next.Status != status {
			if !next.Status.CanTransitionTo(status) {
				return invalidTransition(current.Status, status)
			}
			next.Status = status
		}
		if mutate != nil {
			mutate(&next)
		}
		next.UpdatedAt = e.clock.Now()
		if err := repos.Attempts().Update(ctx, &next); err != nil {
			return err
		}
		updated = &next

		s, err := repos.Schedules().GetByID(ctx, next.RetryScheduleID)
		if err != nil {
			return err
		}
		return e.recorder.Record(ctx, repos.AuditLog(), e.change(s.OrganisationID, &next, action, current))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// leavePending records a submission error on the attempt without failing
// it. The debit may have happened; only a confirmation or a resubmission
// under the same idempotency key can tell.
func (e *Executor) leavePending(ctx context.Context, s *types.RetrySchedule, a *types.RetryAttempt, submitErr error, log types.Logger) (*Result, error) {
	code := types.ErrCodeUpstreamPayment
	var appErr *types.AppError
	switch {
	case errors.Is(submitErr, context.DeadlineExceeded):
		code = types.ErrCodeUpstreamTimeout
	case errors.As(submitErr, &appErr) && appErr.Code != "":
		code = appErr.Code
	}

	updated, err := e.transition(ctx, a, types.AttemptSubmitted, types.AuditActionSubmitted, func(a *types.RetryAttempt) {
		a.ErrorCode = string(code)
		a.ErrorMessage = submitErr.Error()
	})
	if err != nil {
		return nil, err
	}
	log.Warn("payment submission did not complete; attempt left pending confirmation",
		"error_code", code,
		"error", submitErr,
	)
	e.recordMetric(ctx, OutcomePending)
	return &Result{Attempt: updated, Schedule: s, Outcome: OutcomePending},
		types.NewAppError(code, "payment submission did not complete", submitErr)
}

// ConfirmAttempt applies an asynchronous outcome to an attempt that is
// pending confirmation. Confirming an attempt that already finished with the
// same outcome is a no-op.
func (e *Executor) ConfirmAttempt(ctx context.Context, attemptID string, conf types.AttemptConfirmation) (*Result, error) {
	a, err := e.store.Attempts().GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		s, err := e.store.Schedules().GetByID(ctx, a.RetryScheduleID)
		if err != nil {
			return nil, err
		}
		if (a.Status == types.AttemptSucceeded) != conf.Succeeded {
			e.logger.Warn("confirmation contradicts finished attempt",
				"attempt_id", a.ID,
				"status", a.Status,
				"confirmed_success", conf.Succeeded,
			)
		}
		return &Result{Attempt: a, Schedule: s, Outcome: outcomeOf(a.Status)}, nil
	}
	if !a.Status.IsPendingConfirmation() {
		return nil, invalidTransition(a.Status, types.AttemptSucceeded)
	}
	if a.Status == types.AttemptInProgress {
		// Confirmed before the submission was recorded.
		if a, err = e.transition(ctx, a, types.AttemptSubmitted, types.AuditActionSubmitted, nil); err != nil {
			return nil, err
		}
	}
	return e.finish(ctx, a.ID, conf.Succeeded, conf)
}

// ConfirmByPaymentIntent resolves the attempt by its payment intent id, as
// carried by payment webhooks.
func (e *Executor) ConfirmByPaymentIntent(ctx context.Context, paymentIntentID string, conf types.AttemptConfirmation) (*Result, error) {
	a, err := e.store.Attempts().GetByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	return e.ConfirmAttempt(ctx, a.ID, conf)
}

// finish moves the attempt to its terminal status and advances the schedule
// in one transaction.
func (e *Executor) finish(ctx context.Context, attemptID string, succeeded bool, conf types.AttemptConfirmation) (*Result, error) {
	var (
		result  *Result
		outcome schedule.Outcome
		late    bool
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		current, err := repos.Attempts().GetByID(ctx, attemptID)
		if err != nil {
			return err
		}
		status := types.AttemptFailed
		if succeeded {
			status = types.AttemptSucceeded
		}
		if !current.Status.CanTransitionTo(status) {
			return invalidTransition(current.Status, status)
		}

		now := e.clock.Now()
		a := *current
		a.Status = status
		a.ExecutedAt = &now
		a.UpdatedAt = now
		if conf.NetworkRef != "" {
			a.NetworkRef = conf.NetworkRef
		}
		if len(conf.RawResponse) > 0 {
			a.RawResponse = conf.RawResponse
		}
		if succeeded {
			a.ErrorCode, a.ErrorMessage = "", ""
		} else {
			a.NewRejectionCode = conf.RejectionCode
			a.ErrorCode = conf.RejectionCode
			a.ErrorMessage = conf.Message
		}
		if err := repos.Attempts().Update(ctx, &a); err != nil {
			return err
		}

		s, err := repos.Schedules().GetByID(ctx, a.RetryScheduleID)
		if err != nil {
			return err
		}
		action := types.AuditActionFailed
		if succeeded {
			action = types.AuditActionSucceeded
		}
		if err := e.recorder.Record(ctx, repos.AuditLog(), e.change(s.OrganisationID, &a, action, current)); err != nil {
			return err
		}

		outcome = schedule.Outcome{
			AttemptNumber: a.AttemptNumber,
			Succeeded:     succeeded,
			RejectionCode: conf.RejectionCode,
			Attempt:       &a,
		}
		if s.IsResolved {
			// Late confirmation for a schedule closed in the meantime: the
			// attempt is recorded but the schedule keeps its resolution.
			late = true
			result = &Result{Attempt: &a, Schedule: s, Outcome: outcomeOf(status)}
			return nil
		}
		updated, err := e.schedules.ApplyOutcome(ctx, repos, s, outcome)
		if err != nil {
			return err
		}
		result = &Result{Attempt: &a, Schedule: updated, Outcome: outcomeOf(status)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if late {
		e.logger.Warn("attempt confirmed after its schedule was resolved",
			"schedule_id", result.Schedule.ID,
			"attempt_id", result.Attempt.ID,
			"outcome", result.Outcome,
		)
	} else {
		e.schedules.Committed(ctx, result.Schedule, outcome)
	}
	eventType := types.EventAttemptFailed
	if succeeded {
		eventType = types.EventAttemptSucceeded
	}
	e.publish(ctx, eventType, result)
	e.recordMetric(ctx, result.Outcome)
	e.logger.Info("attempt finished",
		"schedule_id", result.Schedule.ID,
		"attempt_id", result.Attempt.ID,
		"attempt_number", result.Attempt.AttemptNumber,
		"outcome", result.Outcome,
		"schedule_resolved", result.Schedule.IsResolved,
	)
	return result, nil
}

// Get returns one attempt.
func (e *Executor) Get(ctx context.Context, id string) (*types.RetryAttempt, error) {
	a, err := e.store.Attempts().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.schedules.Get(ctx, a.RetryScheduleID); err != nil {
		return nil, err
	}
	return a, nil
}

// ListBySchedule returns a schedule's attempts in attempt order.
func (e *Executor) ListBySchedule(ctx context.Context, scheduleID string) ([]*types.RetryAttempt, error) {
	if _, err := e.schedules.Get(ctx, scheduleID); err != nil {
		return nil, err
	}
	return e.store.Attempts().ListBySchedule(ctx, scheduleID)
}

func (e *Executor) change(orgID string, a *types.RetryAttempt, action string, old *types.RetryAttempt) audit.Change {
	c := audit.Change{
		OrganisationID:  orgID,
		EntityType:      types.EntityRetryAttempt,
		EntityID:        a.ID,
		Action:          action,
		New:             a,
		RetryScheduleID: a.RetryScheduleID,
		RetryAttemptID:  a.ID,
		PaymentID:       a.PaymentIntentID,
	}
	if old != nil {
		c.Old = old
	}
	return c
}

func (e *Executor) publish(ctx context.Context, eventType string, r *Result) {
	if e.publisher == nil {
		return
	}
	evt := types.LifecycleEvent{
		ID:             types.NewID(types.PrefixEvent),
		Type:           eventType,
		OrganisationID: r.Schedule.OrganisationID,
		EntityID:       r.Attempt.ID,
		OccurredAt:     e.clock.Now(),
		Payload: map[string]any{
			"schedule_id":        r.Schedule.ID,
			"attempt_number":     r.Attempt.AttemptNumber,
			"new_rejection_code": r.Attempt.NewRejectionCode,
			"schedule_resolved":  r.Schedule.IsResolved,
		},
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.logger.Warn("failed to publish lifecycle event", "event_type", eventType, "attempt_id", r.Attempt.ID, "error", err)
	}
}

func (e *Executor) recordMetric(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordAttempt(ctx, outcome)
	}
}

func confirmationFrom(res *types.PaymentResult) types.AttemptConfirmation {
	return types.AttemptConfirmation{
		Succeeded:     res.Status == types.PaymentSucceeded,
		RejectionCode: res.RejectionCode,
		Message:       res.Message,
		NetworkRef:    res.NetworkRef,
		RawResponse:   res.RawResponse,
	}
}

func applyRefs(a *types.RetryAttempt, res *types.PaymentResult) {
	if res.PaymentIntentID != "" {
		a.PaymentIntentID = res.PaymentIntentID
	}
	if res.NetworkRef != "" {
		a.NetworkRef = res.NetworkRef
	}
	if len(res.RawResponse) > 0 {
		a.RawResponse = res.RawResponse
	}
}

func outcomeOf(status types.AttemptStatus) string {
	switch status {
	case types.AttemptSucceeded:
		return OutcomeSucceeded
	case types.AttemptFailed:
		return OutcomeFailed
	}
	return OutcomePending
}

func invalidTransition(from, to types.AttemptStatus) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidTransition,
		"invalid attempt status transition", nil,
		map[string]any{"from": from, "to": to})
}
