// Package jobs implements the Job Runner: the daily and on-demand batch that
// executes every due retry of an organisation for a target date.
//
// A RetryJob is unique per (organisation, target date, manual flag) through
// its idempotency key. Re-triggering returns the existing job unless it
// FAILED, in which case the same row runs again.
package jobs

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"payretry/internal/attempt"
	"payretry/internal/audit"
	"payretry/internal/schedule"
	"payretry/internal/types"
)

// TriggeredByScheduler marks jobs started by the cron trigger.
const TriggeredByScheduler = "scheduler"

// AttemptRunner executes one schedule's next attempt. *attempt.Executor
// satisfies it.
type AttemptRunner interface {
	Execute(ctx context.Context, scheduleID string, opts attempt.Options) (*attempt.Result, error)
}

// Config tunes the runner.
type Config struct {
	DefaultTimezone   string
	DefaultCutoffTime string
	// Workers bounds concurrent schedules within one job.
	Workers int
	// OrgConcurrency bounds concurrent organisation jobs in RunDaily.
	OrgConcurrency int
	// DueLimit caps the schedules one job picks up.
	DueLimit int
	LockTTL  time.Duration
	// WorkerID identifies this process as a lock owner.
	WorkerID string
}

func (c Config) withDefaults() Config {
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "Europe/Paris"
	}
	if c.DefaultCutoffTime == "" {
		c.DefaultCutoffTime = "10:00"
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.OrgConcurrency <= 0 {
		c.OrgConcurrency = 4
	}
	if c.DueLimit <= 0 {
		c.DueLimit = 5000
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Minute
	}
	if c.WorkerID == "" {
		c.WorkerID = types.NewID("worker_")
	}
	return c
}

// RunRequest describes one RunForDate invocation.
type RunRequest struct {
	OrganisationID string    `json:"organisation_id" validate:"required"`
	TargetDate     time.Time `json:"target_date"`
	TriggeredBy    string    `json:"triggered_by"`
	IsManual       bool      `json:"is_manual"`
	// DryRun selects and counts due schedules without executing them.
	DryRun bool `json:"dry_run"`
	// ScheduleID restricts the run to one schedule, ignoring its due date.
	ScheduleID string `json:"schedule_id,omitempty"`
	Timezone   string `json:"timezone,omitempty" validate:"omitempty,iana_tz"`
	CutoffTime string `json:"cutoff_time,omitempty" validate:"omitempty,hhmm"`
}

// Runner is the Job Runner.
type Runner struct {
	store     types.Store
	schedules *schedule.Manager
	attempts  AttemptRunner
	locker    types.JobLocker
	recorder  *audit.Recorder
	publisher types.EventPublisher
	metrics   types.EngineMetrics
	clock     types.Clock
	logger    types.Logger
	cfg       Config
}

// NewRunner creates a Runner. locker, publisher and metrics may be nil;
// without a locker RunDaily relies on job idempotency keys alone.
func NewRunner(
	store types.Store,
	schedules *schedule.Manager,
	attempts AttemptRunner,
	locker types.JobLocker,
	recorder *audit.Recorder,
	publisher types.EventPublisher,
	metrics types.EngineMetrics,
	clock types.Clock,
	logger types.Logger,
	cfg Config,
) *Runner {
	return &Runner{
		store:     store,
		schedules: schedules,
		attempts:  attempts,
		locker:    locker,
		recorder:  recorder,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// IdempotencyKey derives a job's key. Dry runs and single-schedule runs get
// their own keys so they never shadow the real daily job.
func IdempotencyKey(req RunRequest) string {
	key := fmt.Sprintf("%s:%s:%t", req.OrganisationID, schedule.DateOnly(req.TargetDate).Format(time.DateOnly), req.IsManual)
	switch {
	case req.DryRun:
		key += ":dry-run"
	case req.ScheduleID != "":
		key += ":schedule:" + req.ScheduleID
	}
	return key
}

// RunForDate runs, or returns, the job for one organisation and date. The
// returned error is non-nil only when the job could not be created or its
// schedules could not be enumerated; per-schedule failures are reported on
// the job itself.
func (r *Runner) RunForDate(ctx context.Context, req RunRequest) (*types.RetryJob, error) {
	if req.OrganisationID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "organisation_id is required", nil)
	}
	if err := types.CheckOrganisation(ctx, req.OrganisationID); err != nil {
		return nil, err
	}
	if req.TargetDate.IsZero() {
		req.TargetDate = r.clock.Now()
	}
	req.TargetDate = schedule.DateOnly(req.TargetDate)
	if req.Timezone == "" {
		req.Timezone = r.cfg.DefaultTimezone
	}
	if req.CutoffTime == "" {
		req.CutoffTime = r.cfg.DefaultCutoffTime
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = types.ActorOrDefault(ctx, types.SchedulerActor).ID
	}
	cutoff, err := schedule.CutoffInstant(req.TargetDate, req.Timezone, req.CutoffTime)
	if err != nil {
		return nil, err
	}

	job, fresh, err := r.claim(ctx, req)
	if err != nil || !fresh {
		return job, err
	}

	log := r.logger.With("job_id", job.ID, "organisation_id", job.OrganisationID, "target_date", req.TargetDate.Format(time.DateOnly))
	started := r.clock.Now()

	due, err := r.selectDue(ctx, req, earliest(cutoff, started))
	if err != nil {
		log.Error("failed to enumerate due schedules", "error", err)
		job, finishErr := r.finish(ctx, job, func(j *types.RetryJob) {
			j.Status = types.JobFailed
			j.ErrorMessage = err.Error()
		})
		if finishErr != nil {
			return nil, finishErr
		}
		return job, err
	}

	var tally tally
	if req.DryRun {
		tally.skipped = len(due)
	} else {
		tally = r.execute(ctx, job.ID, due, req.ScheduleID != "")
	}

	job, err = r.finish(ctx, job, func(j *types.RetryJob) {
		j.TotalAttempts = len(due)
		j.SuccessfulAttempts = tally.succeeded
		j.FailedAttempts = tally.failed
		j.SkippedAttempts = tally.skipped
		j.FailedScheduleIDs = tally.failedIDs
		j.FailureReasons = tally.reasons
		j.Status = types.JobCompleted
		if tally.failed > 0 {
			j.Status = types.JobPartial
		}
	})
	if err != nil {
		return nil, err
	}

	elapsed := r.clock.Now().Sub(started)
	if r.metrics != nil {
		r.metrics.RecordJobDuration(ctx, job.OrganisationID, elapsed)
	}
	r.publishCompleted(ctx, job)
	log.Info("retry job finished",
		"status", job.Status,
		"total", job.TotalAttempts,
		"succeeded", job.SuccessfulAttempts,
		"failed", job.FailedAttempts,
		"skipped", job.SkippedAttempts,
		"dry_run", job.DryRun,
		"duration_ms", elapsed.Milliseconds(),
	)
	return job, nil
}

// claim returns the job to run and whether this call owns its execution.
// An existing job that did not fail is returned as is.
func (r *Runner) claim(ctx context.Context, req RunRequest) (*types.RetryJob, bool, error) {
	key := IdempotencyKey(req)

	existing, err := r.store.Jobs().GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil && existing.Status != types.JobFailed:
		r.logger.Info("retry job already exists", "job_id", existing.ID, "status", existing.Status, "idempotency_key", key)
		return existing, false, nil
	case err == nil:
		job, err := r.restart(ctx, existing.ID)
		if types.HasCode(err, types.ErrCodeValidationInvalidTransition) {
			// Another runner restarted it first.
			job, err := r.store.Jobs().GetByID(ctx, existing.ID)
			return job, false, err
		}
		return job, err == nil, err
	case !types.IsNotFound(err):
		return nil, false, err
	}

	now := r.clock.Now()
	job := &types.RetryJob{
		ID:                types.NewID(types.PrefixJob),
		OrganisationID:    req.OrganisationID,
		TargetDate:        req.TargetDate,
		Timezone:          req.Timezone,
		CutoffTime:        req.CutoffTime,
		ScheduledAt:       now,
		Status:            types.JobPending,
		FailedScheduleIDs: []string{},
		IdempotencyKey:    key,
		TriggeredBy:       req.TriggeredBy,
		IsManual:          req.IsManual,
		DryRun:            req.DryRun,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = r.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		if err := repos.Jobs().Create(ctx, job); err != nil {
			return err
		}
		return r.recorder.Record(ctx, repos.AuditLog(), r.change(job, nil, types.AuditActionCreated))
	})
	if types.HasCode(err, types.ErrCodeConflictDuplicate) {
		existing, err := r.store.Jobs().GetByIdempotencyKey(ctx, key)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}

	job, err = r.restart(ctx, job.ID)
	return job, err == nil, err
}

// restart moves a PENDING or FAILED job to RUNNING and clears the results
// of any previous run.
func (r *Runner) restart(ctx context.Context, jobID string) (*types.RetryJob, error) {
	var updated *types.RetryJob
	err := r.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		current, err := repos.Jobs().GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(types.JobRunning) {
			return invalidTransition(current.Status, types.JobRunning)
		}
		now := r.clock.Now()
		next := *current
		next.Status = types.JobRunning
		next.StartedAt = &now
		next.CompletedAt = nil
		next.ErrorMessage = ""
		next.TotalAttempts, next.SuccessfulAttempts, next.FailedAttempts, next.SkippedAttempts = 0, 0, 0, 0
		next.FailedScheduleIDs = []string{}
		next.FailureReasons = nil
		next.UpdatedAt = now
		if err := repos.Jobs().Update(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return r.recorder.Record(ctx, repos.AuditLog(), r.change(&next, current, types.AuditActionStarted))
	})
	return updated, err
}

func (r *Runner) selectDue(ctx context.Context, req RunRequest, cutoff time.Time) ([]*types.RetrySchedule, error) {
	if req.ScheduleID == "" {
		return r.schedules.FindDue(ctx, req.OrganisationID, cutoff, r.cfg.DueLimit)
	}
	s, err := r.store.Schedules().GetByID(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if s.OrganisationID != req.OrganisationID {
		return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
	}
	return []*types.RetrySchedule{s}, nil
}

type tally struct {
	succeeded int
	failed    int
	skipped   int
	failedIDs []string
	reasons   map[string]string
}

// execute runs the due schedules on a bounded pool. Failures are isolated
// per schedule and never cancel the rest of the batch.
func (r *Runner) execute(ctx context.Context, jobID string, due []*types.RetrySchedule, ignoreDueDate bool) tally {
	var (
		mu sync.Mutex
		t  = tally{failedIDs: []string{}}
		g  errgroup.Group
	)
	g.SetLimit(r.cfg.Workers)

	for _, s := range due {
		g.Go(func() error {
			res, err := r.attempts.Execute(ctx, s.ID, attempt.Options{JobID: jobID, IgnoreDueDate: ignoreDueDate})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Outcome == attempt.OutcomeFailed:
				t.fail(s.ID, failureReason(res))
			case err == nil:
				t.succeeded++
			case skippable(err):
				t.skipped++
				r.logger.Info("schedule skipped", "job_id", jobID, "schedule_id", s.ID, "reason", err.Error())
			default:
				t.fail(s.ID, err.Error())
				r.logger.Warn("schedule attempt failed", "job_id", jobID, "schedule_id", s.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(t.failedIDs)
	return t
}

func (t *tally) fail(scheduleID, reason string) {
	t.failed++
	t.failedIDs = append(t.failedIDs, scheduleID)
	if t.reasons == nil {
		t.reasons = make(map[string]string)
	}
	t.reasons[scheduleID] = reason
}

// skippable reports errors meaning the schedule changed between selection
// and execution: it was resolved, replanned, or already attempted.
func skippable(err error) bool {
	return types.HasCode(err, types.ErrCodeConflictAlreadyResolved) ||
		types.HasCode(err, types.ErrCodeValidationInvalidTransition) ||
		types.HasCode(err, types.ErrCodeConflictDuplicate)
}

func failureReason(res *attempt.Result) string {
	a := res.Attempt
	if a.NewRejectionCode == "" {
		return "payment rejected"
	}
	if a.ErrorMessage == "" {
		return "payment rejected: " + a.NewRejectionCode
	}
	return fmt.Sprintf("payment rejected: %s (%s)", a.NewRejectionCode, a.ErrorMessage)
}

// finish applies mutate to a RUNNING job and completes it.
func (r *Runner) finish(ctx context.Context, job *types.RetryJob, mutate func(*types.RetryJob)) (*types.RetryJob, error) {
	var updated *types.RetryJob
	err := r.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		current, err := repos.Jobs().GetByID(ctx, job.ID)
		if err != nil {
			return err
		}
		next := *current
		mutate(&next)
		if !current.Status.CanTransitionTo(next.Status) {
			return invalidTransition(current.Status, next.Status)
		}
		now := r.clock.Now()
		next.CompletedAt = &now
		next.UpdatedAt = now
		if err := repos.Jobs().Update(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return r.recorder.Record(ctx, repos.AuditLog(), r.change(&next, current, types.AuditActionCompleted))
	})
	return updated, err
}

// RunDaily runs the scheduler's job for every organisation with schedules
// due on targetDate. A distributed lock keeps concurrent scheduler
// instances from running the same day twice. Per-organisation errors are
// logged and do not stop the other organisations.
func (r *Runner) RunDaily(ctx context.Context, targetDate time.Time) ([]*types.RetryJob, error) {
	targetDate = schedule.DateOnly(targetDate)
	lockID := "retry-daily:" + targetDate.Format(time.DateOnly)
	log := r.logger.With("target_date", targetDate.Format(time.DateOnly), "worker_id", r.cfg.WorkerID)

	if r.locker != nil {
		ok, err := r.locker.Acquire(ctx, lockID, r.cfg.WorkerID, r.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictJobLocked,
				"daily run already in progress", nil, map[string]any{"lock_id": lockID})
		}
		defer func() {
			// The run context may be cancelled by now.
			if err := r.locker.Release(context.WithoutCancel(ctx), lockID, r.cfg.WorkerID); err != nil {
				log.Warn("failed to release daily run lock", "lock_id", lockID, "error", err)
			}
		}()
	}

	cutoff, err := schedule.CutoffInstant(targetDate, r.cfg.DefaultTimezone, r.cfg.DefaultCutoffTime)
	if err != nil {
		return nil, err
	}
	orgs, err := r.store.Schedules().OrganisationsWithDue(ctx, earliest(cutoff, r.clock.Now()))
	if err != nil {
		return nil, err
	}
	log.Info("starting daily retry run", "organisations", len(orgs))

	var (
		mu   sync.Mutex
		jobs = make([]*types.RetryJob, 0, len(orgs))
		g    errgroup.Group
	)
	g.SetLimit(r.cfg.OrgConcurrency)
	for _, org := range orgs {
		g.Go(func() error {
			job, err := r.RunForDate(ctx, RunRequest{
				OrganisationID: org,
				TargetDate:     targetDate,
				TriggeredBy:    TriggeredByScheduler,
			})
			if err != nil {
				log.Error("organisation retry job failed", "organisation_id", org, "error", err)
			}
			if job != nil {
				mu.Lock()
				jobs = append(jobs, job)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(jobs, func(a, b *types.RetryJob) int {
		return strings.Compare(a.OrganisationID, b.OrganisationID)
	})
	return jobs, nil
}

// Get returns one job.
func (r *Runner) Get(ctx context.Context, id string) (*types.RetryJob, error) {
	j, err := r.store.Jobs().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := types.CheckOrganisation(ctx, j.OrganisationID); err != nil {
		return nil, err
	}
	return j, nil
}

// List returns one page of jobs, newest target date first.
func (r *Runner) List(ctx context.Context, f types.JobFilter) ([]*types.RetryJob, types.PageInfo, error) {
	if f.OrganisationID == "" {
		f.OrganisationID = types.GetOrganisationID(ctx)
	}
	if err := types.CheckOrganisation(ctx, f.OrganisationID); err != nil {
		return nil, types.PageInfo{}, err
	}
	f.Page = f.Page.Normalize()
	items, err := r.store.Jobs().List(ctx, f)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	items, info := types.Paginate(items, f.Page)
	return items, info, nil
}

// Metrics aggregates the finished jobs of an organisation whose target date
// is in [from, to). Dry runs are excluded.
func (r *Runner) Metrics(ctx context.Context, orgID string, from, to time.Time) (*types.JobMetrics, error) {
	if err := types.CheckOrganisation(ctx, orgID); err != nil {
		return nil, err
	}
	jobs, err := r.store.Jobs().List(ctx, types.JobFilter{
		OrganisationID: orgID,
		From:           from,
		To:             to,
		Page:           types.Page{Limit: types.Unbounded},
	})
	if err != nil {
		return nil, err
	}

	m := &types.JobMetrics{}
	for _, j := range jobs {
		if j.DryRun || !j.Status.IsFinished() {
			continue
		}
		m.Jobs++
		switch j.Status {
		case types.JobCompleted:
			m.CompletedJobs++
		case types.JobPartial:
			m.PartialJobs++
		case types.JobFailed:
			m.FailedJobs++
		}
		m.TotalAttempts += j.TotalAttempts
		m.SuccessfulAttempts += j.SuccessfulAttempts
		m.FailedAttempts += j.FailedAttempts
		m.SkippedAttempts += j.SkippedAttempts
	}
	if executed := m.SuccessfulAttempts + m.FailedAttempts; executed > 0 {
		m.SuccessRate = float64(m.SuccessfulAttempts) / float64(executed)
	}
	return m, nil
}

func (r *Runner) change(job, old *types.RetryJob, action string) audit.Change {
	c := audit.Change{
		OrganisationID: job.OrganisationID,
		EntityType:     types.EntityRetryJob,
		EntityID:       job.ID,
		Action:         action,
		New:            job,
	}
	if old != nil {
		c.Old = old
	}
	return c
}

func (r *Runner) publishCompleted(ctx context.Context, job *types.RetryJob) {
	if r.publisher == nil || job.DryRun {
		return
	}
	evt := types.LifecycleEvent{
		ID:             types.NewID(types.PrefixEvent),
		Type:           types.EventJobCompleted,
		OrganisationID: job.OrganisationID,
		EntityID:       job.ID,
		OccurredAt:     r.clock.Now(),
		Payload: map[string]any{
			"status":              job.Status,
			"target_date":         job.TargetDate.Format(time.DateOnly),
			"total_attempts":      job.TotalAttempts,
			"successful_attempts": job.SuccessfulAttempts,
			"failed_attempts":     job.FailedAttempts,
			"failed_schedule_ids": job.FailedScheduleIDs,
		},
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logger.Warn("failed to publish lifecycle event", "event_type", evt.Type, "job_id", job.ID, "error", err)
	}
}

func invalidTransition(from, to types.JobStatus) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidTransition,
		"invalid job status transition", nil,
		map[string]any{"from": from, "to": to})
}

// earliest returns the earlier of a cutoff and now, so a run started before
// the cutoff only picks up schedules that are already due.
func earliest(cutoff, now time.Time) time.Time {
	if now.Before(cutoff) {
		return now
	}
	return cutoff
}
