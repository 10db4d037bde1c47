package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"payretry/internal/jobs"
	"payretry/internal/reminders"
	"payretry/internal/types"
)

// reminderLockID serialises reminder sweeps across processes.
const reminderLockID = "reminder-sweep"

// JobService is the subset of the Job Runner the dispatcher calls.
type JobService interface {
	RunDaily(ctx context.Context, targetDate time.Time) ([]*types.RetryJob, error)
	RunForDate(ctx context.Context, req jobs.RunRequest) (*types.RetryJob, error)
}

// ReminderService is the subset of the Reminder Engine the dispatcher calls.
type ReminderService interface {
	ProcessPending(ctx context.Context) (*reminders.ProcessResult, error)
}

// Result reports what one dispatch did.
type Result struct {
	Task      TaskType                 `json:"task"`
	Skipped   bool                     `json:"skipped,omitempty"`
	Jobs      []*types.RetryJob        `json:"jobs,omitempty"`
	Reminders *reminders.ProcessResult `json:"reminders,omitempty"`
}

// Items is the number of jobs run or reminders processed.
func (r *Result) Items() int {
	if r.Reminders != nil {
		return r.Reminders.Processed
	}
	return len(r.Jobs)
}

// Dispatcher routes payloads to the engine services. Work is attributed to
// the scheduler actor unless the context already carries one.
type Dispatcher struct {
	Jobs      JobService
	Reminders ReminderService
	// Locker is optional; without it concurrent sweeps rely on reminder
	// status transitions alone.
	Locker   types.JobLocker
	LockTTL  time.Duration
	WorkerID string
	// Timezone resolves the reference date of daily runs.
	Timezone string
	Clock    types.Clock
	Logger   *slog.Logger
}

// Handle runs one payload. Another process already holding the daily run
// or the reminder sweep is reported as skipped, not as an error.
func (d *Dispatcher) Handle(ctx context.Context, p Payload) (*Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.Task == "" {
		return nil, fmt.Errorf("empty task type in payload")
	}

	now := d.now()
	if p.ReferenceTime != nil {
		now = *p.ReferenceTime
	}
	if _, ok := types.GetActor(ctx); !ok {
		ctx = types.WithActor(ctx, types.SchedulerActor)
	}

	logger.InfoContext(ctx, "scheduled task invoked",
		"task", p.Task,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", d.WorkerID,
	)

	start := time.Now()
	res, err := d.dispatch(ctx, p, now)
	if err != nil {
		logger.ErrorContext(ctx, "scheduled task failed", "task", p.Task, "error", err)
		return nil, fmt.Errorf("task %s failed: %w", p.Task, err)
	}

	logger.InfoContext(ctx, "scheduled task complete",
		"task", p.Task,
		"items", res.Items(),
		"skipped", res.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, p Payload, now time.Time) (*Result, error) {
	res := &Result{Task: p.Task}
	switch p.Task {
	case TaskRunDailyJobs:
		run, err := d.Jobs.RunDaily(ctx, d.localDate(now))
		if types.HasCode(err, types.ErrCodeConflictJobLocked) {
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res.Jobs = run
		return res, nil

	case TaskRunOrganisationJob:
		if p.OrganisationID == "" {
			return nil, fmt.Errorf("organisation_id is required for %s", p.Task)
		}
		job, err := d.Jobs.RunForDate(ctx, jobs.RunRequest{
			OrganisationID: p.OrganisationID,
			TargetDate:     d.localDate(now),
			TriggeredBy:    jobs.TriggeredByScheduler,
			DryRun:         p.DryRun,
		})
		if err != nil {
			return nil, err
		}
		res.Jobs = []*types.RetryJob{job}
		return res, nil

	case TaskProcessReminders:
		release, ok, err := d.lock(ctx, reminderLockID)
		if err != nil {
			return nil, err
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer release()
		out, err := d.Reminders.ProcessPending(ctx)
		if err != nil {
			return nil, err
		}
		res.Reminders = out
		return res, nil

	default:
		return nil, fmt.Errorf("unknown task type: %q", p.Task)
	}
}

func (d *Dispatcher) lock(ctx context.Context, lockID string) (func(), bool, error) {
	if d.Locker == nil {
		return func() {}, true, nil
	}
	ttl := d.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	ok, err := d.Locker.Acquire(ctx, lockID, d.WorkerID, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := d.Locker.Release(context.WithoutCancel(ctx), lockID, d.WorkerID); err != nil && d.Logger != nil {
			d.Logger.WarnContext(ctx, "failed to release job lock", "lock_id", lockID, "error", err)
		}
	}, true, nil
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock.Now()
	}
	return time.Now()
}

// localDate is the calendar date of now in the engine's timezone, so a
// 00:30 Paris run is not attributed to the previous UTC day.
func (d *Dispatcher) localDate(now time.Time) time.Time {
	if loc, err := time.LoadLocation(d.Timezone); err == nil && d.Timezone != "" {
		now = now.In(loc)
	}
	y, m, day := now.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
