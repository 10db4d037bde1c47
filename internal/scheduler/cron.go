package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Entry binds a cron spec to a payload.
type Entry struct {
	Spec    string
	Payload Payload
}

// CronScheduler fires Dispatcher payloads from a cron table. Specs accept
// the standard five fields, descriptors such as "@every 5m" and a
// CRON_TZ= prefix.
type CronScheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	logger     *slog.Logger
	// runTimeout bounds one triggered run.
	runTimeout time.Duration
}

// NewCronScheduler creates a scheduler. Overlapping firings of the same
// entry are skipped rather than queued.
func NewCronScheduler(d *Dispatcher, logger *slog.Logger, runTimeout time.Duration) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	return &CronScheduler{cron: c, dispatcher: d, logger: logger, runTimeout: runTimeout}
}

// Register adds every entry. It fails on the first invalid spec so a bad
// deployment never runs with a partial table.
func (s *CronScheduler) Register(entries ...Entry) error {
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.Spec, s.job(e.Payload)); err != nil {
			return fmt.Errorf("scheduling %s with %q: %w", e.Payload.Task, e.Spec, err)
		}
		s.logger.Info("scheduled task", "task", e.Payload.Task, "schedule", e.Spec)
	}
	return nil
}

func (s *CronScheduler) job(p Payload) func() {
	return func() {
		ctx := context.Background()
		if s.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
			defer cancel()
		}
		// Handle logs its own failures.
		_, _ = s.dispatcher.Handle(ctx, p)
	}
}

// Start runs the scheduler in its own goroutine.
func (s *CronScheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and returns a context done when running ones end.
func (s *CronScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next reports the upcoming fire time of every entry.
func (s *CronScheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}
