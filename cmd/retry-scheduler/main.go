// Package main is the long-running retry scheduler daemon.
//
// It fires the daily retry run and the reminder sweep from the cron specs in
// ENGINE_DAILY_RUN_CRON and ENGINE_REMINDER_SWEEP_CRON. Several replicas may
// run side by side: the daily run and the sweep are guarded by job locks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payretry/internal/config"
	"payretry/internal/engine"
	"payretry/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(engine.SecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := engine.NewLogger(cfg.LogLevel).With("service", "retry-scheduler")

	svc, err := engine.Build(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("building engine services: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("failed to release engine resources", "error", err)
		}
	}()

	dispatcher := &scheduler.Dispatcher{
		Jobs:      svc.Jobs,
		Reminders: svc.Reminders,
		Locker:    svc.Locker,
		LockTTL:   cfg.Engine.JobLockTTL,
		WorkerID:  svc.WorkerID,
		Timezone:  cfg.Engine.DefaultTimezone,
		Clock:     svc.Clock,
		Logger:    logger,
	}

	cron := scheduler.NewCronScheduler(dispatcher, logger, cfg.Engine.JobLockTTL)
	if err := cron.Register(
		scheduler.Entry{Spec: cfg.Engine.DailyRunCron, Payload: scheduler.Payload{Task: scheduler.TaskRunDailyJobs}},
		scheduler.Entry{Spec: cfg.Engine.ReminderSweepCron, Payload: scheduler.Payload{Task: scheduler.TaskProcessReminders}},
	); err != nil {
		return err
	}
	cron.Start()
	logger.Info("retry scheduler started",
		"version", cfg.Build.Version,
		"worker_id", svc.WorkerID,
		"next_runs", cron.Next(),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutdown signal received", "signal", sig.String())

	// Give running tasks a chance to finish; job locks expire on their own
	// if the process is killed first.
	select {
	case <-cron.Stop().Done():
		logger.Info("running tasks finished")
	case <-time.After(30 * time.Second):
		logger.Warn("shutdown deadline reached with tasks still running")
	}
	return nil
}
