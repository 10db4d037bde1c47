// Package main implements the job-runner CLI for operators: manual retry
// runs for one organisation, single-schedule runs, dry runs, and on-demand
// daily runs or reminder sweeps without waiting for the scheduler.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --org=org_1
//	go run ./cmd/tools/job-runner --org=org_1 --date=2026-03-07 --dry-run
//	go run ./cmd/tools/job-runner --org=org_1 --schedule=sch_123
//	go run ./cmd/tools/job-runner --daily --date=2026-03-07
//	go run ./cmd/tools/job-runner --reminders
//
// Configuration comes from the environment (or a .env file), exactly as for
// the API; DB_DRIVER=memory is rejected because a fresh in-memory store has
// nothing to run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"payretry/internal/config"
	"payretry/internal/engine"
	"payretry/internal/jobs"
	"payretry/internal/scheduler"
	"payretry/internal/types"
)

type options struct {
	OrganisationID string
	Date           time.Time
	ScheduleID     string
	DryRun         bool
	Daily          bool
	Reminders      bool
	Timezone       string
	CutoffTime     string
}

// parseArgs validates flag combinations. now supplies the default date.
func parseArgs(args []string, now time.Time, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		o    options
		date string
	)
	fs.StringVar(&o.OrganisationID, "org", "", "Organisation to run the retry job for")
	fs.StringVar(&date, "date", "", "Target date YYYY-MM-DD (default: today)")
	fs.StringVar(&o.ScheduleID, "schedule", "", "Run only this schedule, ignoring its due date")
	fs.BoolVar(&o.DryRun, "dry-run", false, "Select and count due schedules without attempting them")
	fs.BoolVar(&o.Daily, "daily", false, "Run every organisation with due schedules")
	fs.BoolVar(&o.Reminders, "reminders", false, "Dispatch pending reminders that are due")
	fs.StringVar(&o.Timezone, "timezone", "", "Override the cutoff timezone (IANA name)")
	fs.StringVar(&o.CutoffTime, "cutoff", "", "Override the cutoff time HH:MM")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: job-runner [flags]\n\nRun retry jobs and reminder sweeps directly.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	modes := 0
	for _, set := range []bool{o.OrganisationID != "", o.Daily, o.Reminders} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return nil, errors.New("exactly one of --org, --daily or --reminders is required")
	}
	if o.ScheduleID != "" && o.OrganisationID == "" {
		return nil, errors.New("--schedule requires --org")
	}
	if o.DryRun && o.ScheduleID != "" {
		return nil, errors.New("--dry-run cannot be combined with --schedule")
	}
	if o.Timezone != "" {
		if _, err := time.LoadLocation(o.Timezone); err != nil {
			return nil, fmt.Errorf("invalid --timezone %q: %w", o.Timezone, err)
		}
	}

	if date == "" {
		y, m, d := now.Date()
		o.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	} else {
		t, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
		}
		o.Date = t
	}
	return &o, nil
}

// runRequest builds the manual job request for --org runs.
func (o *options) runRequest(operator string) jobs.RunRequest {
	return jobs.RunRequest{
		OrganisationID: o.OrganisationID,
		TargetDate:     o.Date,
		TriggeredBy:    operator,
		IsManual:       true,
		DryRun:         o.DryRun,
		ScheduleID:     o.ScheduleID,
		Timezone:       o.Timezone,
		CutoffTime:     o.CutoffTime,
	}
}

func operatorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "job-runner:" + u.Username
	}
	return "job-runner"
}

func main() {
	opts, err := parseArgs(os.Args[1:], time.Now(), os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	cfg, err := config.LoadConfig(engine.SecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.Driver == "memory" {
		return errors.New("job-runner needs a database; DB_DRIVER=memory has nothing to run")
	}
	logger := engine.NewLogger(cfg.LogLevel).With("service", "job-runner")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := engine.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building engine services: %w", err)
	}
	defer svc.Close()

	operator := operatorName()
	ctx = types.WithActor(ctx, types.AuditActor{Type: types.ActorUser, ID: operator})

	var out any
	switch {
	case opts.OrganisationID != "":
		out, err = svc.Jobs.RunForDate(ctx, opts.runRequest(operator))
	default:
		task := scheduler.TaskProcessReminders
		if opts.Daily {
			task = scheduler.TaskRunDailyJobs
		}
		ref := opts.Date.Add(12 * time.Hour)
		d := &scheduler.Dispatcher{
			Jobs:      svc.Jobs,
			Reminders: svc.Reminders,
			Locker:    svc.Locker,
			LockTTL:   cfg.Engine.JobLockTTL,
			WorkerID:  svc.WorkerID,
			Timezone:  cfg.Engine.DefaultTimezone,
			Clock:     svc.Clock,
			Logger:    logger,
		}
		p := scheduler.Payload{Task: task}
		if opts.Daily {
			p.ReferenceTime = &ref
		}
		out, err = d.Handle(ctx, p)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
