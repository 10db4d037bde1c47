// Package main is the entrypoint for the retry worker Lambda function.
//
// EventBridge rules invoke it with a scheduler.Payload naming the task:
//
//	{"task": "run_daily_jobs"}
//	{"task": "process_reminders"}
//	{"task": "run_organisation_job", "organisation_id": "org_1"}
//
// Services are built once per cold start and reused across invocations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"payretry/internal/config"
	"payretry/internal/engine"
	"payretry/internal/scheduler"
)

// Handler holds the dependencies of the Lambda handler function.
type Handler struct {
	Dispatcher *scheduler.Dispatcher
}

// Handle runs one EventBridge payload and returns a summary line.
func (h *Handler) Handle(ctx context.Context, payload scheduler.Payload) (string, error) {
	res, err := h.Dispatcher.Handle(ctx, payload)
	if err != nil {
		return "", err
	}
	if res.Skipped {
		return fmt.Sprintf("task %s skipped: lock held by another worker", res.Task), nil
	}
	return fmt.Sprintf("task %s complete: %d items processed", res.Task, res.Items()), nil
}

func main() {
	bootLogger := engine.NewLogger("info")
	bootLogger.Info("retry worker initializing (cold start)")

	cfg, err := config.LoadConfig(engine.SecretProvider())
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := engine.NewLogger(cfg.LogLevel).With("service", "retry-worker")

	svc, err := engine.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to build engine services", "error", err)
		os.Exit(1)
	}

	handler := &Handler{Dispatcher: &scheduler.Dispatcher{
		Jobs:      svc.Jobs,
		Reminders: svc.Reminders,
		Locker:    svc.Locker,
		LockTTL:   cfg.Engine.JobLockTTL,
		WorkerID:  svc.WorkerID,
		Timezone:  cfg.Engine.DefaultTimezone,
		Clock:     svc.Clock,
		Logger:    logger,
	}}

	logger.Info("retry worker initialized", "worker_id", svc.WorkerID)
	lambda.Start(handler.Handle)
}
