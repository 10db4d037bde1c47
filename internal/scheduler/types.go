// Package scheduler routes timed work to the engine services.
//
// Both trigger paths share the Dispatcher: the retry-scheduler daemon fires
// payloads from its cron table, and the retry-worker Lambda receives the same
// payloads from EventBridge rules.
package scheduler

import "time"

// TaskType identifies which engine operation a payload triggers.
type TaskType string

const (
	// TaskRunDailyJobs runs the retry job of every organisation with due
	// schedules for the reference date.
	TaskRunDailyJobs TaskType = "run_daily_jobs"
	// TaskRunOrganisationJob runs the retry job of one organisation.
	TaskRunOrganisationJob TaskType = "run_organisation_job"
	// TaskProcessReminders dispatches pending reminders that are due.
	TaskProcessReminders TaskType = "process_reminders"
)

// Payload is the JSON document a trigger sends:
//
//	{
//	  "task": "run_daily_jobs",
//	  "reference_time": "2026-03-02T09:05:00Z"  // optional
//	}
type Payload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual invocation and backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	// OrganisationID is required by TaskRunOrganisationJob.
	OrganisationID string `json:"organisation_id,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
}
