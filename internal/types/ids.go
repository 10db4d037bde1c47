package types

import "github.com/google/uuid"

// Entity id prefixes.
const (
	PrefixRetryPolicy    = "rpol_"
	PrefixReminderPolicy = "mpol_"
	PrefixSchedule       = "sch_"
	PrefixAttempt        = "att_"
	PrefixJob            = "job_"
	PrefixReminder       = "rem_"
	PrefixTriggerRule    = "rule_"
	PrefixEvent          = "evt_"
)

// NewID returns prefix followed by a random UUID.
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}
