package metrics

import (
	"context"
	"time"

	"payretry/internal/types"
)

// NoopMetrics discards everything. Used when ENABLE_METRICS is off.
type NoopMetrics struct{}

var _ types.EngineMetrics = NoopMetrics{}

func (NoopMetrics) RecordAttempt(context.Context, string)                         {}
func (NoopMetrics) RecordJobDuration(context.Context, string, time.Duration)      {}
func (NoopMetrics) RecordReminder(context.Context, types.ReminderChannel, string) {}
func (NoopMetrics) RecordExternalFailure(context.Context, string, string)         {}
