package types

// Telemetry metric names for CloudWatch.
const (
	// Metric Names
	MetricRetryAttempt     = "RetryAttempt"
	MetricRetryJobDuration = "RetryJobDuration"
	MetricReminderDispatch = "ReminderDispatch"
	MetricExternalFailure  = "ExternalAPIFailure"

	// Dimension Keys
	DimResult   = "Result"
	DimChannel  = "Channel"
	DimOrgID    = "OrganisationID"
	DimProvider = "Provider"

	// Metric Namespace
	MetricNamespace = "PayRetry"
)

// Metric result dimension values.
const (
	ResultSucceeded  = "succeeded"
	ResultFailed     = "failed"
	ResultPending    = "pending"
	ResultSkipped    = "skipped"
	ResultQueued     = "queued"
	ResultSuppressed = "suppressed"
)
