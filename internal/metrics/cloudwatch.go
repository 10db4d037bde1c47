// Package metrics emits engine telemetry to CloudWatch.
//
// Metrics emitted:
//   - RetryAttempt: Dims {Result} on every finished attempt
//   - RetryJobDuration: Dims {OrganisationID} per job run, in milliseconds
//   - ReminderDispatch: Dims {Channel, Result} per reminder decision
//   - ExternalAPIFailure: Dims {Provider, Result} when an upstream call
//     exhausts its retries
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"payretry/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ types.EngineMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics implements types.EngineMetrics. Failures to publish are
// logged and never surface to the caller.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing under namespace,
// falling back to types.MetricNamespace when empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordAttempt emits a RetryAttempt count with the Result dimension.
func (m *CloudWatchMetrics) RecordAttempt(ctx context.Context, result string) {
	m.put(ctx, types.MetricRetryAttempt, 1, cwtypes.StandardUnitCount,
		dim(types.DimResult, result))
}

// RecordJobDuration emits the wall-clock time of one job run.
func (m *CloudWatchMetrics) RecordJobDuration(ctx context.Context, orgID string, d time.Duration) {
	m.put(ctx, types.MetricRetryJobDuration, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimOrgID, orgID))
}

// RecordReminder emits a ReminderDispatch count with Channel and Result dimensions.
func (m *CloudWatchMetrics) RecordReminder(ctx context.Context, channel types.ReminderChannel, result string) {
	m.put(ctx, types.MetricReminderDispatch, 1, cwtypes.StandardUnitCount,
		dim(types.DimChannel, string(channel)),
		dim(types.DimResult, result))
}

// RecordExternalFailure implements external.FailureRecorder.
func (m *CloudWatchMetrics) RecordExternalFailure(ctx context.Context, provider, code string) {
	m.put(ctx, types.MetricExternalFailure, 1, cwtypes.StandardUnitCount,
		dim(types.DimProvider, provider),
		dim(types.DimResult, code))
}

func (m *CloudWatchMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now().UTC()),
				Dimensions: dims,
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", name,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
