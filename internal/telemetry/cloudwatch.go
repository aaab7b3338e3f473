// Package telemetry publishes delivery and sweep metrics to CloudWatch or
// Prometheus. Both backends implement core.NotificationMetrics and
// escalation.Metrics, and never fail the caller: publish errors are logged.
package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"queryguard/internal/escalation"
	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - DeliveryAttempt: Dims {Channel, Tier, Result}, on every channel outcome
//   - DeliveryLatency: Dims {Channel}, milliseconds per send
//   - SweepDuration, QueriesExamined, Escalations{Tier}, ClaimsLost,
//     TerminalOverdue, SweepErrors: one batch per sweep
//   - APIRequestCount, APILatency: Dims {Method, Route, Status}, per API request
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var (
	_ core.NotificationMetrics = (*CloudWatchMetrics)(nil)
	_ escalation.Metrics       = (*CloudWatchMetrics)(nil)
)

// NewCloudWatchMetrics creates a publisher for namespace. An empty
// namespace uses types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(name string, v int, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(v)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func (m *CloudWatchMetrics) put(ctx context.Context, data []cwtypes.MetricDatum, what string) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Error("failed to publish metric", "metric", what, "error", err.Error())
	}
}

// RecordDelivery emits a DeliveryAttempt datum.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, ch types.Channel, tier types.Tier, result core.MetricResult) {
	m.put(ctx, []cwtypes.MetricDatum{
		count(types.MetricDeliveryAttempt, 1,
			dim(types.DimChannel, string(ch)),
			dim(types.DimTier, string(tier)),
			dim(types.DimResult, string(result)),
		),
	}, types.MetricDeliveryAttempt)
}

// RecordLatency emits a DeliveryLatency datum in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, ch types.Channel, d time.Duration) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimChannel, string(ch))},
	}}, types.MetricDeliveryLatency)
}

// RecordSweep publishes the sweep report in one PutMetricData call.
// TerminalOverdue is always sent, including zero, so an alarm on it sees
// continuous data.
func (m *CloudWatchMetrics) RecordSweep(ctx context.Context, r escalation.SweepReport) {
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricSweepDuration),
			Value:      aws.Float64(float64(r.Duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
		count(types.MetricQueriesExamined, r.Examined),
		count(types.MetricEscalations, r.EscalatedToManager, dim(types.DimTier, string(types.TierManager))),
		count(types.MetricEscalations, r.EscalatedToCEO, dim(types.DimTier, string(types.TierCEO))),
		count(types.MetricClaimsLost, r.ClaimsLost),
		count(types.MetricTerminalOverdue, r.TerminalOverdue, dim(types.DimTier, string(types.TierCEO))),
		count(types.MetricSweepErrors, len(r.Errors)),
	}
	m.put(ctx, data, "sweep")
}

// RecordRequest emits APIRequestCount and APILatency for one API request.
// It runs after the response is written, so it uses its own short context.
func (m *CloudWatchMetrics) RecordRequest(method, route, status string, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimRoute, route),
		dim(types.DimStatus, status),
	}
	m.put(ctx, []cwtypes.MetricDatum{
		count(types.MetricAPIRequestCount, 1, dims...),
		{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	}, types.MetricAPIRequestCount)
}
