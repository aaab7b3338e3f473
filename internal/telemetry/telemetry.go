package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"

	"queryguard/internal/config"
	"queryguard/internal/escalation"
	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// Recorder is the combined surface the runners wire into the dispatcher,
// the sweeper and the operator API.
type Recorder interface {
	core.NotificationMetrics
	escalation.Metrics
	RecordRequest(method, route, status string, d time.Duration)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordDelivery(context.Context, types.Channel, types.Tier, core.MetricResult) {}
func (Nop) RecordLatency(context.Context, types.Channel, time.Duration)                  {}
func (Nop) RecordSweep(context.Context, escalation.SweepReport)                          {}
func (Nop) RecordRequest(string, string, string, time.Duration)                          {}

// Option configures New.
type Option func(*options)

type options struct {
	cw       CloudWatchClient
	registry prometheus.Registerer
}

// WithCloudWatchClient injects the CloudWatch client instead of loading
// AWS config.
func WithCloudWatchClient(c CloudWatchClient) Option {
	return func(o *options) { o.cw = c }
}

// WithRegisterer sets the Prometheus registerer. Defaults to
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registry = r }
}

// New selects the backend named by cfg.Observability.MetricBackend.
func New(ctx context.Context, cfg *config.Config, logger types.Logger, opts ...Option) (Recorder, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch cfg.Observability.MetricBackend {
	case config.MetricsCloudWatch:
		client := o.cw
		if client == nil {
			awsCfg, err := config.LoadAWS(ctx, cfg.AWS)
			if err != nil {
				return nil, err
			}
			client = cloudwatch.NewFromConfig(awsCfg)
		}
		return NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger), nil
	case config.MetricsPrometheus:
		ns := strings.ToLower(cfg.Observability.MetricNamespace)
		return NewPrometheusMetrics(o.registry, ns), nil
	case config.MetricsNone, "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown metric backend %q", cfg.Observability.MetricBackend)
	}
}
