package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"queryguard/internal/escalation"
	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// PrometheusMetrics exposes the same observations as CloudWatchMetrics for
// a scrape endpoint. It is used by the long-running API and cron runner.
type PrometheusMetrics struct {
	deliveries      *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	sweeps          prometheus.Counter
	sweepDuration   prometheus.Histogram
	examined        prometheus.Counter
	escalations     *prometheus.CounterVec
	claimsLost      prometheus.Counter
	terminalOverdue prometheus.Gauge
	sweepErrors     prometheus.Counter
	lastSweep       prometheus.Gauge
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

var (
	_ core.NotificationMetrics = (*PrometheusMetrics)(nil)
	_ escalation.Metrics       = (*PrometheusMetrics)(nil)
)

// NewPrometheusMetrics registers the collectors on reg under namespace.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "queryguard"
	}
	f := promauto.With(reg)

	return &PrometheusMetrics{
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Escalation notices by channel, tier and result.",
		}, []string{"channel", "tier", "result"}),
		deliveryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in a single provider send.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed escalation sweeps.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of an escalation sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		examined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_examined_total",
			Help:      "Candidate queries evaluated by sweeps.",
		}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Committed escalations by target tier.",
		}, []string{"tier"}),
		claimsLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_lost_total",
			Help:      "Escalations skipped because another sweep committed first.",
		}),
		terminalOverdue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ceo_overdue_queries",
			Help:      "Queries past the CEO tier deadline at the last sweep.",
		}),
		sweepErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Per-record persistence errors during sweeps.",
		}),
		lastSweep: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the last sweep started.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Operator API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Operator API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (p *PrometheusMetrics) RecordDelivery(_ context.Context, ch types.Channel, tier types.Tier, result core.MetricResult) {
	p.deliveries.WithLabelValues(string(ch), string(tier), string(result)).Inc()
}

func (p *PrometheusMetrics) RecordLatency(_ context.Context, ch types.Channel, d time.Duration) {
	p.deliveryLatency.WithLabelValues(string(ch)).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordSweep(_ context.Context, r escalation.SweepReport) {
	p.sweeps.Inc()
	p.sweepDuration.Observe(r.Duration.Seconds())
	p.examined.Add(float64(r.Examined))
	p.escalations.WithLabelValues(string(types.TierManager)).Add(float64(r.EscalatedToManager))
	p.escalations.WithLabelValues(string(types.TierCEO)).Add(float64(r.EscalatedToCEO))
	p.claimsLost.Add(float64(r.ClaimsLost))
	p.terminalOverdue.Set(float64(r.TerminalOverdue))
	p.sweepErrors.Add(float64(len(r.Errors)))
	if !r.StartedAt.IsZero() {
		p.lastSweep.Set(float64(r.StartedAt.Unix()))
	}
}

func (p *PrometheusMetrics) RecordRequest(method, route, status string, d time.Duration) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.requestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}
