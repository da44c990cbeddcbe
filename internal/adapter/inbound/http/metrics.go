package http

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/domain/pending"
)

// Metrics holds all Prometheus metrics of the bridge.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	BridgedTotal       *prometheus.CounterVec
	RejectionsTotal    *prometheus.CounterVec
	DecisionLatency    *prometheus.HistogramVec
	NotificationsTotal *prometheus.CounterVec
	ResolutionsTotal   *prometheus.CounterVec
	ActiveStreams      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
// If store is not nil, gauges for the admission counter and the number of
// registered requests read it on every scrape.
func NewMetrics(reg prometheus.Registerer, store *pending.Store) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served by the bridge listener",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcp_bridge",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds, streaming responses included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		BridgedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "bridged_requests_total",
				Help:      "Requests handed to the decision-maker, by event kind and outcome",
			},
			[]string{"kind", "outcome"}, // outcome=response/stream/timeout/abandoned/error/accepted
		),
		RejectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "rejections_total",
				Help:      "Requests rejected before reaching the decision-maker",
			},
			[]string{"reason"}, // reason=capacity/body_too_large/bad_request/shutting_down
		),
		DecisionLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcp_bridge",
				Name:      "decision_wait_seconds",
				Help:      "Time a request waited for the decision-maker",
				Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 180},
			},
			[]string{"kind"},
		),
		NotificationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "notifications_total",
				Help:      "Notifications sent to the decision-maker",
			},
			[]string{"kind", "result"}, // result=delivered/dropped
		),
		ResolutionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_bridge",
				Name:      "resolutions_total",
				Help:      "Resolution calls made by the decision-maker",
			},
			[]string{"method", "result"}, // result=ok/rejected
		),
		ActiveStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcp_bridge",
				Name:      "active_streams",
				Help:      "Number of SSE responses currently being written",
			},
		),
	}

	if store != nil {
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "mcp_bridge",
				Name:      "admission_active",
				Help:      "Counted requests in flight (the admission counter)",
			},
			func() float64 { return float64(store.Active()) },
		)
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "mcp_bridge",
				Name:      "pending_requests",
				Help:      "Requests registered in the pending store",
			},
			func() float64 { return float64(store.Len()) },
		)
	}
	return m
}

// RecordResolution counts a resolution call. It is safe on a nil receiver.
func (m *Metrics) RecordResolution(method string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.ResolutionsTotal.WithLabelValues(method, result).Inc()
}

// otelInstruments mirror the decision metrics for the OpenTelemetry meter
// provider, so a configured metric exporter sees them too.
type otelInstruments struct {
	decisions    metric.Int64Counter
	decisionWait metric.Float64Histogram
}

func newOtelInstruments(mp metric.MeterProvider) otelInstruments {
	meter := mp.Meter(instrumentationName)

	var inst otelInstruments
	var err error
	inst.decisions, err = meter.Int64Counter("mcp_bridge.decisions",
		metric.WithDescription("Bridged requests by event kind and outcome"),
	)
	if err != nil {
		inst.decisions = noop.Int64Counter{}
	}
	inst.decisionWait, err = meter.Float64Histogram("mcp_bridge.decision.wait",
		metric.WithDescription("Time a request waited for the decision-maker"),
		metric.WithUnit("s"),
	)
	if err != nil {
		inst.decisionWait = noop.Float64Histogram{}
	}
	return inst
}

func (o otelInstruments) record(ctx context.Context, kind, outcome string, wait time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("bridge.kind", kind),
		attribute.String("bridge.outcome", outcome),
	)
	o.decisions.Add(ctx, 1, attrs)
	o.decisionWait.Record(ctx, wait.Seconds(), attrs)
}
