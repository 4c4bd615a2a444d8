package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulseguard/internal/engine"
	"github.com/pulseguard/internal/models"
)

const namespace = "pulseguard"

// Metrics exposes engine activity to Prometheus. It is registered as an
// observer on the lifecycle, scaling engine, dispatcher and scheduler.
type Metrics struct {
	registry *prometheus.Registry

	samplesIngested  *prometheus.CounterVec
	ruleEvents       *prometheus.CounterVec
	alertTransitions *prometheus.CounterVec
	alertsOpen       *prometheus.GaugeVec
	deliveries       *prometheus.CounterVec
	scaleDecisions   *prometheus.CounterVec
	instances        *prometheus.GaugeVec
	tickDuration     prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		samplesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Metric samples accepted by the ingest layer",
		}, []string{"source"}),
		ruleEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_events_total",
			Help:      "Rule events produced by the evaluator",
		}, []string{"kind"}),
		alertTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert state transitions",
		}, []string{"to", "reason", "severity"}),
		alertsOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts",
			Help:      "Alerts currently held in memory by status",
		}, []string{"status"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel kind and outcome",
		}, []string{"kind", "status"}),
		scaleDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scale_actions_total",
			Help:      "Scaling actions by policy and direction",
		}, []string{"policy", "action", "emergency"}),
		instances: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policy_instances",
			Help:      "Instance count after the last scaling action",
		}, []string{"policy"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one evaluation tick",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SamplesIngested(source string, n int) {
	m.samplesIngested.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) OnTransition(t models.AlertTransition) {
	m.alertTransitions.WithLabelValues(string(t.To), t.Reason, string(t.Alert.Severity)).Inc()
}

func (m *Metrics) OnScaleDecision(d models.ScaleDecision) {
	m.scaleDecisions.WithLabelValues(d.Policy, string(d.Action), strconv.FormatBool(d.Emergency)).Inc()
	m.instances.WithLabelValues(d.Policy).Set(float64(d.To))
}

func (m *Metrics) OnDelivery(r models.DeliveryResult) {
	m.deliveries.WithLabelValues(string(r.Kind), string(r.Status)).Inc()
}

// ObserveTick records a scheduler tick.
func (m *Metrics) ObserveTick(r engine.TickResult) {
	m.tickDuration.Observe(r.Duration.Seconds())
	for _, ev := range r.Events {
		m.ruleEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// SetAlertCounts mirrors the lifecycle's per-status alert counts.
func (m *Metrics) SetAlertCounts(counts map[models.AlertStatus]int) {
	for _, s := range []models.AlertStatus{models.AlertStatusActive, models.AlertStatusAcknowledged, models.AlertStatusResolved} {
		m.alertsOpen.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// Middleware records request counts and latencies by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
