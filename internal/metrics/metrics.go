package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway_control_plane"

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	deliveryAttempts *prometheus.CounterVec
	deliveryOutcomes *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec
	sandboxRequests  *prometheus.CounterVec
	sandboxLatency   prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	rateLimitHits    *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "delivery_attempts_total",
			Help:      "Webhook HTTP attempts by event type and result",
		}, []string{"event", "result"}),
		deliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "delivery_outcomes_total",
			Help:      "Terminal outcomes of webhook delivery sequences",
		}, []string{"event", "outcome"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "delivery_duration_seconds",
			Help:      "Latency of individual webhook attempts",
			Buckets:   histogramBuckets,
		}, []string{"event"}),
		sandboxRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "requests_total",
			Help:      "Sandbox requests by method and result",
		}, []string{"method", "result"}),
		sandboxLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "request_duration_seconds",
			Help:      "Latency of sandbox requests",
			Buckets:   histogramBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited gateway responses",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deliveryAttempts,
		m.deliveryOutcomes,
		m.deliveryLatency,
		m.sandboxRequests,
		m.sandboxLatency,
		m.httpRequests,
		m.httpLatency,
		m.rateLimitHits,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}


// ObserveDeliveryAttempt records one HTTP attempt. result is "success",
// "failure", "timeout" or "transport".
func (m *Metrics) ObserveDeliveryAttempt(event, result string, latency time.Duration) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(event, result).Inc()
	m.deliveryLatency.WithLabelValues(event).Observe(latency.Seconds())
}

func (m *Metrics) ObserveDeliveryOutcome(event, outcome string) {
	if m == nil {
		return
	}
	m.deliveryOutcomes.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveSandboxRequest(method, result string, latency time.Duration) {
	if m == nil {
		return
	}
	m.sandboxRequests.WithLabelValues(method, result).Inc()
	m.sandboxLatency.Observe(latency.Seconds())
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpLatency.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) ObserveRateLimitHit(reason string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(reason).Inc()
}
