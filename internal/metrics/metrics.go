// Package metrics exports Prometheus metrics of a case view.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records case event, action and API metrics.
type Collector struct {
	events         *prometheus.CounterVec
	eventsRejected *prometheus.CounterVec
	streamErrors   prometheus.Counter
	actionFailures *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helium_case_events_total",
			Help: "Case events applied to the projection, by category.",
		}, []string{"category"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helium_case_events_rejected_total",
			Help: "Case events whose payload could not be decoded, by category.",
		}, []string{"category"}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helium_event_stream_errors_total",
			Help: "Failures to open or keep the case event stream.",
		}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helium_action_failures_total",
			Help: "Failed user actions, by action.",
		}, []string{"action"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helium_api_http_status_total",
			Help: "API responses by HTTP status code.",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helium_api_request_latency_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.events,
		c.eventsRejected,
		c.streamErrors,
		c.actionFailures,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordEvent counts one stream event.
func (c *Collector) RecordEvent(category string, applied bool) {
	if applied {
		c.events.WithLabelValues(category).Inc()
		return
	}
	c.eventsRejected.WithLabelValues(category).Inc()
}

// RecordStreamError counts a stream failure.
func (c *Collector) RecordStreamError() {
	c.streamErrors.Inc()
}

// RecordActionFailure counts a failed user action.
func (c *Collector) RecordActionFailure(action string) {
	c.actionFailures.WithLabelValues(action).Inc()
}

// RecordHTTPStatus counts an API response.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency observes the duration of an API request.
func (c *Collector) RecordRequestLatency(d time.Duration) {
	c.requestLatency.Observe(d.Seconds())
}

// Handler returns the scrape handler of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute serves /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
