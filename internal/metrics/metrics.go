// Package metrics registers the Prometheus collectors for the HTTP surface
// and the resolution job, and serves them on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_uploads_total",
			Help: "CSV uploads by broker and result",
		},
		[]string{"broker", "result"},
	)

	resolutionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolution_runs_total",
			Help: "Resolution runs by terminal step",
		},
		[]string{"result"},
	)

	resolutionRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolution_run_duration_seconds",
			Help:    "Wall time of one resolution run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	fundOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolution_fund_outcomes_total",
			Help: "Fund constituent resolution outcomes",
		},
		[]string{"outcome"},
	)

	securityLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolution_security_lookups_total",
			Help: "Sector/country lookups by source (cache or api)",
		},
		[]string{"phase", "source"},
	)

	resolutionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolution_queue_depth",
			Help: "Snapshots waiting for resolution",
		},
	)
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(httpRequestsTotal)
	registry.MustRegister(httpRequestDuration)
	registry.MustRegister(uploadsTotal)
	registry.MustRegister(resolutionRunsTotal)
	registry.MustRegister(resolutionRunDuration)
	registry.MustRegister(fundOutcomesTotal)
	registry.MustRegister(securityLookupsTotal)
	registry.MustRegister(resolutionQueueDepth)
}

// Registry returns the prometheus registry
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveHTTPRequest records one served request
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload counts an upload attempt
func RecordUpload(broker, result string) {
	uploadsTotal.WithLabelValues(broker, result).Inc()
}

// RecordRun counts a finished resolution run
func RecordRun(result string, duration time.Duration) {
	resolutionRunsTotal.WithLabelValues(result).Inc()
	resolutionRunDuration.Observe(duration.Seconds())
}

// RecordFundOutcome counts one fund resolution outcome
func RecordFundOutcome(outcome string) {
	fundOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordLookup counts one sector/country lookup
func RecordLookup(phase string, cacheHit bool) {
	source := "api"
	if cacheHit {
		source = "cache"
	}
	securityLookupsTotal.WithLabelValues(phase, source).Inc()
}

// SetQueueDepth publishes the resolution queue length
func SetQueueDepth(n int) {
	resolutionQueueDepth.Set(float64(n))
}
