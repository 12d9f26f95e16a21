// Package metrics exposes Prometheus collectors for scrape runs and the small
// HTTP surface that serves them.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal              *prometheus.CounterVec
	attemptDurationSeconds     *prometheus.HistogramVec
	resultsTotal               *prometheus.CounterVec
	itemsSkippedTotal          *prometheus.CounterVec
	trackingFaultsTotal        *prometheus.CounterVec
	batchItems                 *prometheus.GaugeVec
	pacingDelaySeconds         prometheus.Histogram
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	once.Do(func() {
		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_attempts_total",
				Help: "Total scrape attempts, labeled by batch source and outcome.",
			},
			[]string{"source", "outcome", "status"},
		)

		attemptDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_attempt_duration_seconds",
				Help:    "Time from build to terminal outcome for one attempt.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_results_total",
				Help: "Total listing results extracted, labeled by batch source.",
			},
			[]string{"source"},
		)

		itemsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_skipped_total",
				Help: "Items dropped before any lifecycle event, labeled by batch source and reason.",
			},
			[]string{"source", "reason"},
		)

		trackingFaultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tracking_faults_total",
				Help: "Lifecycle reports the tracking store rejected, labeled by operation.",
			},
			[]string{"op"},
		)

		batchItems = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraper_batch_items",
				Help: "Number of items in the most recent batch, labeled by source.",
			},
			[]string{"source"},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_pacing_delay_seconds",
				Help:    "Histogram of inter-item pacing waits.",
				Buckets: prometheus.LinearBuckets(5, 2.5, 9),
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total pipeline runs, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// StatusLabel buckets an HTTP status for the attempts counter. Zero means no
// response arrived.
func StatusLabel(code int) string {
	switch {
	case code <= 0:
		return "none"
	case code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return "other"
	}
}

// ObserveAttempt records one terminal outcome.
func ObserveAttempt(source, outcome string, status int, duration time.Duration, results int) {
	attemptsTotal.WithLabelValues(source, outcome, StatusLabel(status)).Inc()
	attemptDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	if results > 0 {
		resultsTotal.WithLabelValues(source).Add(float64(results))
	}
}

// ObserveSkipped counts an item dropped before it started.
func ObserveSkipped(source, reason string) {
	itemsSkippedTotal.WithLabelValues(source, reason).Inc()
}

// ObserveTrackingFault counts a rejected lifecycle report.
func ObserveTrackingFault(op string) {
	trackingFaultsTotal.WithLabelValues(op).Inc()
}

// SetBatchItems records the size of the batch just acquired.
func SetBatchItems(source string, n int) {
	batchItems.WithLabelValues(source).Set(float64(n))
}

// ObservePacingDelay records one inter-item wait.
func ObservePacingDelay(d time.Duration) {
	pacingDelaySeconds.Observe(d.Seconds())
}

// ObserveRun counts a finished run.
func ObserveRun(source, result string) {
	runsTotal.WithLabelValues(source, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
