// Package metrics exposes Prometheus collectors for the summarization service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsSubmittedTotal         *prometheus.CounterVec
	jobOutcomesTotal           *prometheus.CounterVec
	jobAttemptsExhaustedTotal  prometheus.Counter
	activeWorkers              prometheus.Gauge
	probeResultsTotal          *prometheus.CounterVec
	summarizeDurationSeconds   *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		jobsSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usm_jobs_submitted_total",
				Help: "Summarization submissions, labeled by result.",
			},
			[]string{"result"},
		)

		jobOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usm_job_outcomes_total",
				Help: "Job execution attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobAttemptsExhaustedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "usm_job_attempts_exhausted_total",
				Help: "Jobs left pending after their last allowed attempt.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "usm_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		probeResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usm_probe_results_total",
				Help: "Liveness probe verdicts.",
			},
			[]string{"verdict"},
		)

		summarizeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usm_summarize_duration_seconds",
				Help:    "Time spent loading and summarizing a document.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usm_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission counts a gateway submission result such as "accepted" or "duplicate".
func ObserveSubmission(result string) {
	Init()
	jobsSubmittedTotal.WithLabelValues(result).Inc()
}

// ObserveJobOutcome counts one execution attempt by outcome.
func ObserveJobOutcome(outcome string) {
	Init()
	jobOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttemptsExhausted counts a job abandoned after its last attempt.
func ObserveAttemptsExhausted() {
	Init()
	jobAttemptsExhaustedTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveProbe counts a probe verdict.
func ObserveProbe(verdict string) {
	Init()
	probeResultsTotal.WithLabelValues(verdict).Inc()
}

// ObserveSummarize records how long a summarization took.
func ObserveSummarize(status string, duration time.Duration) {
	Init()
	summarizeDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
