// Package metrics exposes Prometheus collectors for the paperlens service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	evaluationsTotal          *prometheus.CounterVec
	evaluationDurationSeconds prometheus.Histogram
	activeEvaluations         prometheus.Gauge
	feedFetchesTotal          *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		evaluationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperlens_evaluations_total",
				Help: "Total evaluation pipelines finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		evaluationDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "paperlens_evaluation_duration_seconds",
				Help:    "Histogram of end-to-end evaluation pipeline latencies.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		activeEvaluations = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "paperlens_active_evaluations",
				Help: "Number of evaluation pipelines currently in flight.",
			},
		)

		feedFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperlens_feed_fetches_total",
				Help: "Total daily-feed fetches, labeled by result (hit, fallback, cached, error).",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvaluation records one finished pipeline.
func ObserveEvaluation(status string, duration time.Duration) {
	evaluationsTotal.WithLabelValues(status).Inc()
	evaluationDurationSeconds.Observe(duration.Seconds())
}

// IncActiveEvaluations bumps the in-flight gauge.
func IncActiveEvaluations() {
	activeEvaluations.Inc()
}

// DecActiveEvaluations drops the in-flight gauge.
func DecActiveEvaluations() {
	activeEvaluations.Dec()
}

// ObserveFeedFetch counts one daily-feed request by result.
func ObserveFeedFetch(result string) {
	feedFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
