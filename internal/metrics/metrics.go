// Package metrics exposes Prometheus collectors for the routine harvester.
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
	documentsTotal             *prometheus.CounterVec
	documentBytesTotal         *prometheus.CounterVec
	recordsIndexed             prometheus.Gauge
	artifactsCreatedTotal      prometheus.Counter
	stageDurationSeconds       *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	lastSuccessTimestamp       *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routine_documents_total",
				Help: "Acquisition outcomes, labeled by status and strategy.",
			},
			[]string{"status", "strategy"},
		)

		documentBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routine_document_bytes_total",
				Help: "Bytes written to the staging directory, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		recordsIndexed = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "routine_records_indexed",
				Help: "Number of records in the most recently published index.",
			},
		)

		artifactsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "routine_artifacts_created_total",
				Help: "Page images and single-page documents generated.",
			},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routine_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routine_runs_total",
				Help: "Pipeline stage runs, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		lastSuccessTimestamp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "routine_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run of each stage.",
			},
			[]string{"stage"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument records one acquisition outcome.
func ObserveDocument(status, strategy string, bytesWritten int64) {
	if strategy == "" {
		strategy = "none"
	}
	documentsTotal.WithLabelValues(status, strategy).Inc()
	if bytesWritten > 0 {
		documentBytesTotal.WithLabelValues(strategy).Add(float64(bytesWritten))
	}
}

// SetRecordsIndexed publishes the size of the latest index.
func SetRecordsIndexed(n int) {
	recordsIndexed.Set(float64(n))
}

// AddArtifactsCreated counts newly generated artifacts.
func AddArtifactsCreated(n int) {
	if n > 0 {
		artifactsCreatedTotal.Add(float64(n))
	}
}

// ObserveStage records a stage run. status is "success" or "error".
func ObserveStage(stage, status string, duration time.Duration, finished time.Time) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	runsTotal.WithLabelValues(stage, status).Inc()
	if status == "success" {
		lastSuccessTimestamp.WithLabelValues(stage).Set(float64(finished.Unix()))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
