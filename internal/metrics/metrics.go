package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Anomaly engine metrics for production monitoring
var (
	// Batch detection
	DetectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_detection_runs_total",
			Help: "Total number of algorithm executions in batch mode",
		},
		[]string{"algorithm"},
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_anomaly_detection_duration_seconds",
			Help:    "Batch detection duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
		[]string{"algorithm"},
	)

	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_anomalies_detected_total",
			Help: "Total number of anomalies emitted",
		},
		[]string{"algorithm", "severity", "mode"}, // mode: batch/streaming
	)

	// Result cache
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_cache_requests_total",
			Help: "Result cache lookups",
		},
		[]string{"result"}, // hit/miss/stale
	)

	// Streaming
	StreamingDetectorsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_anomaly_streaming_detectors_active",
			Help: "Number of live streaming detectors",
		},
	)

	StreamingPointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_streaming_points_total",
			Help: "Total number of points fed to streaming detectors",
		},
	)

	// HTTP API
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_anomaly_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_anomaly_websocket_clients",
			Help: "Number of connected anomaly feed subscribers",
		},
	)

	// History persistence
	PersistenceErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_persistence_errors_total",
			Help: "Anomalies that could not be written to the history store",
		},
	)

	AnomaliesPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_anomalies_pruned_total",
			Help: "Stored anomalies deleted by the retention loop",
		},
	)
)
