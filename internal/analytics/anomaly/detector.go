package anomaly

import (
	"context"
	"time"
)

// Package anomaly provides anomaly detection using classical statistics.
//
// Responsibilities:
//   - Detect anomalies in metric series over a fixed window (batch mode)
//   - Evaluate live points against a bounded per-metric buffer (streaming mode)
//   - Explain every flagged point and suggest follow-up actions
//   - Enrich batch anomalies with trend, seasonality and metric context
//   - Memoize batch results per (metric, configuration)
//
// Philosophy: Classical Statistics, NOT Machine Learning
//   - No training data required
//   - Fully interpretable and explainable results
//   - Deterministic and reproducible
//   - Fast computation (suitable for streaming)
//
// Detection Algorithms:
//
//   1. Z-Score (zscore)
//      - z = |value - mean| / stddev (population)
//      - Flag when z > threshold
//
//   2. Modified Z-Score (modified_zscore)
//      - m = |0.6745 * (value - median) / MAD|
//      - Robust to outliers skewing the mean
//
//   3. Interquartile Range (iqr)
//      - Outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR]
//      - Score is the distance beyond the nearer fence divided by IQR
//
//   4. Isolation proxy (isolation_forest)
//      - isolation = 1 / (1 + mean distance to every other point)
//      - Flag when isolation > 0.6
//
//   5. Seasonal ESD (seasonal_esd)
//      - residual = value - centered moving average - day-of-week mean
//      - Leave-one-out z-score on residuals
//
//   6. Ensemble (ensemble)
//      - Runs 1-4 and keeps timestamps flagged by at least two of them
//
// Accuracy and sensitivity per algorithm are fixed calibration constants,
// not measurements. They feed confidence and model-performance reporting.
//
// Streaming mode only evaluates zscore, modified_zscore and iqr. Any other
// algorithm is accepted at creation time but never fires.
//
// Integration Points:
//   - Time-Series history: records analyzed windows and live points
//   - Result cache: memoizes batch runs
//   - REST API / WebSocket: exposes detection and the live anomaly feed
//   - History store: persists emitted anomalies

// Detector defines the public operations of the anomaly engine.
type Detector interface {
	// DetectAnomalies runs the configured algorithm over data.
	// cfg may be nil (batch defaults) or partial (zero fields take defaults).
	DetectAnomalies(ctx context.Context, metricName string, data []TimeSeriesPoint, cfg *Config) (*Result, error)

	// CreateStreamingDetector allocates a streaming detector and returns its id.
	CreateStreamingDetector(metricName string, cfg *Config) string

	// ProcessStreamingPoint feeds one point to a streaming detector.
	// Returns nil when the point is not anomalous or the detector is warming up.
	ProcessStreamingPoint(detectorID string, point TimeSeriesPoint) (*Anomaly, error)

	// RemoveStreamingDetector deletes a detector. Unknown ids are ignored.
	RemoveStreamingDetector(detectorID string)

	// GetStreamingDetector returns a snapshot of a detector's state.
	GetStreamingDetector(detectorID string) (*DetectorSnapshot, error)

	// ClearCache drops every cached batch result.
	ClearCache()

	// InvalidateMetric drops cached batch results for one metric.
	InvalidateMetric(metricName string) int

	// GetDetectorStats reports live detectors, cached results and algorithms.
	GetDetectorStats() DetectorStats

	// HistoricalData returns the recorded series for a metric.
	HistoricalData(metricName string) []TimeSeriesPoint

	// HistoricalRange returns recorded points inside [from, to]; zero bounds are open.
	HistoricalRange(metricName string, from, to time.Time) []TimeSeriesPoint

	// HistoryIndex lists metrics with recorded history.
	HistoryIndex() []MetricHistory
}
