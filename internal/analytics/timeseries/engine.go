package timeseries

import "time"

// Package timeseries keeps the recent history of every metric the anomaly
// engine has seen.
//
// Storage Architecture:
//   - One fixed-capacity ring buffer per metric name (FIFO when full)
//   - Batch detection replaces a metric's history with the analyzed window
//   - Streaming detection appends each live point as it arrives
//
// The default capacity is 24 hours of 15-second samples (5760 points).
//
// Integration Points:
//   - Anomaly Engine: records batch windows and streaming points
//   - Streaming detectors: reuse RingBuffer for their bounded window
//   - REST API: exposes per-metric history for inspection

// DataPoint is one stored sample.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HistoryStore defines the interface for per-metric history.
type HistoryStore interface {
	// Append adds points to the end of the metric's history, evicting the
	// oldest points once capacity is reached.
	Append(metricName string, points ...DataPoint)

	// Replace discards the metric's history and stores points instead.
	// Only the most recent points up to capacity are kept.
	Replace(metricName string, points []DataPoint)

	// Points returns a copy of the metric's history in insertion order.
	Points(metricName string) []DataPoint

	// Range returns points with start <= timestamp <= end.
	Range(metricName string, start, end time.Time) []DataPoint

	// Len returns the number of stored points for the metric.
	Len(metricName string) int

	// Metrics lists every metric with stored history.
	Metrics() []string
}
