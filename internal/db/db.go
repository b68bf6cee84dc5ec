// Package db persists emitted anomalies so they can be queried after the
// in-memory cache and streaming windows have moved on.
package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface for the anomaly service.
type Store interface {
	AnomalyStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Anomaly store ───────────────────────────────────────────────────────────

// AnomalyRecord is a persisted anomaly emitted by a batch run or a streaming detector.
type AnomalyRecord struct {
	ID            string    `json:"id"`
	Metric        string    `json:"metric"`
	Algorithm     string    `json:"algorithm"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`
	Mode          string    `json:"mode"` // batch | streaming
	Value         float64   `json:"value"`
	ExpectedValue float64   `json:"expected_value"`
	Score         float64   `json:"score"`
	Confidence    float64   `json:"confidence"`
	Explanation   string    `json:"explanation"`
	Metadata      string    `json:"metadata"` // JSON blob: recommendations and context
	DetectedAt    time.Time `json:"detected_at"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// AnomalyQuery filters anomaly queries. Zero values mean "any".
type AnomalyQuery struct {
	Metric    string
	Algorithm string
	Severity  string
	Mode      string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// AnomalyStore persists anomaly history.
type AnomalyStore interface {
	// RecordAnomalies stores anomalies, skipping IDs that are already present.
	// Returns the number of new rows.
	RecordAnomalies(ctx context.Context, recs []*AnomalyRecord) (int, error)

	// QueryAnomalies retrieves anomalies, newest first.
	QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error)

	// GetAnomaly retrieves a single anomaly by ID.
	GetAnomaly(ctx context.Context, id string) (*AnomalyRecord, error)

	// AnomalySummary returns counts grouped by severity. Only the Metric,
	// From and To fields of q are used.
	AnomalySummary(ctx context.Context, q AnomalyQuery) (map[string]int, error)

	// PruneAnomalies deletes anomalies detected before cutoff.
	PruneAnomalies(ctx context.Context, cutoff time.Time) (int64, error)
}
