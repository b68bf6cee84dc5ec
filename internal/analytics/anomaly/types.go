package anomaly

import (
	"errors"
	"fmt"
	"time"

	"github.com/kubilitics/kubilitics-anomaly/internal/cache"
)

var (
	// ErrUnknownAlgorithm is returned when a configuration names an algorithm
	// outside the registry.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrUnknownSensitivity is returned for a sensitivity outside
	// low/medium/high/critical.
	ErrUnknownSensitivity = errors.New("unknown sensitivity")

	// ErrDetectorNotFound is returned for operations on an unknown streaming
	// detector id.
	ErrDetectorNotFound = errors.New("detector not found")
)

// Algorithm names a detection strategy.
type Algorithm string

const (
	AlgorithmZScore          Algorithm = "zscore"
	AlgorithmModifiedZScore  Algorithm = "modified_zscore"
	AlgorithmIQR             Algorithm = "iqr"
	AlgorithmIsolationForest Algorithm = "isolation_forest"
	AlgorithmSeasonalESD     Algorithm = "seasonal_esd"
	AlgorithmEnsemble        Algorithm = "ensemble"
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	if _, ok := calibrations[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
	return a, nil
}

// Sensitivity remaps a score into a severity tier. It does not affect
// whether a point is flagged; Threshold does.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

// ParseSensitivity validates a sensitivity name.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch v := Sensitivity(s); v {
	case SensitivityLow, SensitivityMedium, SensitivityHigh, SensitivityCritical:
		return v, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownSensitivity, s)
}

// Severity of an anomaly, ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Type classifies an anomaly. Algorithms only produce point anomalies today.
type Type string

const (
	TypePoint      Type = "point"
	TypeContextual Type = "contextual"
	TypeCollective Type = "collective"
)

// Trend of a series, comparing the first and second half means.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// TimeSeriesPoint is one caller-supplied sample.
type TimeSeriesPoint struct {
	Timestamp time.Time              `json:"timestamp"`
	Value     float64                `json:"value"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Config governs a detection run or a streaming detector.
type Config struct {
	Algorithm        Algorithm   `json:"algorithm"`
	Sensitivity      Sensitivity `json:"sensitivity"`
	WindowSize       int         `json:"window_size"`
	Threshold        float64     `json:"threshold"`
	MinSamples       int         `json:"min_samples"`
	EnableContextual bool        `json:"enable_contextual"`
	EnableCollective bool        `json:"enable_collective"`
	EnableRealtime   bool        `json:"enable_realtime"`
}

// DefaultBatchConfig returns the configuration used by DetectAnomalies when
// none is given.
func DefaultBatchConfig() Config {
	return Config{
		Algorithm:        AlgorithmEnsemble,
		Sensitivity:      SensitivityMedium,
		WindowSize:       100,
		Threshold:        2.5,
		MinSamples:       20,
		EnableContextual: true,
		EnableCollective: true,
		EnableRealtime:   false,
	}
}

// DefaultStreamingConfig returns the configuration used by
// CreateStreamingDetector when none is given.
func DefaultStreamingConfig() Config {
	return Config{
		Algorithm:        AlgorithmModifiedZScore,
		Sensitivity:      SensitivityMedium,
		WindowSize:       50,
		Threshold:        2.5,
		MinSamples:       10,
		EnableContextual: false,
		EnableCollective: false,
		EnableRealtime:   true,
	}
}

// mergeConfig fills the zero-valued fields of cfg from defaults. Boolean
// flags cannot be told apart from an explicit false and are taken as given.
func mergeConfig(cfg *Config, defaults Config) Config {
	if cfg == nil {
		return defaults
	}
	out := *cfg
	if out.Algorithm == "" {
		out.Algorithm = defaults.Algorithm
	}
	if out.Sensitivity == "" {
		out.Sensitivity = defaults.Sensitivity
	}
	if out.WindowSize <= 0 {
		out.WindowSize = defaults.WindowSize
	}
	if out.Threshold <= 0 {
		out.Threshold = defaults.Threshold
	}
	if out.MinSamples <= 0 {
		out.MinSamples = defaults.MinSamples
	}
	return out
}

// Context is the enrichment attached to batch anomalies.
type Context struct {
	Metric            string   `json:"metric"`
	Seasonality       bool     `json:"seasonality"`
	Trend             Trend    `json:"trend"`
	RelatedMetrics    []string `json:"related_metrics"`
	BusinessContext   string   `json:"business_context"`
	HistoricalPattern string   `json:"historical_pattern"`
}

// Anomaly is a single flagged point.
type Anomaly struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Value           float64   `json:"value"`
	ExpectedValue   float64   `json:"expected_value"`
	Score           float64   `json:"score"`
	Severity        Severity  `json:"severity"`
	Type            Type      `json:"type"`
	Algorithm       Algorithm `json:"algorithm"`
	Confidence      float64   `json:"confidence"`
	Context         *Context  `json:"context,omitempty"`
	Explanation     string    `json:"explanation"`
	Recommendations []string  `json:"recommendations"`
}

// Summary aggregates a batch result. Accuracy and FalsePositiveRate are
// fixed estimates, not measured per run.
type Summary struct {
	Total             int              `json:"total"`
	BySeverity        map[Severity]int `json:"by_severity"`
	ByType            map[Type]int     `json:"by_type"`
	Accuracy          float64          `json:"accuracy"`
	FalsePositiveRate float64          `json:"false_positive_rate"`
}

// ModelPerformance reports calibration-derived quality figures and the
// wall-clock duration of the run.
type ModelPerformance struct {
	Precision      float64       `json:"precision"`
	Recall         float64       `json:"recall"`
	F1Score        float64       `json:"f1_score"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
}

// Result is the output of a batch run. Cached results are shared between
// callers and must be treated as read-only.
type Result struct {
	Anomalies        []Anomaly        `json:"anomalies"`
	Summary          Summary          `json:"summary"`
	ModelPerformance ModelPerformance `json:"model_performance"`
}

// Statistics of a streaming detector's current buffer.
type Statistics struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
}

// DetectorSnapshot is a copy of a streaming detector's state.
type DetectorSnapshot struct {
	ID          string            `json:"id"`
	Metric      string            `json:"metric"`
	Config      Config            `json:"config"`
	CreatedAt   time.Time         `json:"created_at"`
	BufferSize  int               `json:"buffer_size"`
	Buffer      []TimeSeriesPoint `json:"buffer"`
	LastAnomaly *time.Time        `json:"last_anomaly,omitempty"`
	Statistics  Statistics        `json:"statistics"`
}

// DetectorStats summarizes engine state.
type DetectorStats struct {
	ActiveDetectors int         `json:"active_detectors"`
	CachedResults   int         `json:"cached_results"`
	Algorithms      []string    `json:"algorithms"`
	Cache           cache.Stats `json:"cache"`
}
