package anomaly

import "fmt"

// CalibrationConstants are fixed per-algorithm figures used for confidence
// and model-performance reporting. They are not measured against ground
// truth.
type CalibrationConstants struct {
	Accuracy    float64 `json:"accuracy"`
	Sensitivity float64 `json:"sensitivity"`
}

var calibrations = map[Algorithm]CalibrationConstants{
	AlgorithmZScore:          {Accuracy: 0.75, Sensitivity: 0.80},
	AlgorithmModifiedZScore:  {Accuracy: 0.82, Sensitivity: 0.85},
	AlgorithmIQR:             {Accuracy: 0.78, Sensitivity: 0.75},
	AlgorithmIsolationForest: {Accuracy: 0.88, Sensitivity: 0.90},
	AlgorithmSeasonalESD:     {Accuracy: 0.85, Sensitivity: 0.87},
	AlgorithmEnsemble:        {Accuracy: 0.92, Sensitivity: 0.88},
}

// registryOrder is the fixed listing order of the registry.
var registryOrder = []Algorithm{
	AlgorithmZScore,
	AlgorithmModifiedZScore,
	AlgorithmIQR,
	AlgorithmIsolationForest,
	AlgorithmSeasonalESD,
	AlgorithmEnsemble,
}

// ensembleMembers run inside the ensemble, in this order.
var ensembleMembers = []Algorithm{
	AlgorithmZScore,
	AlgorithmModifiedZScore,
	AlgorithmIQR,
	AlgorithmIsolationForest,
}

// Algorithms lists every registered algorithm.
func Algorithms() []Algorithm {
	out := make([]Algorithm, len(registryOrder))
	copy(out, registryOrder)
	return out
}

// Calibration returns the constants of an algorithm.
func Calibration(a Algorithm) (CalibrationConstants, bool) {
	c, ok := calibrations[a]
	return c, ok
}

// StreamingSupported reports whether streaming detectors evaluate a.
func StreamingSupported(a Algorithm) bool {
	switch a {
	case AlgorithmZScore, AlgorithmModifiedZScore, AlgorithmIQR:
		return true
	}
	return false
}

// runAlgorithm dispatches one batch detection.
func runAlgorithm(a Algorithm, series []TimeSeriesPoint, cfg Config) ([]Anomaly, error) {
	switch a {
	case AlgorithmZScore:
		return detectZScore(series, cfg), nil
	case AlgorithmModifiedZScore:
		return detectModifiedZScore(series, cfg), nil
	case AlgorithmIQR:
		return detectIQR(series, cfg), nil
	case AlgorithmIsolationForest:
		return detectIsolation(series, cfg), nil
	case AlgorithmSeasonalESD:
		return detectSeasonalESD(series, cfg), nil
	case AlgorithmEnsemble:
		return detectEnsemble(series, cfg), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, a)
}
