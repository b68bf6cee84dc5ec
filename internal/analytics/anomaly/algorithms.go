package anomaly

import (
	"math"

	"github.com/google/uuid"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/stats"
)

const (
	// modifiedZScale makes MAD consistent with stddev for normal data.
	modifiedZScale = 0.6745
	iqrFenceFactor = 1.5
	// isolationCutoff flags points whose isolation proxy exceeds it.
	isolationCutoff = 0.6
)

func seriesValues(series []TimeSeriesPoint) []float64 {
	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	return values
}

// newPointAnomaly builds a point anomaly with severity, confidence,
// explanation and recommendations filled in.
func newPointAnomaly(p TimeSeriesPoint, a Algorithm, cfg Config, expected, score float64, explanation string) Anomaly {
	severity := ScoreToSeverity(score, cfg.Sensitivity)
	return Anomaly{
		ID:              uuid.NewString(),
		Timestamp:       p.Timestamp,
		Value:           p.Value,
		ExpectedValue:   expected,
		Score:           score,
		Severity:        severity,
		Type:            TypePoint,
		Algorithm:       a,
		Confidence:      calibrations[a].Accuracy,
		Explanation:     explanation,
		Recommendations: recommendationsFor(severity, p.Value, expected),
	}
}

func detectZScore(series []TimeSeriesPoint, cfg Config) []Anomaly {
	if len(series) == 0 {
		return nil
	}
	values := seriesValues(series)
	mean := stats.Mean(values)
	sd := stats.StdDev(values)
	if sd == 0 {
		return nil
	}

	var out []Anomaly
	for _, p := range series {
		z := math.Abs(p.Value-mean) / sd
		if z > cfg.Threshold {
			out = append(out, newPointAnomaly(p, AlgorithmZScore, cfg, mean, z,
				explainZScore(p.Value, mean, sd, z)))
		}
	}
	return out
}

func detectModifiedZScore(series []TimeSeriesPoint, cfg Config) []Anomaly {
	if len(series) == 0 {
		return nil
	}
	values := seriesValues(series)
	median := stats.Median(values)
	mad := stats.MAD(values)

	var out []Anomaly
	for _, p := range series {
		score := modifiedZScore(p.Value, median, mad)
		if score > cfg.Threshold {
			out = append(out, newPointAnomaly(p, AlgorithmModifiedZScore, cfg, median, score,
				explainModifiedZScore(p.Value, median, mad, score)))
		}
	}
	return out
}

// modifiedZScore is 0 when mad is 0.
func modifiedZScore(value, median, mad float64) float64 {
	if mad == 0 {
		return 0
	}
	return math.Abs(modifiedZScale * (value - median) / mad)
}

func detectIQR(series []TimeSeriesPoint, cfg Config) []Anomaly {
	if len(series) == 0 {
		return nil
	}
	q1, q3 := stats.Quartiles(seriesValues(series))
	iqr := q3 - q1
	if iqr == 0 {
		return nil
	}
	lower, upper := q1-iqrFenceFactor*iqr, q3+iqrFenceFactor*iqr
	expected := (q1 + q3) / 2

	var out []Anomaly
	for _, p := range series {
		score, outside := iqrScore(p.Value, lower, upper, iqr)
		if !outside {
			continue
		}
		out = append(out, newPointAnomaly(p, AlgorithmIQR, cfg, expected, score,
			explainIQR(p.Value, lower, upper)))
	}
	return out
}

// iqrScore returns the distance beyond the nearer fence in IQR units.
func iqrScore(value, lower, upper, iqr float64) (float64, bool) {
	switch {
	case value < lower:
		return (lower - value) / iqr, true
	case value > upper:
		return (value - upper) / iqr, true
	}
	return 0, false
}

// detectIsolation flags points by a distance-based isolation proxy. The
// proxy grows as a point gets closer to the rest of the series.
func detectIsolation(series []TimeSeriesPoint, cfg Config) []Anomaly {
	if len(series) < 2 {
		return nil
	}
	values := seriesValues(series)
	mean := stats.Mean(values)

	var out []Anomaly
	for i, p := range series {
		var total float64
		for j, v := range values {
			if i != j {
				total += math.Abs(p.Value - v)
			}
		}
		avgDist := total / float64(len(values)-1)
		score := 1 / (1 + avgDist)
		if score > isolationCutoff {
			out = append(out, newPointAnomaly(p, AlgorithmIsolationForest, cfg, mean, score,
				explainIsolation(p.Value, avgDist, score)))
		}
	}
	return out
}
