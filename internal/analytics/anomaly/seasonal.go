package anomaly

import (
	"math"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/stats"
)

const (
	// seasonalPeriod is one week of daily samples.
	seasonalPeriod = 7
	// residualEpsilon is the relative spread below which residuals are
	// treated as constant.
	residualEpsilon = 1e-9
)

// decomposition splits a series into trend, seasonal and residual parts.
type decomposition struct {
	trend    []float64
	seasonal []float64
	residual []float64
}

// decompose uses a centered moving average for trend and the mean of all
// values sharing the same index modulo seasonalPeriod for seasonality.
func decompose(values []float64) decomposition {
	n := len(values)
	trend := stats.MovingAverage(values, stats.TrendWindow(n))

	var sums, counts [seasonalPeriod]float64
	for i, v := range values {
		sums[i%seasonalPeriod] += v
		counts[i%seasonalPeriod]++
	}

	d := decomposition{
		trend:    trend,
		seasonal: make([]float64, n),
		residual: make([]float64, n),
	}
	for i, v := range values {
		k := i % seasonalPeriod
		d.seasonal[i] = sums[k] / counts[k]
		d.residual[i] = v - trend[i] - d.seasonal[i]
	}
	return d
}

// detectSeasonalESD flags indices whose residual lies more than threshold
// standard deviations from the mean of all other residuals.
func detectSeasonalESD(series []TimeSeriesPoint, cfg Config) []Anomaly {
	n := len(series)
	if n < 3 {
		return nil
	}
	values := seriesValues(series)
	d := decompose(values)
	level := stats.Mean(values)

	// Centering keeps the running sums small; z-scores are shift invariant.
	centre := stats.Mean(d.residual)
	var sum, sumSq float64
	for _, r := range d.residual {
		r -= centre
		sum += r
		sumSq += r * r
	}

	minSD := residualEpsilon * math.Max(1, math.Abs(level))
	var out []Anomaly
	others := float64(n - 1)
	for i, p := range series {
		r := d.residual[i] - centre
		mean := (sum - r) / others
		variance := (sumSq-r*r)/others - mean*mean
		if variance < 0 {
			variance = 0
		}
		sd := math.Sqrt(variance)
		if sd <= minSD {
			continue
		}
		z := math.Abs(r-mean) / sd
		if z <= cfg.Threshold {
			continue
		}
		// The seasonal component carries the series level; remove it once.
		expected := d.trend[i] + d.seasonal[i] - level
		out = append(out, newPointAnomaly(p, AlgorithmSeasonalESD, cfg, expected, z,
			explainSeasonal(p.Value, d.residual[i], z)))
	}
	return out
}
