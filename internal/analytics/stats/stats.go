// Package stats holds the numeric primitives shared by every detector.
//
// All functions are pure and expect a non-empty input. Empty input returns 0
// instead of NaN so callers that forget the minSamples gate never propagate
// NaN into scores; callers are still expected to gate on length themselves.
package stats

import (
	"math"
	"sort"

	mstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Variance returns the population variance.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.PopVariance(values, nil)
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Median returns the middle value, averaging the two central elements for
// even-length input. The input is not modified.
func Median(values []float64) float64 {
	m, err := mstats.Median(values)
	if err != nil {
		return 0
	}
	return m
}

// MAD returns the median absolute deviation from the median.
func MAD(values []float64) float64 {
	mad, err := mstats.MedianAbsoluteDeviationPopulation(values)
	if err != nil {
		return 0
	}
	return mad
}

// Percentile returns the p-th percentile (0-100) using linear interpolation
// between the two order statistics bracketing rank p/100*(n-1).
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

// Quartiles returns Q1 and Q3 with a single sort.
func Quartiles(values []float64) (q1, q3 float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, 25), percentileSorted(sorted, 75)
}

func percentileSorted(sorted []float64, p float64) float64 {
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		return sorted[0]
	}
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	if lo == hi {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo] + w*(sorted[hi]-sorted[lo])
}

// MinMax returns the smallest and largest value.
func MinMax(values []float64) (minVal, maxVal float64) {
	if len(values) == 0 {
		return 0, 0
	}
	minVal, maxVal = values[0], values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

// TrendWindow is the moving-average window used for trend decomposition:
// min(7, floor(n/4)).
func TrendWindow(n int) int {
	return min(7, n/4)
}

// MovingAverage returns a centered moving average. Windows are clamped to
// the series bounds, so edge points average over a partial window.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	half := window / 2
	for i := range values {
		start := max(0, i-half)
		end := min(len(values), i+half+1)
		out[i] = Mean(values[start:end])
	}
	return out
}
