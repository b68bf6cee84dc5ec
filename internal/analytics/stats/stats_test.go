package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanAndStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	assert.InDelta(t, 5.0, Mean(values), 1e-9)
	assert.InDelta(t, 4.0, Variance(values), 1e-9)
	assert.InDelta(t, 2.0, StdDev(values), 1e-9)
}

func TestStdDevConstantSeries(t *testing.T) {
	values := []float64{7, 7, 7, 7, 7}
	assert.Equal(t, 0.0, StdDev(values))
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"odd length", []float64{5, 1, 3}, 3},
		{"even length averages centre", []float64{4, 1, 3, 2}, 2.5},
		{"single value", []float64{42}, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Median(tt.values), 1e-9)
		})
	}
}

func TestMedianDoesNotReorderInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Median(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestMAD(t *testing.T) {
	// median 2, deviations {1,1,0,0,2,4,7} -> median 1
	values := []float64{1, 1, 2, 2, 4, 6, 9}
	assert.InDelta(t, 1.0, MAD(values), 1e-9)

	assert.Equal(t, 0.0, MAD([]float64{3, 3, 3}))
}

func TestPercentile(t *testing.T) {
	assert.InDelta(t, 3.0, Percentile([]float64{1, 2, 3, 4, 5}, 50), 1e-9)
	assert.InDelta(t, 1.75, Percentile([]float64{1, 2, 3, 4}, 25), 1e-9)
	assert.InDelta(t, 1.0, Percentile([]float64{5, 1, 3}, 0), 1e-9)
	assert.InDelta(t, 5.0, Percentile([]float64{5, 1, 3}, 100), 1e-9)
}

func TestQuartiles(t *testing.T) {
	q1, q3 := Quartiles([]float64{4, 3, 2, 1})
	assert.InDelta(t, 1.75, q1, 1e-9)
	assert.InDelta(t, 3.25, q3, 1e-9)
}

func TestMinMax(t *testing.T) {
	lo, hi := MinMax([]float64{3, -1, 8, 2})
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 8.0, hi)
}

func TestEmptyInputIsGuarded(t *testing.T) {
	for name, fn := range map[string]func([]float64) float64{
		"mean":   Mean,
		"stddev": StdDev,
		"median": Median,
		"mad":    MAD,
	} {
		v := fn(nil)
		assert.False(t, math.IsNaN(v), name)
		assert.Equal(t, 0.0, v, name)
	}
	assert.Equal(t, 0.0, Percentile(nil, 50))
}

func TestTrendWindow(t *testing.T) {
	assert.Equal(t, 0, TrendWindow(3))
	assert.Equal(t, 2, TrendWindow(8))
	assert.Equal(t, 7, TrendWindow(28))
	assert.Equal(t, 7, TrendWindow(1000))
}

func TestMovingAverage(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	got := MovingAverage(values, 3)
	// edges use partial windows
	assert.InDeltaSlice(t, []float64{1.5, 2, 3, 4, 4.5}, got, 1e-9)

	// window 0 degenerates to the values themselves
	assert.InDeltaSlice(t, values, MovingAverage(values, 0), 1e-9)
}
