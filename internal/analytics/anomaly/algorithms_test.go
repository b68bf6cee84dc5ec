package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func makeSeries(start time.Time, step time.Duration, values ...float64) []TimeSeriesPoint {
	out := make([]TimeSeriesPoint, len(values))
	for i, v := range values {
		out[i] = TimeSeriesPoint{Timestamp: start.Add(time.Duration(i) * step), Value: v}
	}
	return out
}

func constantSeries(n int, v float64) []TimeSeriesPoint {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return makeSeries(testEpoch, time.Minute, values...)
}

// consensusSeries: 130 is flagged by zscore, modified_zscore and iqr; 112 by
// modified_zscore and iqr only; isolation flags nothing.
func consensusSeries() []TimeSeriesPoint {
	values := []float64{
		100, 100, 100, 102, 102, 102, 98, 98, 98,
		101, 101, 101, 99, 99, 103, 103, 97, 97,
		130, 112,
	}
	return makeSeries(testEpoch, time.Minute, values...)
}

func batchConfig(a Algorithm) Config {
	cfg := DefaultBatchConfig()
	cfg.Algorithm = a
	return cfg
}

func TestSeverityBoundaries(t *testing.T) {
	tests := []struct {
		score       float64
		sensitivity Sensitivity
		want        Severity
	}{
		{2.0, SensitivityMedium, SeverityMedium},
		{1.49, SensitivityMedium, SeverityLow},
		{1.5, SensitivityMedium, SeverityMedium},
		{2.5, SensitivityMedium, SeverityHigh},
		{3.49, SensitivityMedium, SeverityHigh},
		{3.5, SensitivityMedium, SeverityCritical},
		{1.99, SensitivityLow, SeverityLow},
		{2.0, SensitivityLow, SeverityMedium},
		{3.0, SensitivityLow, SeverityHigh},
		{4.0, SensitivityLow, SeverityCritical},
		{0.99, SensitivityHigh, SeverityLow},
		{1.0, SensitivityHigh, SeverityMedium},
		{2.0, SensitivityHigh, SeverityHigh},
		{3.0, SensitivityHigh, SeverityCritical},
		{0.49, SensitivityCritical, SeverityLow},
		{0.5, SensitivityCritical, SeverityMedium},
		{1.5, SensitivityCritical, SeverityHigh},
		{2.5, SensitivityCritical, SeverityCritical},
		{2.5, Sensitivity("bogus"), SeverityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScoreToSeverity(tt.score, tt.sensitivity),
			"score %.2f sensitivity %s", tt.score, tt.sensitivity)
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, SeverityCritical, maxSeverity(SeverityHigh, SeverityCritical))
	assert.Equal(t, SeverityHigh, maxSeverity(SeverityHigh, SeverityLow))
}

func TestConstantSeriesHasNoAnomalies(t *testing.T) {
	series := constantSeries(30, 5)
	for _, a := range []Algorithm{AlgorithmZScore, AlgorithmModifiedZScore, AlgorithmIQR, AlgorithmSeasonalESD} {
		t.Run(string(a), func(t *testing.T) {
			got, err := runAlgorithm(a, series, batchConfig(a))
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestEmptySeriesIsGuarded(t *testing.T) {
	for _, a := range Algorithms() {
		got, err := runAlgorithm(a, nil, batchConfig(a))
		require.NoError(t, err, a)
		assert.Empty(t, got, a)
	}
}

func TestZScoreFlagsInjectedOutlier(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 100 + float64(i%5-2)
	}
	values[50] = 1000
	series := makeSeries(testEpoch, time.Minute, values...)

	got := detectZScore(series, batchConfig(AlgorithmZScore))
	require.Len(t, got, 1)
	a := got[0]
	assert.Equal(t, series[50].Timestamp, a.Timestamp)
	assert.Equal(t, 1000.0, a.Value)
	assert.InDelta(t, 9.9487, a.Score, 1e-3)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, TypePoint, a.Type)
	assert.Equal(t, AlgorithmZScore, a.Algorithm)
	assert.Equal(t, 0.75, a.Confidence)
	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, a.Explanation)
	assert.NotEmpty(t, a.Recommendations)
}

func TestModifiedZScore(t *testing.T) {
	got := detectModifiedZScore(consensusSeries(), batchConfig(AlgorithmModifiedZScore))
	require.Len(t, got, 2)
	assert.Equal(t, 130.0, got[0].Value)
	assert.InDelta(t, 13.2652, got[0].Score, 1e-3)
	assert.InDelta(t, 100.5, got[0].ExpectedValue, 1e-9)
	assert.Equal(t, 112.0, got[1].Value)
	assert.InDelta(t, 5.1712, got[1].Score, 1e-3)
	assert.Equal(t, 0.82, got[1].Confidence)
}

func TestIQR(t *testing.T) {
	got := detectIQR(consensusSeries(), batchConfig(AlgorithmIQR))
	require.Len(t, got, 2)
	// q1 98.75, q3 102, upper fence 106.875
	assert.InDelta(t, 7.1154, got[0].Score, 1e-3)
	assert.InDelta(t, 1.5769, got[1].Score, 1e-3)
	assert.InDelta(t, 100.375, got[1].ExpectedValue, 1e-9)
	assert.Equal(t, SeverityMedium, got[1].Severity)
}

func TestIQRLowerFence(t *testing.T) {
	series := makeSeries(testEpoch, time.Minute, 10, 11, 12, 10, 11, 12, 10, 11, 12, -20)
	got := detectIQR(series, batchConfig(AlgorithmIQR))
	require.Len(t, got, 1)
	assert.Equal(t, -20.0, got[0].Value)
	assert.Contains(t, got[0].Recommendations, "Check for service degradation or gaps in data collection")
}

func TestIsolationProxy(t *testing.T) {
	// Tightly clustered points sit close to every other point and score high.
	clustered := makeSeries(testEpoch, time.Minute, 1.0, 1.1, 1.2, 1.0, 1.1)
	got := detectIsolation(clustered, batchConfig(AlgorithmIsolationForest))
	assert.Len(t, got, len(clustered))
	for _, a := range got {
		assert.Greater(t, a.Score, isolationCutoff)
		assert.Equal(t, 0.88, a.Confidence)
	}

	assert.Empty(t, detectIsolation(consensusSeries(), batchConfig(AlgorithmIsolationForest)))
	assert.Empty(t, detectIsolation(clustered[:1], batchConfig(AlgorithmIsolationForest)))
}

func TestSeasonalESDFlagsSpikeOverWeeklyPattern(t *testing.T) {
	pattern := []float64{10, 12, 14, 16, 14, 12, 10}
	values := make([]float64, 28)
	for i := range values {
		values[i] = pattern[i%7]
	}
	values[17] += 30
	series := makeSeries(testEpoch, 24*time.Hour, values...)

	got := detectSeasonalESD(series, batchConfig(AlgorithmSeasonalESD))
	require.Len(t, got, 1)
	assert.Equal(t, series[17].Timestamp, got[0].Timestamp)
	assert.InDelta(t, 7.7152, got[0].Score, 1e-2)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Equal(t, AlgorithmSeasonalESD, got[0].Algorithm)
}

func TestDecompose(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	d := decompose(values)
	require.Len(t, d.residual, len(values))
	// index 0 and 7 share a seasonal slot
	assert.InDelta(t, 4.5, d.seasonal[0], 1e-9)
	assert.InDelta(t, 4.5, d.seasonal[7], 1e-9)
	for i, v := range values {
		assert.InDelta(t, v, d.trend[i]+d.seasonal[i]+d.residual[i], 1e-9)
	}
}

func TestEnsembleRequiresTwoAgreeingDetectors(t *testing.T) {
	series := consensusSeries()
	got := detectEnsemble(series, batchConfig(AlgorithmEnsemble))
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, series[18].Timestamp, first.Timestamp)
	assert.Equal(t, 130.0, first.Value)
	assert.Equal(t, AlgorithmEnsemble, first.Algorithm)
	assert.Equal(t, 0.92, first.Confidence)
	assert.Equal(t, SeverityCritical, first.Severity)
	// mean of zscore, modified_zscore and iqr scores
	assert.InDelta(t, (3.9064+13.2652+7.1154)/3, first.Score, 1e-3)
	assert.Contains(t, first.Explanation, "3 of 4 detectors agree")

	second := got[1]
	assert.Equal(t, series[19].Timestamp, second.Timestamp)
	assert.Equal(t, 112.0, second.Value)
	assert.InDelta(t, (5.1712+1.5769)/2, second.Score, 1e-3)
	assert.InDelta(t, (100.5+100.375)/2, second.ExpectedValue, 1e-9)
	assert.Contains(t, second.Explanation, "modified_zscore, iqr")
}

func TestEnsembleDropsSingleDetectorPoints(t *testing.T) {
	// 106.5 sits past the modified z-score cutoff (2.698) but inside the
	// IQR fence (106.875), with |z| ≈ 0.67.
	series := makeSeries(testEpoch, time.Minute,
		100, 100, 100, 102, 102, 102, 98, 98, 98,
		101, 101, 101, 99, 99, 103, 103, 97, 97,
		130, 106.5,
	)
	cfg := batchConfig(AlgorithmEnsemble)
	lone := series[19].Timestamp

	flaggedBy := 0
	for _, detect := range []func([]TimeSeriesPoint, Config) []Anomaly{detectZScore, detectModifiedZScore, detectIQR, detectIsolation} {
		for _, a := range detect(series, cfg) {
			if a.Timestamp.Equal(lone) {
				flaggedBy++
			}
		}
	}
	require.Equal(t, 1, flaggedBy)
	mz := detectModifiedZScore(series, cfg)
	require.Len(t, mz, 2)
	assert.Equal(t, lone, mz[1].Timestamp)

	got := detectEnsemble(series, cfg)
	require.Len(t, got, 1)
	assert.Equal(t, series[18].Timestamp, got[0].Timestamp)
	for _, a := range got {
		assert.False(t, a.Timestamp.Equal(lone))
	}
}

func TestMergeConsensus(t *testing.T) {
	t0 := testEpoch
	t1 := testEpoch.Add(time.Minute)
	t2 := testEpoch.Add(2 * time.Minute)
	members := []Anomaly{
		{Timestamp: t2, Value: 9, ExpectedValue: 4, Score: 3, Severity: SeverityHigh, Algorithm: AlgorithmZScore, Recommendations: []string{"a", "b"}},
		{Timestamp: t1, Value: 7, ExpectedValue: 5, Score: 9, Severity: SeverityCritical, Algorithm: AlgorithmZScore, Recommendations: []string{"a"}},
		{Timestamp: t0, Value: 1, ExpectedValue: 5, Score: 2, Severity: SeverityMedium, Algorithm: AlgorithmIQR},
		{Timestamp: t2, Value: 9, ExpectedValue: 6, Score: 1, Severity: SeverityLow, Algorithm: AlgorithmModifiedZScore, Recommendations: []string{"b", "c"}},
		// the same algorithm twice does not make a quorum
		{Timestamp: t1, Value: 7, ExpectedValue: 5, Score: 9, Severity: SeverityCritical, Algorithm: AlgorithmZScore},
	}

	got := mergeConsensus(members, 4)
	require.Len(t, got, 1)
	a := got[0]
	assert.Equal(t, t2, a.Timestamp)
	assert.Equal(t, 9.0, a.Value)
	assert.InDelta(t, 5.0, a.ExpectedValue, 1e-9)
	assert.InDelta(t, 2.0, a.Score, 1e-9)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, []string{"a", "b", "c"}, a.Recommendations)
	assert.Equal(t, 0.92, a.Confidence)
}

func TestMergeConsensusSortsByTimestamp(t *testing.T) {
	late := testEpoch.Add(time.Hour)
	members := []Anomaly{
		{Timestamp: late, Algorithm: AlgorithmZScore},
		{Timestamp: testEpoch, Algorithm: AlgorithmZScore},
		{Timestamp: testEpoch, Algorithm: AlgorithmIQR},
		{Timestamp: late, Algorithm: AlgorithmIQR},
	}
	got := mergeConsensus(members, 4)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(testEpoch))
	assert.True(t, got[1].Timestamp.Equal(late))
}

func TestRunAlgorithmUnknown(t *testing.T) {
	_, err := runAlgorithm(Algorithm("prophet"), consensusSeries(), DefaultBatchConfig())
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestCalibrationAndRegistry(t *testing.T) {
	assert.Equal(t, []Algorithm{
		AlgorithmZScore, AlgorithmModifiedZScore, AlgorithmIQR,
		AlgorithmIsolationForest, AlgorithmSeasonalESD, AlgorithmEnsemble,
	}, Algorithms())

	c, ok := Calibration(AlgorithmSeasonalESD)
	require.True(t, ok)
	assert.Equal(t, CalibrationConstants{Accuracy: 0.85, Sensitivity: 0.87}, c)

	_, ok = Calibration("nope")
	assert.False(t, ok)

	_, err := ParseAlgorithm("isolation_forest")
	assert.NoError(t, err)
	_, err = ParseAlgorithm("forest")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestRecommendationsAlwaysPresent(t *testing.T) {
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		assert.NotEmpty(t, recommendationsFor(sev, 1, 1))
	}
	assert.Len(t, recommendationsFor(SeverityCritical, 10, 1), 3)
}
