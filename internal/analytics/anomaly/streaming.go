package anomaly

import (
	"math"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/stats"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/timeseries"
)

// streamingDetector owns one bounded window. All fields below mu are
// guarded by it; id, metric, config and createdAt are immutable.
type streamingDetector struct {
	id        string
	metric    string
	config    Config
	createdAt time.Time

	mu          sync.Mutex
	buffer      *timeseries.RingBuffer[TimeSeriesPoint]
	lastAnomaly *time.Time
	statistics  Statistics
}

func newStreamingDetector(id, metric string, cfg Config, now time.Time) *streamingDetector {
	return &streamingDetector{
		id:        id,
		metric:    metric,
		config:    cfg,
		createdAt: now,
		buffer:    timeseries.NewRingBuffer[TimeSeriesPoint](cfg.WindowSize),
	}
}

func computeStatistics(values []float64) Statistics {
	lo, hi := stats.MinMax(values)
	q1, q3 := stats.Quartiles(values)
	return Statistics{
		Mean:   stats.Mean(values),
		StdDev: stats.StdDev(values),
		Min:    lo,
		Max:    hi,
		Q1:     q1,
		Q3:     q3,
	}
}

// process appends p and evaluates it against the refreshed window. The
// point is part of the statistics it is scored against.
func (d *streamingDetector) process(p TimeSeriesPoint) *Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer.Push(p)
	if d.buffer.Len() < d.config.MinSamples {
		return nil
	}

	window := d.buffer.Slice()
	values := seriesValues(window)
	d.statistics = computeStatistics(values)

	score, expected, anomalous := d.evaluate(p.Value, values)
	if !anomalous {
		return nil
	}

	a := newPointAnomaly(p, d.config.Algorithm, d.config, expected, score,
		explainStreaming(p.Value, len(window), d.statistics, d.config.Algorithm, score))
	ts := p.Timestamp
	d.lastAnomaly = &ts
	return &a
}

// evaluate scores value with the configured algorithm. Algorithms without
// a streaming rule never fire.
func (d *streamingDetector) evaluate(value float64, window []float64) (score, expected float64, anomalous bool) {
	st := d.statistics
	switch d.config.Algorithm {
	case AlgorithmZScore:
		if st.StdDev == 0 {
			return 0, st.Mean, false
		}
		z := math.Abs(value-st.Mean) / st.StdDev
		return z, st.Mean, z > d.config.Threshold

	case AlgorithmModifiedZScore:
		median := stats.Median(window)
		score := modifiedZScore(value, median, stats.MAD(window))
		return score, median, score > d.config.Threshold

	case AlgorithmIQR:
		iqr := st.Q3 - st.Q1
		expected := (st.Q1 + st.Q3) / 2
		if iqr == 0 {
			return 0, expected, false
		}
		score, outside := iqrScore(value, st.Q1-iqrFenceFactor*iqr, st.Q3+iqrFenceFactor*iqr, iqr)
		return score, expected, outside
	}
	return 0, 0, false
}

func (d *streamingDetector) snapshot() *DetectorSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.buffer.Slice()
	for i := range buf {
		buf[i].Metadata = copyMetadata(buf[i].Metadata)
	}
	s := &DetectorSnapshot{
		ID:         d.id,
		Metric:     d.metric,
		Config:     d.config,
		CreatedAt:  d.createdAt,
		BufferSize: len(buf),
		Buffer:     buf,
		Statistics: d.statistics,
	}
	if d.lastAnomaly != nil {
		ts := *d.lastAnomaly
		s.LastAnomaly = &ts
	}
	return s
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
