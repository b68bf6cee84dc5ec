package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/timeseries"
	"github.com/kubilitics/kubilitics-anomaly/internal/cache"
	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
)

// DefaultCacheFreshness is how long a cached result with anomalies stays
// valid, measured from its first anomaly's timestamp.
const DefaultCacheFreshness = 5 * time.Minute

// Options configures an Engine. Zero values select defaults.
type Options struct {
	BatchDefaults     Config
	StreamingDefaults Config

	DisableCache    bool
	CacheFreshness  time.Duration
	CacheTTLSeconds int
	MaxCacheEntries int
	Cache           cache.Cache

	HistoryCapacity int
	History         timeseries.HistoryStore

	Clock  clock.Clock
	Logger *zap.Logger
}

// Engine owns streaming detectors, per-metric history and the result cache.
// It is safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	detectors map[string]*streamingDetector

	history      timeseries.HistoryStore
	cache        cache.Cache
	cacheEnabled bool
	cacheTTL     int
	freshness    time.Duration

	batchDefaults     Config
	streamingDefaults Config

	clock  clock.Clock
	logger *zap.Logger

	// runs counts algorithm executions, cache hits excluded.
	runs atomic.Int64
}

var _ Detector = (*Engine)(nil)

// NewEngine creates an engine.
func NewEngine(opts Options) (*Engine, error) {
	e := &Engine{
		detectors:         make(map[string]*streamingDetector),
		history:           opts.History,
		cache:             opts.Cache,
		cacheEnabled:      !opts.DisableCache,
		cacheTTL:          opts.CacheTTLSeconds,
		freshness:         opts.CacheFreshness,
		batchDefaults:     defaultsOrGiven(opts.BatchDefaults, DefaultBatchConfig()),
		streamingDefaults: defaultsOrGiven(opts.StreamingDefaults, DefaultStreamingConfig()),
		clock:             opts.Clock,
		logger:            opts.Logger,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("engine")
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.freshness <= 0 {
		e.freshness = DefaultCacheFreshness
	}
	if e.history == nil {
		e.history = timeseries.NewHistoryStore(opts.HistoryCapacity)
	}
	if e.cache == nil {
		c, err := cache.NewMemoryCache(opts.MaxCacheEntries, cache.WithClock(e.clock))
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		e.cache = c
	}
	if _, ok := calibrations[e.batchDefaults.Algorithm]; !ok {
		return nil, fmt.Errorf("batch defaults: %w: %q", ErrUnknownAlgorithm, e.batchDefaults.Algorithm)
	}
	return e, nil
}

// defaultsOrGiven keeps the built-in flags when no defaults were supplied.
func defaultsOrGiven(given, builtin Config) Config {
	if given == (Config{}) {
		return builtin
	}
	return mergeConfig(&given, builtin)
}

// DetectAnomalies runs one batch detection, serving a fresh cached result
// when available.
func (e *Engine) DetectAnomalies(ctx context.Context, metricName string, data []TimeSeriesPoint, cfg *Config) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := mergeConfig(cfg, e.batchDefaults)
	if _, ok := calibrations[c.Algorithm]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Algorithm)
	}
	if _, err := ParseSensitivity(string(c.Sensitivity)); err != nil {
		return nil, err
	}

	e.history.Replace(metricName, toDataPoints(data))

	key := cacheKey(metricName, c)
	if res := e.cachedResult(ctx, key); res != nil {
		return res, nil
	}

	start := e.clock.Now()
	anomalies, err := runAlgorithm(c.Algorithm, data, c)
	if err != nil {
		return nil, err
	}
	e.runs.Add(1)
	if anomalies == nil {
		anomalies = []Anomaly{}
	}
	enrich(anomalies, metricName, data)
	elapsed := e.clock.Since(start)

	res := &Result{
		Anomalies:        anomalies,
		Summary:          summarize(anomalies),
		ModelPerformance: modelPerformance(c.Algorithm, elapsed),
	}

	metrics.DetectionRunsTotal.WithLabelValues(string(c.Algorithm)).Inc()
	metrics.DetectionDuration.WithLabelValues(string(c.Algorithm)).Observe(elapsed.Seconds())
	for _, a := range anomalies {
		metrics.AnomaliesDetectedTotal.WithLabelValues(string(a.Algorithm), string(a.Severity), "batch").Inc()
	}
	e.logger.Debug("batch detection finished",
		zap.String("metric", metricName),
		zap.String("algorithm", string(c.Algorithm)),
		zap.Int("points", len(data)),
		zap.Int("anomalies", len(anomalies)),
		zap.Duration("elapsed", elapsed),
	)

	if e.cacheEnabled {
		if err := e.cache.Set(ctx, key, res, e.cacheTTL); err != nil {
			e.logger.Warn("cache store failed", zap.String("metric", metricName), zap.Error(err))
		}
	}
	return res, nil
}

// cachedResult returns the cached result for key if it is still fresh: it
// has no anomalies, or its first anomaly is younger than the freshness window.
func (e *Engine) cachedResult(ctx context.Context, key string) *Result {
	if !e.cacheEnabled {
		return nil
	}
	v, ok, err := e.cache.Get(ctx, key)
	if err != nil || !ok {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil
	}
	res, ok := v.(*Result)
	if !ok {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil
	}
	if len(res.Anomalies) > 0 && e.clock.Now().Sub(res.Anomalies[0].Timestamp) >= e.freshness {
		metrics.CacheRequestsTotal.WithLabelValues("stale").Inc()
		e.logger.Debug("cached result is stale", zap.String("key", key))
		_ = e.cache.Delete(ctx, key)
		return nil
	}
	metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	e.logger.Debug("serving cached result", zap.String("key", key))
	return res
}

// cacheKey joins the JSON-quoted metric name and the JSON config. Quoting
// keeps the metric part unambiguous when names contain ':'.
func cacheKey(metricName string, cfg Config) string {
	b, _ := json.Marshal(cfg)
	return metricKeyPrefix(metricName) + string(b)
}

func metricKeyPrefix(metricName string) string {
	q, _ := json.Marshal(metricName)
	return string(q) + ":"
}

// CreateStreamingDetector registers a new streaming detector. Ids embed the
// metric name, creation time and a random suffix, so several detectors may
// watch the same metric.
func (e *Engine) CreateStreamingDetector(metricName string, cfg *Config) string {
	c := mergeConfig(cfg, e.streamingDefaults)
	now := e.clock.Now()
	id := fmt.Sprintf("%s_%d_%s", metricName, now.UnixMilli(), uuid.NewString()[:8])

	if !StreamingSupported(c.Algorithm) {
		e.logger.Warn("algorithm has no streaming rule; detector will never fire",
			zap.String("detector_id", id),
			zap.String("algorithm", string(c.Algorithm)),
		)
	}

	d := newStreamingDetector(id, metricName, c, now)
	e.mu.Lock()
	e.detectors[id] = d
	active := len(e.detectors)
	e.mu.Unlock()

	metrics.StreamingDetectorsActive.Set(float64(active))
	e.logger.Info("streaming detector created",
		zap.String("detector_id", id),
		zap.String("metric", metricName),
		zap.String("algorithm", string(c.Algorithm)),
		zap.Int("window_size", c.WindowSize),
	)
	return id
}

// ProcessStreamingPoint feeds point to a detector.
func (e *Engine) ProcessStreamingPoint(detectorID string, point TimeSeriesPoint) (*Anomaly, error) {
	d, err := e.detector(detectorID)
	if err != nil {
		return nil, err
	}
	metrics.StreamingPointsTotal.Inc()
	e.history.Append(d.metric, timeseries.DataPoint{Timestamp: point.Timestamp, Value: point.Value})

	a := d.process(point)
	if a != nil {
		metrics.AnomaliesDetectedTotal.WithLabelValues(string(a.Algorithm), string(a.Severity), "streaming").Inc()
		e.logger.Debug("streaming anomaly",
			zap.String("detector_id", detectorID),
			zap.Float64("value", a.Value),
			zap.Float64("score", a.Score),
			zap.String("severity", string(a.Severity)),
		)
	}
	return a, nil
}

// RemoveStreamingDetector deletes a detector; unknown ids are a no-op.
func (e *Engine) RemoveStreamingDetector(detectorID string) {
	e.mu.Lock()
	_, ok := e.detectors[detectorID]
	delete(e.detectors, detectorID)
	active := len(e.detectors)
	e.mu.Unlock()

	if ok {
		metrics.StreamingDetectorsActive.Set(float64(active))
		e.logger.Info("streaming detector removed", zap.String("detector_id", detectorID))
	}
}

// GetStreamingDetector returns a copy of a detector's state.
func (e *Engine) GetStreamingDetector(detectorID string) (*DetectorSnapshot, error) {
	d, err := e.detector(detectorID)
	if err != nil {
		return nil, err
	}
	return d.snapshot(), nil
}

// StreamingDetectorMetric returns the metric a detector watches.
func (e *Engine) StreamingDetectorMetric(detectorID string) (string, error) {
	d, err := e.detector(detectorID)
	if err != nil {
		return "", err
	}
	return d.metric, nil
}

func (e *Engine) detector(id string) (*streamingDetector, error) {
	e.mu.RLock()
	d, ok := e.detectors[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDetectorNotFound, id)
	}
	return d, nil
}

// ClearCache drops every cached result.
func (e *Engine) ClearCache() {
	_ = e.cache.Clear(context.Background())
	e.logger.Info("result cache cleared")
}

// InvalidateMetric drops the cached results of one metric and returns how
// many were removed.
func (e *Engine) InvalidateMetric(metricName string) int {
	n, err := e.cache.Invalidate(context.Background(), globEscape(metricKeyPrefix(metricName))+"*")
	if err != nil {
		e.logger.Warn("cache invalidation failed", zap.String("metric", metricName), zap.Error(err))
		return 0
	}
	return n
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)

func globEscape(s string) string { return globReplacer.Replace(s) }

// GetDetectorStats reports engine state.
func (e *Engine) GetDetectorStats() DetectorStats {
	e.mu.RLock()
	active := len(e.detectors)
	e.mu.RUnlock()

	algs := Algorithms()
	names := make([]string, len(algs))
	for i, a := range algs {
		names[i] = string(a)
	}
	cs, err := e.cache.GetStats(context.Background())
	if err != nil {
		e.logger.Warn("cache stats unavailable", zap.Error(err))
	}
	return DetectorStats{
		ActiveDetectors: active,
		CachedResults:   e.cache.Len(),
		Algorithms:      names,
		Cache:           cs,
	}
}

// HistoricalData returns the recorded series of a metric.
func (e *Engine) HistoricalData(metricName string) []TimeSeriesPoint {
	return fromDataPoints(e.history.Points(metricName))
}

// HistoricalRange returns the recorded points of a metric inside
// [from, to]. A zero bound leaves that side open.
func (e *Engine) HistoricalRange(metricName string, from, to time.Time) []TimeSeriesPoint {
	if from.IsZero() && to.IsZero() {
		return e.HistoricalData(metricName)
	}
	if to.IsZero() {
		to = time.Unix(1<<62, 0)
	}
	return fromDataPoints(e.history.Range(metricName, from, to))
}

// MetricHistory describes the stored history of one metric.
type MetricHistory struct {
	Metric string `json:"metric"`
	Points int    `json:"points"`
}

// HistoryIndex lists every metric with recorded history, by name.
func (e *Engine) HistoryIndex() []MetricHistory {
	names := e.history.Metrics()
	out := make([]MetricHistory, 0, len(names))
	for _, name := range names {
		out = append(out, MetricHistory{Metric: name, Points: e.history.Len(name)})
	}
	return out
}

func fromDataPoints(stored []timeseries.DataPoint) []TimeSeriesPoint {
	out := make([]TimeSeriesPoint, len(stored))
	for i, p := range stored {
		out[i] = TimeSeriesPoint{Timestamp: p.Timestamp, Value: p.Value}
	}
	return out
}

func toDataPoints(data []TimeSeriesPoint) []timeseries.DataPoint {
	out := make([]timeseries.DataPoint, len(data))
	for i, p := range data {
		out[i] = timeseries.DataPoint{Timestamp: p.Timestamp, Value: p.Value}
	}
	return out
}
