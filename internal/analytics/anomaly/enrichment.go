package anomaly

import (
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/stats"
)

const (
	// seasonalityMinPoints is a length heuristic, not a periodicity test.
	seasonalityMinPoints = 14
	trendChangeRatio     = 0.10
	stableCVSquared      = 0.1

	estimatedAccuracy          = 0.85
	estimatedFalsePositiveRate = 0.10
)

var relatedMetrics = map[string][]string{
	"cpu":     {"memory", "load_average", "process_count"},
	"memory":  {"cpu", "swap_usage", "cache_hit_ratio"},
	"disk":    {"disk_io", "inode_usage", "write_latency"},
	"network": {"packet_loss", "latency", "bandwidth_utilization"},
}

var businessContext = map[string]string{
	"cpu":     "Compute capacity affecting request throughput",
	"memory":  "Memory pressure affecting application stability",
	"disk":    "Storage capacity affecting data persistence",
	"network": "Connectivity affecting user-facing latency",
}

const defaultBusinessContext = "General system metric"

// metricFamily resolves a metric name to a lookup key: exact match first,
// then the first table key the name starts with ("cpu_usage" -> "cpu").
func metricFamily(metric string) (string, bool) {
	name := strings.ToLower(metric)
	if _, ok := businessContext[name]; ok {
		return name, true
	}
	for _, key := range []string{"cpu", "memory", "disk", "network"} {
		if strings.HasPrefix(name, key) {
			return key, true
		}
	}
	return "", false
}

func seriesTrend(values []float64) Trend {
	half := len(values) / 2
	if half == 0 {
		return TrendStable
	}
	first := stats.Mean(values[:half])
	second := stats.Mean(values[half:])
	if first == 0 {
		return TrendStable
	}
	change := (second - first) / first
	switch {
	case change > trendChangeRatio:
		return TrendIncreasing
	case change < -trendChangeRatio:
		return TrendDecreasing
	}
	return TrendStable
}

func historicalPattern(values []float64, trend Trend) string {
	mean := stats.Mean(values)
	if mean != 0 && stats.Variance(values)/(mean*mean) < stableCVSquared {
		return "Stable pattern"
	}
	switch trend {
	case TrendIncreasing:
		return "Upward trending pattern"
	case TrendDecreasing:
		return "Downward trending pattern"
	}
	return "Volatile pattern"
}

// buildContext derives the enrichment shared by every anomaly of one run.
func buildContext(metric string, series []TimeSeriesPoint) Context {
	values := seriesValues(series)
	trend := seriesTrend(values)
	ctx := Context{
		Metric:            metric,
		Seasonality:       len(series) >= seasonalityMinPoints,
		Trend:             trend,
		RelatedMetrics:    []string{},
		BusinessContext:   defaultBusinessContext,
		HistoricalPattern: historicalPattern(values, trend),
	}
	if family, ok := metricFamily(metric); ok {
		ctx.RelatedMetrics = append(ctx.RelatedMetrics, relatedMetrics[family]...)
		ctx.BusinessContext = businessContext[family]
	}
	return ctx
}

// enrich attaches a separate Context copy to every anomaly.
func enrich(anomalies []Anomaly, metric string, series []TimeSeriesPoint) {
	if len(anomalies) == 0 {
		return
	}
	base := buildContext(metric, series)
	for i := range anomalies {
		c := base
		c.RelatedMetrics = append([]string(nil), base.RelatedMetrics...)
		anomalies[i].Context = &c
	}
}

func summarize(anomalies []Anomaly) Summary {
	s := Summary{
		Total:             len(anomalies),
		BySeverity:        make(map[Severity]int),
		ByType:            make(map[Type]int),
		Accuracy:          estimatedAccuracy,
		FalsePositiveRate: estimatedFalsePositiveRate,
	}
	for _, a := range anomalies {
		s.BySeverity[a.Severity]++
		s.ByType[a.Type]++
	}
	return s
}

func modelPerformance(a Algorithm, elapsed time.Duration) ModelPerformance {
	c := calibrations[a]
	precision := c.Accuracy * 0.9
	recall := c.Sensitivity * 0.85
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return ModelPerformance{
		Precision:      precision,
		Recall:         recall,
		F1Score:        f1,
		ProcessingTime: elapsed,
	}
}
