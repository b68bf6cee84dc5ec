package anomaly

import "fmt"

func explainZScore(value, mean, sd, z float64) string {
	return fmt.Sprintf("Value %.2f is %.2f standard deviations from the mean %.2f (std %.2f)",
		value, z, mean, sd)
}

func explainModifiedZScore(value, median, mad, score float64) string {
	return fmt.Sprintf("Value %.2f has modified z-score %.2f against median %.2f (MAD %.2f)",
		value, score, median, mad)
}

func explainIQR(value, lower, upper float64) string {
	return fmt.Sprintf("Value %.2f lies outside the interquartile fences [%.2f, %.2f]",
		value, lower, upper)
}

func explainIsolation(value, avgDist, score float64) string {
	return fmt.Sprintf("Value %.2f has isolation score %.2f (mean distance %.2f to other points)",
		value, score, avgDist)
}

func explainSeasonal(value, residual, z float64) string {
	return fmt.Sprintf("Value %.2f leaves residual %.2f after removing trend and weekly seasonality, %.2f standard deviations from the other residuals",
		value, residual, z)
}

func explainStreaming(value float64, window int, st Statistics, a Algorithm, score float64) string {
	return fmt.Sprintf("Value %.2f deviates from the live window of %d points (mean %.2f, std %.2f, range %.2f-%.2f); %s score %.2f",
		value, window, st.Mean, st.StdDev, st.Min, st.Max, a, score)
}

// recommendationsFor always returns at least one action.
func recommendationsFor(severity Severity, value, expected float64) []string {
	var recs []string
	switch severity {
	case SeverityCritical:
		recs = append(recs, "Investigate immediately and page the service owner")
	case SeverityHigh:
		recs = append(recs, "Review recent deployments and configuration changes")
	}
	switch {
	case value > expected:
		recs = append(recs, "Check for traffic spikes or resource contention")
	case value < expected:
		recs = append(recs, "Check for service degradation or gaps in data collection")
	}
	recs = append(recs, "Correlate with related metrics over the same time range")
	return recs
}
