package anomaly

// severityThresholds holds the medium, high and critical lower bounds.
type severityThresholds struct {
	medium, high, critical float64
}

var severityTable = map[Sensitivity]severityThresholds{
	SensitivityLow:      {medium: 2.0, high: 3.0, critical: 4.0},
	SensitivityMedium:   {medium: 1.5, high: 2.5, critical: 3.5},
	SensitivityHigh:     {medium: 1.0, high: 2.0, critical: 3.0},
	SensitivityCritical: {medium: 0.5, high: 1.5, critical: 2.5},
}

// ScoreToSeverity maps a deviation score to a severity tier. Bounds are
// inclusive. Unknown sensitivities use the medium table.
func ScoreToSeverity(score float64, sensitivity Sensitivity) Severity {
	t, ok := severityTable[sensitivity]
	if !ok {
		t = severityTable[SensitivityMedium]
	}
	switch {
	case score >= t.critical:
		return SeverityCritical
	case score >= t.high:
		return SeverityHigh
	case score >= t.medium:
		return SeverityMedium
	}
	return SeverityLow
}

func maxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
