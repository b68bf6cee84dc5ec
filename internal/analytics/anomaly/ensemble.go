package anomaly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ensembleQuorum is the number of distinct member algorithms that must flag
// the same timestamp.
const ensembleQuorum = 2

func detectEnsemble(series []TimeSeriesPoint, cfg Config) []Anomaly {
	if len(series) == 0 {
		return nil
	}
	var all []Anomaly
	for _, a := range ensembleMembers {
		found, _ := runAlgorithm(a, series, cfg)
		all = append(all, found...)
	}
	return mergeConsensus(all, len(ensembleMembers))
}

// mergeConsensus groups member anomalies by exact timestamp and keeps groups
// flagged by at least ensembleQuorum distinct algorithms. Output is ordered
// by timestamp.
func mergeConsensus(all []Anomaly, members int) []Anomaly {
	groups := make(map[int64][]Anomaly)
	var order []int64
	for _, a := range all {
		key := a.Timestamp.UnixNano()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a)
	}

	var out []Anomaly
	for _, key := range order {
		group := groups[key]
		algs := distinctAlgorithms(group)
		if len(algs) < ensembleQuorum {
			continue
		}
		out = append(out, consensusAnomaly(group, algs, members))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func distinctAlgorithms(group []Anomaly) []string {
	seen := make(map[Algorithm]bool, len(group))
	var names []string
	for _, a := range group {
		if !seen[a.Algorithm] {
			seen[a.Algorithm] = true
			names = append(names, string(a.Algorithm))
		}
	}
	return names
}

func consensusAnomaly(group []Anomaly, algs []string, members int) Anomaly {
	first := group[0]
	var expectedSum, scoreSum float64
	severity := first.Severity
	var recs []string
	seenRec := make(map[string]bool)
	for _, a := range group {
		expectedSum += a.ExpectedValue
		scoreSum += a.Score
		severity = maxSeverity(severity, a.Severity)
		for _, r := range a.Recommendations {
			if !seenRec[r] {
				seenRec[r] = true
				recs = append(recs, r)
			}
		}
	}
	n := float64(len(group))

	return Anomaly{
		ID:            uuid.NewString(),
		Timestamp:     first.Timestamp,
		Value:         first.Value,
		ExpectedValue: expectedSum / n,
		Score:         scoreSum / n,
		Severity:      severity,
		Type:          TypePoint,
		Algorithm:     AlgorithmEnsemble,
		Confidence:    calibrations[AlgorithmEnsemble].Accuracy,
		Explanation: fmt.Sprintf("%d of %d detectors agree (%s). %s",
			len(algs), members, strings.Join(algs, ", "), first.Explanation),
		Recommendations: recs,
	}
}
