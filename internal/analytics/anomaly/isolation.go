package anomaly

import (
	"math"
	"sort"
)

// Isolation scores each point by its mean absolute distance to every other
// point and flags the top k = max(1, floor(n*contamination)) scores. The cutoff
// is the highest unflagged score; a flagged point is critical when its score
// exceeds 1.5x the cutoff.
//
// This is an O(n^2) average-distance heuristic, not a randomized isolation
// forest; it is deterministic for a given series. A zero contamination means
// DefaultContamination.
func Isolation(series []float64, contamination float64) (*DetectionResult, error) {
	contamination = orDefault(contamination, DefaultContamination)
	if err := checkContamination(contamination); err != nil {
		return nil, err
	}
	if err := checkSeries("series", series); err != nil {
		return nil, err
	}
	n := len(series)
	if n < minIsolationPoints {
		return insufficient(MethodIsolation, minIsolationPoints, n), nil
	}

	scores := make([]float64, n)
	for i, xi := range series {
		var sum float64
		for j, xj := range series {
			if i != j {
				sum += math.Abs(xi - xj)
			}
		}
		scores[i] = sum / float64(n-1)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	k := int(math.Floor(float64(n) * contamination))
	if k < 1 {
		k = 1
	}
	// contamination < 1 and n >= minIsolationPoints keep k < n.
	cutoff := scores[order[k]]

	anomalies := make([]PointAnomaly, 0, k)
	for _, idx := range order[:k] {
		anomalies = append(anomalies, PointAnomaly{
			Index:    idx,
			Value:    series[idx],
			Method:   MethodIsolation,
			Severity: severityAbove(scores[idx], 1.5*cutoff),
			Detail:   IsolationDetail{Score: scores[idx]},
		})
	}

	return &DetectionResult{
		Method:    MethodIsolation,
		Anomalies: anomalies,
		Summary:   IsolationSummary{Contamination: contamination, Flagged: k, CutoffScore: cutoff},
	}, nil
}
