package anomaly

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MultiDimensionalResult is the outcome of correlating several metrics.
type MultiDimensionalResult struct {
	Anomalies    []MultiSeriesAnomaly        `json:"anomalies"`
	Results      map[string]*DetectionResult `json:"results"`
	TotalMetrics int                         `json:"total_metrics"`
	Length       int                         `json:"length"`
	Threshold    float64                     `json:"threshold"`
	Note         string                      `json:"note,omitempty"`
}

// MultiDimensional runs ZScore on each metric and reports the indices that
// two or more metrics flagged together. A zero threshold means
// DefaultMultiThreshold.
//
// Series of different lengths are truncated to the shortest and the result
// notes the original lengths. An index is critical when at least half of the
// metrics flagged it.
func MultiDimensional(metrics map[string][]float64, threshold float64) (*MultiDimensionalResult, error) {
	threshold = orDefault(threshold, DefaultMultiThreshold)
	if err := checkPositive("threshold", threshold); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		if name == "" {
			return nil, &ConfigurationError{Param: "metrics", Reason: "metric name must not be empty"}
		}
		if err := checkSeries("metrics."+name, metrics[name]); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := &MultiDimensionalResult{
		Anomalies:    make([]MultiSeriesAnomaly, 0),
		Results:      make(map[string]*DetectionResult, len(names)),
		TotalMetrics: len(names),
		Threshold:    threshold,
	}
	if len(names) < 2 {
		out.Note = fmt.Sprintf("insufficient data: need at least 2 metrics, got %d", len(names))
		return out, nil
	}

	length, note := commonLength(names, metrics)
	out.Length = length
	out.Note = note

	results := make([]*DetectionResult, len(names))
	var g errgroup.Group
	for i, name := range names {
		series := metrics[name][:length]
		g.Go(func() error {
			res, err := ZScore(series, threshold)
			if err != nil {
				return fmt.Errorf("metric %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byIndex := make(map[int]map[string]PointAnomaly)
	for i, name := range names {
		out.Results[name] = results[i]
		for _, pa := range results[i].Anomalies {
			if byIndex[pa.Index] == nil {
				byIndex[pa.Index] = make(map[string]PointAnomaly)
			}
			byIndex[pa.Index][name] = pa
		}
	}

	for idx, perMetric := range byIndex {
		affected := len(perMetric)
		if affected < 2 {
			continue
		}
		sev := SeverityWarning
		if float64(affected) >= float64(len(names))/2 {
			sev = SeverityCritical
		}
		out.Anomalies = append(out.Anomalies, MultiSeriesAnomaly{
			Index:           idx,
			MetricsAffected: affected,
			TotalMetrics:    len(names),
			Severity:        sev,
			PerMetric:       perMetric,
			Threshold:       threshold,
		})
	}
	sort.Slice(out.Anomalies, func(a, b int) bool {
		return out.Anomalies[a].Index < out.Anomalies[b].Index
	})
	return out, nil
}

// commonLength returns the shortest series length and, when lengths differ,
// a note listing them in name order.
func commonLength(names []string, metrics map[string][]float64) (int, string) {
	shortest := len(metrics[names[0]])
	mismatch := false
	for _, name := range names[1:] {
		n := len(metrics[name])
		if n != shortest {
			mismatch = true
		}
		if n < shortest {
			shortest = n
		}
	}
	if !mismatch {
		return shortest, ""
	}

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, len(metrics[name]))
	}
	return shortest, fmt.Sprintf("series lengths differ (%s); truncated to %d", strings.Join(parts, ", "), shortest)
}
