package anomaly

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// runner adapts a detector to the ensemble's shared Options.
type runner func(series []float64, o Options) (*DetectionResult, error)

var runners = map[Method]runner{
	MethodZScore: func(s []float64, o Options) (*DetectionResult, error) {
		return ZScore(s, o.Threshold)
	},
	MethodIQR: func(s []float64, o Options) (*DetectionResult, error) {
		return IQR(s, o.Multiplier)
	},
	MethodSuddenChange: func(s []float64, o Options) (*DetectionResult, error) {
		return SuddenChanges(s, o.WindowSize, o.Threshold)
	},
	MethodTrendBreak: func(s []float64, o Options) (*DetectionResult, error) {
		return TrendBreaks(s, o.WindowSize, o.Sensitivity)
	},
	MethodIsolation: func(s []float64, o Options) (*DetectionResult, error) {
		return Isolation(s, o.Contamination)
	},
}

// Run executes a single detector with the parameters it reads from o.
func Run(m Method, series []float64, o Options) (*DetectionResult, error) {
	run, ok := runners[m]
	if !ok {
		return nil, &ConfigurationError{Param: "method", Reason: fmt.Sprintf("unknown detection method %q", m)}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := checkSeries("series", series); err != nil {
		return nil, err
	}
	return run(series, o)
}

// EnsembleSummary aggregates an ensemble run.
type EnsembleSummary struct {
	DataPoints          int      `json:"data_points"`
	MethodsUsed         []Method `json:"methods_used"`
	TotalAnomaliesFound int      `json:"total_anomalies_found"`
	ConfirmedAnomalies  int      `json:"confirmed_anomalies"`
	CriticalAnomalies   int      `json:"critical_anomalies"`
}

// EnsembleResult holds the raw per-method results, in the order the methods
// were requested, and the points at least two methods agreed on.
type EnsembleResult struct {
	Results   []*DetectionResult `json:"results"`
	Confirmed []ConfirmedAnomaly `json:"confirmed_anomalies"`
	Summary   EnsembleSummary    `json:"summary"`
}

// vote collects the methods that flagged one index.
type vote struct {
	value    float64
	methods  []Method
	critical bool
}

// DetectAll runs the selected detectors concurrently and confirms every index
// flagged by two or more of them. A confirmed point is critical if any voter
// marked it critical.
func DetectAll(series []float64, o Options) (*EnsembleResult, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := checkSeries("series", series); err != nil {
		return nil, err
	}
	methods := o.methods()

	results := make([]*DetectionResult, len(methods))
	var g errgroup.Group
	for i, m := range methods {
		run := runners[m]
		g.Go(func() error {
			res, err := run(series, o)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	votes := make(map[int]*vote)
	for _, res := range results {
		for _, pa := range res.Anomalies {
			v, ok := votes[pa.Index]
			if !ok {
				v = &vote{value: pa.Value}
				votes[pa.Index] = v
			}
			v.methods = append(v.methods, pa.Method)
			if pa.Severity == SeverityCritical {
				v.critical = true
			}
		}
	}

	expected := expectedRange(results)
	confirmed := make([]ConfirmedAnomaly, 0)
	critical := 0
	for idx, v := range votes {
		if len(v.methods) < 2 {
			continue
		}
		sortMethods(v.methods)
		sev := SeverityWarning
		if v.critical {
			sev = SeverityCritical
			critical++
		}
		ca := ConfirmedAnomaly{
			Index:    idx,
			Value:    v.value,
			Methods:  v.methods,
			Severity: sev,
		}
		if expected != nil {
			r := *expected
			ca.ExpectedRange = &r
		}
		confirmed = append(confirmed, ca)
	}
	sort.Slice(confirmed, func(a, b int) bool {
		if la, lb := len(confirmed[a].Methods), len(confirmed[b].Methods); la != lb {
			return la > lb
		}
		return confirmed[a].Index < confirmed[b].Index
	})

	return &EnsembleResult{
		Results:   results,
		Confirmed: confirmed,
		Summary: EnsembleSummary{
			DataPoints:          len(series),
			MethodsUsed:         methods,
			TotalAnomaliesFound: len(votes),
			ConfirmedAnomalies:  len(confirmed),
			CriticalAnomalies:   critical,
		},
	}, nil
}

// expectedRange prefers the IQR fences and falls back to mean +/- t*stddev.
func expectedRange(results []*DetectionResult) *Range {
	var fallback *Range
	for _, res := range results {
		switch s := res.Summary.(type) {
		case IQRSummary:
			return &Range{Min: s.LowerBound, Max: s.UpperBound}
		case ZScoreSummary:
			fallback = &Range{Min: s.Mean - s.Threshold*s.StdDev, Max: s.Mean + s.Threshold*s.StdDev}
		}
	}
	return fallback
}

// sortMethods orders methods canonically, as listed in AllMethods.
func sortMethods(ms []Method) {
	rank := func(m Method) int {
		for i, c := range AllMethods {
			if c == m {
				return i
			}
		}
		return len(AllMethods)
	}
	sort.Slice(ms, func(a, b int) bool { return rank(ms[a]) < rank(ms[b]) })
}
