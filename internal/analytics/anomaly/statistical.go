package anomaly

import (
	"math"
	"sort"
)

// Minimum series lengths per detector.
const (
	minZScorePoints    = 3
	minIQRPoints       = 4
	minIsolationPoints = 10
)

// ZScore flags points whose z-score against the whole series exceeds
// threshold. A zero threshold means DefaultZScoreThreshold.
func ZScore(series []float64, threshold float64) (*DetectionResult, error) {
	threshold = orDefault(threshold, DefaultZScoreThreshold)
	if err := checkPositive("threshold", threshold); err != nil {
		return nil, err
	}
	if err := checkSeries("series", series); err != nil {
		return nil, err
	}
	if len(series) < minZScorePoints {
		return insufficient(MethodZScore, minZScorePoints, len(series)), nil
	}

	mean, stdDev := meanStdDev(series)
	summary := ZScoreSummary{Mean: mean, StdDev: stdDev, Count: len(series), Threshold: threshold}
	if stdDev == 0 {
		res := emptyResult(MethodZScore, "no variance")
		res.Summary = summary
		return res, nil
	}

	anomalies := make([]PointAnomaly, 0)
	for i, v := range series {
		z := (v - mean) / stdDev
		if math.Abs(z) <= threshold {
			continue
		}
		dir := DirectionLow
		if z > 0 {
			dir = DirectionHigh
		}
		anomalies = append(anomalies, PointAnomaly{
			Index:     i,
			Value:     v,
			Method:    MethodZScore,
			Severity:  severityAbove(math.Abs(z), 1.5*threshold),
			Direction: dir,
			Detail:    ZScoreDetail{ZScore: z},
		})
	}

	return &DetectionResult{Method: MethodZScore, Anomalies: anomalies, Summary: summary}, nil
}

// IQR flags points outside the Tukey fences [Q1 - m*IQR, Q3 + m*IQR]. Quartiles
// use the nearest-rank rule on a sorted copy. A zero multiplier means
// DefaultIQRMultiplier.
//
// When the IQR is 0 every point off the single fence value is flagged critical
// and reported with deviation 0.
func IQR(series []float64, multiplier float64) (*DetectionResult, error) {
	multiplier = orDefault(multiplier, DefaultIQRMultiplier)
	if err := checkNonNegative("multiplier", multiplier); err != nil {
		return nil, err
	}
	if err := checkSeries("series", series); err != nil {
		return nil, err
	}
	if len(series) < minIQRPoints {
		return insufficient(MethodIQR, minIQRPoints, len(series)), nil
	}

	q1, q3 := quartiles(series)
	iqr := q3 - q1
	lower := q1 - multiplier*iqr
	upper := q3 + multiplier*iqr

	res := &DetectionResult{
		Method:    MethodIQR,
		Anomalies: make([]PointAnomaly, 0),
		Summary: IQRSummary{
			Q1: q1, Q3: q3, IQR: iqr,
			LowerBound: lower, UpperBound: upper,
			Multiplier: multiplier,
		},
	}
	if iqr == 0 {
		res.Note = "zero interquartile range"
	}

	for i, v := range series {
		var dir Direction
		var bound, dist float64
		switch {
		case v < lower:
			dir, bound, dist = DirectionLow, lower, lower-v
		case v > upper:
			dir, bound, dist = DirectionHigh, upper, v-upper
		default:
			continue
		}

		sev := SeverityCritical
		deviation := 0.0
		if iqr > 0 {
			deviation = dist / iqr
			sev = severityAbove(deviation, 2)
		}
		res.Anomalies = append(res.Anomalies, PointAnomaly{
			Index:     i,
			Value:     v,
			Method:    MethodIQR,
			Severity:  sev,
			Direction: dir,
			Detail:    IQRDetail{Deviation: deviation, Bound: bound},
		})
	}
	return res, nil
}

// quartiles returns nearest-rank Q1 and Q3: sorted[floor(0.25n)] and
// sorted[floor(0.75n)]. series is not modified.
func quartiles(series []float64) (q1, q3 float64) {
	sorted := make([]float64, len(series))
	copy(sorted, series)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	return sorted[int(math.Floor(0.25*n))], sorted[int(math.Floor(0.75*n))]
}

// severityAbove is critical when score strictly exceeds the critical line.
func severityAbove(score, criticalLine float64) Severity {
	if score > criticalLine {
		return SeverityCritical
	}
	return SeverityWarning
}
