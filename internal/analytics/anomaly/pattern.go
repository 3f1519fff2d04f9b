package anomaly

import "math"

// SuddenChanges compares every point with its trailing window series[i-w:i]
// and flags those more than threshold window standard deviations away. It
// only ever looks backwards, so a prefix of a series yields a prefix of the
// result. Zero arguments mean the defaults (window 5, threshold 2).
func SuddenChanges(series []float64, windowSize int, threshold float64) (*DetectionResult, error) {
	windowSize = orDefaultInt(windowSize, DefaultSuddenChangeWindow)
	threshold = orDefault(threshold, DefaultSuddenChangeThreshold)
	if err := checkWindow(windowSize); err != nil {
		return nil, err
	}
	if err := checkPositive("threshold", threshold); err != nil {
		return nil, err
	}
	if err := checkSeries("series", series); err != nil {
		return nil, err
	}
	if need := 2 * windowSize; len(series) < need {
		return insufficient(MethodSuddenChange, need, len(series)), nil
	}

	res := &DetectionResult{
		Method:    MethodSuddenChange,
		Anomalies: make([]PointAnomaly, 0),
		Summary:   WindowSummary{WindowSize: windowSize, Threshold: threshold},
	}
	for i := windowSize; i < len(series); i++ {
		mean, stdDev := meanStdDev(series[i-windowSize : i])
		x := series[i]

		deviation := 0.0
		if stdDev > 0 {
			deviation = math.Abs(x-mean) / stdDev
		}
		if deviation <= threshold {
			continue
		}

		dir := DirectionDrop
		if x > mean {
			dir = DirectionSpike
		}
		res.Anomalies = append(res.Anomalies, PointAnomaly{
			Index:     i,
			Value:     x,
			Method:    MethodSuddenChange,
			Severity:  severityAbove(deviation, 1.5*threshold),
			Direction: dir,
			Detail:    SuddenChangeDetail{Deviation: deviation, WindowMean: mean, WindowStdDev: stdDev},
		})
	}
	return res, nil
}

// TrendBreaks flags interior points where the least-squares slope of the
// window after the point differs from the slope of the window before it by
// more than sensitivity. Zero arguments mean the defaults (window 10,
// sensitivity 0.5).
func TrendBreaks(series []float64, windowSize int, sensitivity float64) (*DetectionResult, error) {
	windowSize = orDefaultInt(windowSize, DefaultTrendBreakWindow)
	sensitivity = orDefault(sensitivity, DefaultTrendSensitivity)
	if err := checkWindow(windowSize); err != nil {
		return nil, err
	}
	if err := checkNonNegative("sensitivity", sensitivity); err != nil {
		return nil, err
	}
	if err := checkSeries("series", series); err != nil {
		return nil, err
	}
	if need := 3 * windowSize; len(series) < need {
		return insufficient(MethodTrendBreak, need, len(series)), nil
	}

	res := &DetectionResult{
		Method:    MethodTrendBreak,
		Anomalies: make([]PointAnomaly, 0),
		Summary:   TrendSummary{WindowSize: windowSize, Sensitivity: sensitivity},
	}
	xs := positions(windowSize)
	for i := windowSize; i < len(series)-windowSize; i++ {
		before := slope(series[i-windowSize:i], xs)
		after := slope(series[i:i+windowSize], xs)
		change := math.Abs(after - before)
		if change <= sensitivity {
			continue
		}

		dir := DirectionDeceleration
		if after > before {
			dir = DirectionAcceleration
		}
		res.Anomalies = append(res.Anomalies, PointAnomaly{
			Index:     i,
			Value:     series[i],
			Method:    MethodTrendBreak,
			Severity:  severityAbove(change, 2*sensitivity),
			Direction: dir,
			Detail:    TrendBreakDetail{SlopeBefore: before, SlopeAfter: after, SlopeChange: change},
		})
	}
	return res, nil
}
