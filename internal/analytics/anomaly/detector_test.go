package anomaly

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alternating returns n points oscillating between 10 and 10.5.
func alternating(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 10
		if i%2 == 1 {
			out[i] = 10.5
		}
	}
	return out
}

func TestZScore_FlagsSpike(t *testing.T) {
	data := []float64{10, 10, 10, 10, 100}

	res, err := ZScore(data, 1.5)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)

	a := res.Anomalies[0]
	assert.Equal(t, 4, a.Index)
	assert.Equal(t, DirectionHigh, a.Direction)
	assert.Equal(t, MethodZScore, a.Method)
	// mean 28, stddev 36: z = 2.0, which is above 1.5 but not above 2.25.
	assert.Equal(t, SeverityWarning, a.Severity)

	detail, ok := a.Detail.(ZScoreDetail)
	require.True(t, ok)
	assert.InDelta(t, 2.0, detail.ZScore, 1e-9)

	summary, ok := res.Summary.(ZScoreSummary)
	require.True(t, ok)
	assert.InDelta(t, 28.0, summary.Mean, 1e-9)
	assert.InDelta(t, 36.0, summary.StdDev, 1e-9)
	assert.Equal(t, 5, summary.Count)
}

func TestZScore_CriticalAboveOneAndAHalfThreshold(t *testing.T) {
	data := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 100}

	res, err := ZScore(data, 2.5)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, 19, res.Anomalies[0].Index)
	assert.Equal(t, SeverityCritical, res.Anomalies[0].Severity)
}

func TestZScore_DefaultThreshold(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 20}

	res, err := ZScore(data, 0)
	require.NoError(t, err)
	summary := res.Summary.(ZScoreSummary)
	assert.Equal(t, DefaultZScoreThreshold, summary.Threshold)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, 9, res.Anomalies[0].Index)
}

func TestIQR_FlagsOutlier(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 50}

	res, err := IQR(data, 0)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)

	a := res.Anomalies[0]
	assert.Equal(t, 9, a.Index)
	assert.Equal(t, DirectionHigh, a.Direction)
	assert.Equal(t, SeverityCritical, a.Severity)

	detail := a.Detail.(IQRDetail)
	assert.InDelta(t, 15.5, detail.Bound, 1e-9)
	assert.InDelta(t, 6.9, detail.Deviation, 1e-9)

	summary := res.Summary.(IQRSummary)
	assert.Equal(t, 3.0, summary.Q1)
	assert.Equal(t, 8.0, summary.Q3)
	assert.Equal(t, 5.0, summary.IQR)
	assert.Equal(t, -4.5, summary.LowerBound)
	assert.Equal(t, 15.5, summary.UpperBound)
}

func TestIQR_WarningCloseToFence(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 20}

	res, err := IQR(data, 1.5)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, SeverityWarning, res.Anomalies[0].Severity)
	assert.InDelta(t, 0.9, res.Anomalies[0].Detail.(IQRDetail).Deviation, 1e-9)
}

func TestIQR_ZeroInterquartileRange(t *testing.T) {
	data := []float64{5, 5, 5, 5, 5, 5, 5, 9}

	res, err := IQR(data, 1.5)
	require.NoError(t, err)
	assert.Equal(t, "zero interquartile range", res.Note)
	require.Len(t, res.Anomalies, 1)

	a := res.Anomalies[0]
	assert.Equal(t, 7, a.Index)
	assert.Equal(t, SeverityCritical, a.Severity)
	dev := a.Detail.(IQRDetail).Deviation
	assert.Equal(t, 0.0, dev)
	assert.False(t, math.IsInf(dev, 0) || math.IsNaN(dev))
}

func TestIQR_BoundsWidenWithMultiplier(t *testing.T) {
	data := []float64{3, 7, 1, 9, 4, 12, 6, 2, 8, 30, 5}

	prevLower, prevUpper := math.Inf(1), math.Inf(-1)
	for _, m := range []float64{0.5, 1, 1.5, 2, 3, 5} {
		res, err := IQR(data, m)
		require.NoError(t, err)
		s := res.Summary.(IQRSummary)
		assert.LessOrEqual(t, s.LowerBound, prevLower, "multiplier %v", m)
		assert.GreaterOrEqual(t, s.UpperBound, prevUpper, "multiplier %v", m)
		prevLower, prevUpper = s.LowerBound, s.UpperBound
	}
}

func TestConstantSeries(t *testing.T) {
	data := []float64{7, 7, 7, 7, 7, 7, 7, 7}

	z, err := ZScore(data, 0)
	require.NoError(t, err)
	assert.Empty(t, z.Anomalies)
	assert.Equal(t, "no variance", z.Note)

	q, err := IQR(data, 0)
	require.NoError(t, err)
	assert.Empty(t, q.Anomalies)
}

func TestMinimumLengths(t *testing.T) {
	tests := []struct {
		name string
		run  func() (*DetectionResult, error)
	}{
		{"zscore", func() (*DetectionResult, error) { return ZScore([]float64{1, 100}, 0) }},
		{"iqr", func() (*DetectionResult, error) { return IQR([]float64{1, 2, 100}, 0) }},
		{"sudden_change", func() (*DetectionResult, error) { return SuddenChanges(make([]float64, 9), 5, 0) }},
		{"trend_break", func() (*DetectionResult, error) { return TrendBreaks(make([]float64, 29), 10, 0) }},
		{"isolation", func() (*DetectionResult, error) { return Isolation([]float64{1, 2, 3, 4, 5, 6, 7, 8, 900}, 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.run()
			require.NoError(t, err)
			assert.Empty(t, res.Anomalies)
			assert.Contains(t, res.Note, "insufficient data")
		})
	}
}

func TestInvalidParameters(t *testing.T) {
	series := alternating(40)
	tests := []struct {
		name  string
		param string
		run   func() error
	}{
		{"negative threshold", "threshold", func() error { _, err := ZScore(series, -1); return err }},
		{"nan threshold", "threshold", func() error { _, err := ZScore(series, math.NaN()); return err }},
		{"negative multiplier", "multiplier", func() error { _, err := IQR(series, -0.5); return err }},
		{"negative window", "window_size", func() error { _, err := SuddenChanges(series, -5, 0); return err }},
		{"negative sensitivity", "sensitivity", func() error { _, err := TrendBreaks(series, 0, -1); return err }},
		{"contamination too large", "contamination", func() error { _, err := Isolation(series, 1.5); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tt.param, cfgErr.Param)
		})
	}
}

func TestDetectorsRejectNonFiniteSeries(t *testing.T) {
	withNaN := alternating(40)
	withNaN[10] = math.NaN()
	withInf := alternating(40)
	withInf[39] = math.Inf(-1)

	for _, series := range [][]float64{withNaN, withInf} {
		for _, m := range AllMethods {
			t.Run(string(m), func(t *testing.T) {
				res, err := runners[m](series, Options{})
				assert.Nil(t, res)
				var cfgErr *ConfigurationError
				require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
				assert.Equal(t, "series", cfgErr.Param)
			})
		}
	}
}

func TestSuddenChanges_FlagsJump(t *testing.T) {
	data := alternating(20)
	// Trailing window [15:20] is 10.5, 10, 10.5, 10, 10.5.
	windowMean, windowStd := 10.3, math.Sqrt(0.06)
	data = append(data, windowMean+10*windowStd)

	res, err := SuddenChanges(data, 5, 2)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)

	a := res.Anomalies[0]
	assert.Equal(t, 20, a.Index)
	assert.Equal(t, DirectionSpike, a.Direction)
	assert.Equal(t, SeverityCritical, a.Severity)

	detail := a.Detail.(SuddenChangeDetail)
	assert.InDelta(t, 10.0, detail.Deviation, 1e-6)
	assert.InDelta(t, windowMean, detail.WindowMean, 1e-9)
}

func TestSuddenChanges_Drop(t *testing.T) {
	data := append(alternating(12), 0)

	res, err := SuddenChanges(data, 5, 2)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, 12, res.Anomalies[0].Index)
	assert.Equal(t, DirectionDrop, res.Anomalies[0].Direction)
}

func TestSuddenChanges_IsCausal(t *testing.T) {
	data := alternating(30)
	data[18] = 40

	full, err := SuddenChanges(data, 5, 2)
	require.NoError(t, err)
	prefix, err := SuddenChanges(data[:19], 5, 2)
	require.NoError(t, err)

	var upTo18 []PointAnomaly
	for _, a := range full.Anomalies {
		if a.Index <= 18 {
			upTo18 = append(upTo18, a)
		}
	}
	assert.Equal(t, upTo18, prefix.Anomalies)
}

func TestTrendBreaks_DetectsAcceleration(t *testing.T) {
	data := make([]float64, 30)
	for i := 15; i < 30; i++ {
		data[i] = 2 * float64(i-15)
	}

	res, err := TrendBreaks(data, 5, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Anomalies)

	var found bool
	for _, a := range res.Anomalies {
		assert.GreaterOrEqual(t, a.Index, 11)
		assert.LessOrEqual(t, a.Index, 19)
		if a.Index == 15 {
			found = true
			assert.Equal(t, DirectionAcceleration, a.Direction)
			assert.Equal(t, SeverityCritical, a.Severity)
			d := a.Detail.(TrendBreakDetail)
			assert.InDelta(t, 0, d.SlopeBefore, 1e-9)
			assert.InDelta(t, 2, d.SlopeAfter, 1e-9)
		}
	}
	assert.True(t, found, "index 15 not flagged")
}

func TestTrendBreaks_StraightLine(t *testing.T) {
	data := make([]float64, 40)
	for i := range data {
		data[i] = 3*float64(i) + 1
	}

	res, err := TrendBreaks(data, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies)
	assert.Equal(t, TrendSummary{WindowSize: DefaultTrendBreakWindow, Sensitivity: DefaultTrendSensitivity}, res.Summary)
}

func TestIsolation_TopFraction(t *testing.T) {
	data := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}

	res, err := Isolation(data, 0.2)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 2)

	assert.Equal(t, 9, res.Anomalies[0].Index)
	assert.Equal(t, SeverityCritical, res.Anomalies[0].Severity)
	assert.InDelta(t, 99, res.Anomalies[0].Detail.(IsolationDetail).Score, 1e-9)

	// Ties resolve to the lower index.
	assert.Equal(t, 0, res.Anomalies[1].Index)
	assert.Equal(t, SeverityWarning, res.Anomalies[1].Severity)

	summary := res.Summary.(IsolationSummary)
	assert.Equal(t, 2, summary.Flagged)
	assert.InDelta(t, 11, summary.CutoffScore, 1e-9)
}

func TestIsolation_SingleOutlierIsCritical(t *testing.T) {
	data := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1000}

	res, err := Isolation(data, 0)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, 9, res.Anomalies[0].Index)
	assert.InDelta(t, 999, res.Anomalies[0].Detail.(IsolationDetail).Score, 1e-9)
	assert.Equal(t, SeverityCritical, res.Anomalies[0].Severity)

	summary := res.Summary.(IsolationSummary)
	assert.Equal(t, 1, summary.Flagged)
	assert.InDelta(t, 111, summary.CutoffScore, 1e-9)
}

func TestIsolation_AlwaysFlagsAtLeastOne(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	res, err := Isolation(data, 0.01)
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, 0, res.Anomalies[0].Index)
}

func TestParseHelpers(t *testing.T) {
	m, err := ParseMethod("sudden_change")
	require.NoError(t, err)
	assert.Equal(t, MethodSuddenChange, m)

	_, err = ParseMethod("prophet")
	assert.Error(t, err)

	s, err := ParseSeverity("")
	require.NoError(t, err)
	assert.Equal(t, Severity(""), s)

	_, err = ParseSeverity("fatal")
	assert.Error(t, err)
	assert.Greater(t, SeverityCritical.Rank(), SeverityWarning.Rank())
}
