package anomaly

// Package anomaly provides anomaly detection over numeric time series using
// classical statistics and simple pattern heuristics.
//
// Responsibilities:
//   - Flag individual points that deviate from a series (z-score, IQR)
//   - Flag points that break from their local past (sudden change, trend break)
//   - Rank points by global isolation (average-distance heuristic)
//   - Correlate several metrics sampled in lock-step (multi-dimensional)
//   - Reconcile independent detectors through majority voting (ensemble)
//
// Philosophy: Classical Statistics, NOT Machine Learning
//   - No training, no learned parameters survive a call
//   - Deterministic and reproducible for identical input
//   - Every detector is a pure function: no I/O, no shared state,
//     and the caller's series is never modified
//
// Detection Methods:
//
//   1. Z-Score ("zscore")
//      - z = (x - mean) / stddev over the whole series (population)
//      - Flag |z| > threshold (default 2.5), critical above 1.5x threshold
//
//   2. Interquartile Range ("iqr")
//      - Nearest-rank Q1/Q3 on a sorted copy
//      - Flag outside [Q1 - m*IQR, Q3 + m*IQR] (default m = 1.5)
//
//   3. Sudden Change ("sudden_change")
//      - Compare each point with its trailing window (default 5)
//      - Causal: never looks ahead, safe for streaming use
//
//   4. Trend Break ("trend_break")
//      - Least-squares slope before vs. after each interior point (window 10)
//
//   5. Isolation ("isolation")
//      - Mean absolute distance to every other point, top fraction flagged
//      - A simplified heuristic, not a randomized isolation forest
//
// Not enough data is not an error: a detector returns an empty result with a
// Note. Malformed parameters fail fast with a *ConfigurationError.

import (
	"fmt"
	"math"
)

// Method identifies a detection algorithm.
type Method string

const (
	MethodZScore       Method = "zscore"
	MethodIQR          Method = "iqr"
	MethodSuddenChange Method = "sudden_change"
	MethodTrendBreak   Method = "trend_break"
	MethodIsolation    Method = "isolation"
)

// AllMethods lists every method the ensemble can run, in canonical order.
var AllMethods = []Method{MethodZScore, MethodIQR, MethodSuddenChange, MethodTrendBreak, MethodIsolation}

// DefaultMethods is the ensemble's default selection. Trend-break is opt-in.
var DefaultMethods = []Method{MethodZScore, MethodIQR, MethodSuddenChange, MethodIsolation}

// ParseMethod resolves a method name.
func ParseMethod(s string) (Method, error) {
	for _, m := range AllMethods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", &ConfigurationError{Param: "methods", Reason: fmt.Sprintf("unknown detection method %q", s)}
}

// Severity is the coarse impact label attached to an anomaly.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity resolves a severity name. The empty string is accepted and
// means "any severity" to callers that filter.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "", SeverityWarning, SeverityCritical:
		return Severity(s), nil
	}
	return "", &ConfigurationError{Param: "severity", Reason: fmt.Sprintf("unknown severity %q", s)}
}

// Rank orders severities so callers can compare them.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// Direction describes which way a point deviated.
type Direction string

const (
	DirectionHigh         Direction = "high"
	DirectionLow          Direction = "low"
	DirectionSpike        Direction = "spike"
	DirectionDrop         Direction = "drop"
	DirectionAcceleration Direction = "acceleration"
	DirectionDeceleration Direction = "deceleration"
)

// Detail carries the method-specific fields of a PointAnomaly. The concrete
// type always matches PointAnomaly.Method.
type Detail interface {
	method() Method
}

// ZScoreDetail is attached to z-score anomalies.
type ZScoreDetail struct {
	ZScore float64 `json:"z_score"`
}

// IQRDetail is attached to IQR anomalies. Deviation is measured in IQRs past
// the crossed bound and is 0 when the IQR itself is 0.
type IQRDetail struct {
	Deviation float64 `json:"deviation"`
	Bound     float64 `json:"bound"`
}

// SuddenChangeDetail is attached to sudden-change anomalies.
type SuddenChangeDetail struct {
	Deviation    float64 `json:"deviation"`
	WindowMean   float64 `json:"window_mean"`
	WindowStdDev float64 `json:"window_std_dev"`
}

// TrendBreakDetail is attached to trend-break anomalies.
type TrendBreakDetail struct {
	SlopeBefore float64 `json:"slope_before"`
	SlopeAfter  float64 `json:"slope_after"`
	SlopeChange float64 `json:"slope_change"`
}

// IsolationDetail is attached to isolation anomalies.
type IsolationDetail struct {
	Score float64 `json:"score"`
}

func (ZScoreDetail) method() Method       { return MethodZScore }
func (IQRDetail) method() Method          { return MethodIQR }
func (SuddenChangeDetail) method() Method { return MethodSuddenChange }
func (TrendBreakDetail) method() Method   { return MethodTrendBreak }
func (IsolationDetail) method() Method    { return MethodIsolation }

// PointAnomaly is one point flagged by one detector.
type PointAnomaly struct {
	Index     int       `json:"index"`
	Value     float64   `json:"value"`
	Method    Method    `json:"method"`
	Severity  Severity  `json:"severity"`
	Direction Direction `json:"direction,omitempty"`
	Detail    Detail    `json:"detail"`
}

// Summary carries the method-specific statistics of a DetectionResult.
type Summary interface {
	summaryOf() Method
}

// ZScoreSummary describes the baseline used by the z-score detector.
type ZScoreSummary struct {
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Count     int     `json:"count"`
	Threshold float64 `json:"threshold"`
}

// IQRSummary describes the quartiles and fences used by the IQR detector.
type IQRSummary struct {
	Q1         float64 `json:"q1"`
	Q3         float64 `json:"q3"`
	IQR        float64 `json:"iqr"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
	Multiplier float64 `json:"multiplier"`
}

// WindowSummary describes the sudden-change parameters.
type WindowSummary struct {
	WindowSize int     `json:"window_size"`
	Threshold  float64 `json:"threshold"`
}

// TrendSummary describes the trend-break parameters.
type TrendSummary struct {
	WindowSize  int     `json:"window_size"`
	Sensitivity float64 `json:"sensitivity"`
}

// IsolationSummary describes the isolation cut.
type IsolationSummary struct {
	Contamination float64 `json:"contamination"`
	Flagged       int     `json:"flagged"`
	CutoffScore   float64 `json:"cutoff_score"`
}

func (ZScoreSummary) summaryOf() Method    { return MethodZScore }
func (IQRSummary) summaryOf() Method       { return MethodIQR }
func (WindowSummary) summaryOf() Method    { return MethodSuddenChange }
func (TrendSummary) summaryOf() Method     { return MethodTrendBreak }
func (IsolationSummary) summaryOf() Method { return MethodIsolation }

// DetectionResult is the output of one detector over one series.
// An empty Anomalies slice with a Note means the detector had no opinion.
type DetectionResult struct {
	Method    Method         `json:"method"`
	Anomalies []PointAnomaly `json:"anomalies"`
	Summary   Summary        `json:"summary,omitempty"`
	Note      string         `json:"note,omitempty"`
}

func emptyResult(m Method, note string) *DetectionResult {
	return &DetectionResult{Method: m, Anomalies: []PointAnomaly{}, Note: note}
}

func insufficient(m Method, need, got int) *DetectionResult {
	return emptyResult(m, fmt.Sprintf("insufficient data: need at least %d points, got %d", need, got))
}

// Range is an expected band of normal values.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ConfirmedAnomaly is a point at least two independent methods agreed on.
type ConfirmedAnomaly struct {
	Index         int      `json:"index"`
	Value         float64  `json:"value"`
	Methods       []Method `json:"methods"`
	Severity      Severity `json:"severity"`
	ExpectedRange *Range   `json:"expected_range,omitempty"`
}

// AlertSeverity implements alerting.Escalation.
func (c ConfirmedAnomaly) AlertSeverity() Severity { return c.Severity }

// AlertValue implements alerting.Escalation.
func (c ConfirmedAnomaly) AlertValue() float64 { return c.Value }

// AlertExpectedRange implements alerting.Escalation.
func (c ConfirmedAnomaly) AlertExpectedRange() *Range { return c.ExpectedRange }

// MultiSeriesAnomaly is an index flagged in two or more metrics at once.
type MultiSeriesAnomaly struct {
	Index           int                     `json:"index"`
	MetricsAffected int                     `json:"metrics_affected"`
	TotalMetrics    int                     `json:"total_metrics"`
	Severity        Severity                `json:"severity"`
	PerMetric       map[string]PointAnomaly `json:"per_metric"`
	Threshold       float64                 `json:"threshold"`
}

// AlertSeverity implements alerting.Escalation.
func (m MultiSeriesAnomaly) AlertSeverity() Severity { return m.Severity }

// AlertValue is the largest absolute z-score among the affected metrics.
func (m MultiSeriesAnomaly) AlertValue() float64 {
	var peak float64
	for _, pa := range m.PerMetric {
		if d, ok := pa.Detail.(ZScoreDetail); ok {
			peak = math.Max(peak, math.Abs(d.ZScore))
		}
	}
	return peak
}

// AlertExpectedRange is the z-score band [-threshold, threshold].
func (m MultiSeriesAnomaly) AlertExpectedRange() *Range {
	return &Range{Min: -m.Threshold, Max: m.Threshold}
}
