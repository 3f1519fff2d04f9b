package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/alerting"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/audit"
)

// Anomaly types recorded on alerts raised by the Scanner.
const (
	AnomalyTypeEnsemble = "ensemble"
	AnomalyTypeMulti    = "multi_dimensional"
)

// Policy decides which detected anomalies become alerts.
type Policy struct {
	// MinSeverity is the lowest severity escalated. Empty escalates every
	// confirmed anomaly.
	MinSeverity anomaly.Severity
}

func (p Policy) escalates(sev anomaly.Severity) bool {
	return sev.Rank() >= p.MinSeverity.Rank()
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	MetricName string                  `json:"metric_name"`
	Detection  *anomaly.EnsembleResult `json:"detection"`
	Alerts     []*alerting.Alert       `json:"alerts"`
}

// MultiScanResult is the outcome of one multi-metric scan.
type MultiScanResult struct {
	Name      string                          `json:"name"`
	Detection *anomaly.MultiDimensionalResult `json:"detection"`
	Alerts    []*alerting.Alert               `json:"alerts"`
}

// Scanner runs detection and escalates what the policy selects. It has no
// timer of its own; an external scheduler calls Scan with fresh data.
type Scanner struct {
	engine *Engine
	alerts *alerting.Manager
	audit  audit.Logger
	logger *zap.Logger
}

// NewScanner creates a scanner. Nil loggers are replaced with no-ops.
func NewScanner(engine *Engine, alerts *alerting.Manager, auditLogger audit.Logger, logger *zap.Logger) *Scanner {
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{engine: engine, alerts: alerts, audit: auditLogger, logger: logger}
}

// Scan runs the ensemble over series and creates one alert per confirmed
// anomaly the policy escalates. When an alert cannot be stored the scan stops
// and returns the alerts created so far together with the error.
func (s *Scanner) Scan(ctx context.Context, metricName string, series []float64, opts anomaly.Options, policy Policy) (*ScanResult, error) {
	if metricName == "" {
		return nil, &anomaly.ConfigurationError{Param: "metric_name", Reason: "must not be empty"}
	}
	if _, err := anomaly.ParseSeverity(string(policy.MinSeverity)); err != nil {
		return nil, err
	}

	start := time.Now()
	det, err := s.engine.Detect(ctx, series, opts)
	if err != nil {
		return nil, err
	}

	out := &ScanResult{MetricName: metricName, Detection: det, Alerts: []*alerting.Alert{}}
	for _, c := range det.Confirmed {
		if !policy.escalates(c.Severity) {
			continue
		}
		alert, err := s.alerts.CreateAlert(ctx, metricName, c, AnomalyTypeEnsemble)
		if err != nil {
			return out, fmt.Errorf("escalate index %d of %s: %w", c.Index, metricName, err)
		}
		out.Alerts = append(out.Alerts, alert)
	}

	s.auditScan(ctx, metricName, len(det.Confirmed), len(out.Alerts), time.Since(start))
	s.logger.Info("Scan completed",
		zap.String("metric", metricName),
		zap.Int("confirmed", len(det.Confirmed)),
		zap.Int("alerts", len(out.Alerts)))
	return out, nil
}

// ScanMulti correlates several metrics and raises one alert per escalated
// multi-series anomaly. The alert's metric name is name, or the sorted metric
// names joined with "+" when name is empty.
func (s *Scanner) ScanMulti(ctx context.Context, name string, series map[string][]float64, threshold float64, policy Policy) (*MultiScanResult, error) {
	if _, err := anomaly.ParseSeverity(string(policy.MinSeverity)); err != nil {
		return nil, err
	}

	start := time.Now()
	det, err := s.engine.MultiDimensional(ctx, series, threshold)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = joinNames(series)
	}
	if name == "" {
		return nil, &anomaly.ConfigurationError{Param: "name", Reason: "must not be empty"}
	}

	out := &MultiScanResult{Name: name, Detection: det, Alerts: []*alerting.Alert{}}
	for _, a := range det.Anomalies {
		if !policy.escalates(a.Severity) {
			continue
		}
		alert, err := s.alerts.CreateAlert(ctx, name, a, AnomalyTypeMulti)
		if err != nil {
			return out, fmt.Errorf("escalate index %d of %s: %w", a.Index, name, err)
		}
		out.Alerts = append(out.Alerts, alert)
	}

	s.auditScan(ctx, name, len(det.Anomalies), len(out.Alerts), time.Since(start))
	return out, nil
}

func (s *Scanner) auditScan(ctx context.Context, name string, detected, raised int, elapsed time.Duration) {
	event := audit.NewEvent(audit.EventScanCompleted).
		WithResource(name, "metric").
		WithAction("scan").
		WithResult(audit.ResultSuccess).
		WithDuration(elapsed).
		WithMetadata("detected", detected).
		WithMetadata("alerts", raised).
		WithDescription(fmt.Sprintf("Scan of %s raised %d alerts", name, raised))
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.Warn("Failed to audit scan", zap.Error(err))
	}
}

func joinNames(series map[string][]float64) string {
	names := make([]string, 0, len(series))
	for n := range series {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}
