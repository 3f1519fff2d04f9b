// Package alerting turns confirmed anomalies into durable alerts and tracks
// their acknowledgement.
//
// An alert has two states, open and acknowledged. The transition happens at
// most once; acknowledging again is a successful no-op that keeps the
// original timestamp and notes. Alerts are never deleted here.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/audit"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
)

const (
	// ActiveAlertsPageSize caps GetActiveAlerts.
	ActiveAlertsPageSize = 50

	// DefaultStatsWindowHours is used when GetAnomalyStats is called with 0.
	DefaultStatsWindowHours = 24
)

// ErrAlertNotFound is returned when an id names no stored alert.
var ErrAlertNotFound = errors.New("alert not found")

// PersistenceError wraps a failed store call. The manager never retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("alert store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Escalation is anything that can be raised as an alert.
// anomaly.ConfirmedAnomaly and anomaly.MultiSeriesAnomaly implement it.
type Escalation interface {
	AlertSeverity() anomaly.Severity
	AlertValue() float64
	AlertExpectedRange() *anomaly.Range
}

// Alert is a persisted anomaly alert.
type Alert struct {
	ID             string           `json:"id"`
	MetricName     string           `json:"metric_name"`
	AnomalyType    string           `json:"anomaly_type"`
	Severity       anomaly.Severity `json:"severity"`
	Value          float64          `json:"value"`
	ExpectedRange  *anomaly.Range   `json:"expected_range,omitempty"`
	DetectedAt     time.Time        `json:"detected_at"`
	Acknowledged   bool             `json:"acknowledged"`
	AcknowledgedAt *time.Time       `json:"acknowledged_at,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

// AnomalyStat counts alerts of one severity for one metric.
type AnomalyStat struct {
	MetricName string           `json:"metric_name"`
	Severity   anomaly.Severity `json:"severity"`
	Count      int              `json:"count"`
	FirstSeen  time.Time        `json:"first_seen"`
	LastSeen   time.Time        `json:"last_seen"`
}

// AnomalyStats is the answer to GetAnomalyStats.
type AnomalyStats struct {
	WindowHours int           `json:"window_hours"`
	Since       time.Time     `json:"since"`
	Total       int           `json:"total"`
	Stats       []AnomalyStat `json:"stats"`
}

// Event types delivered to a Notifier.
const (
	EventCreated      = "alert.created"
	EventAcknowledged = "alert.acknowledged"
)

// AlertEvent is broadcast after a successful state change.
type AlertEvent struct {
	Type  string `json:"type"`
	Alert *Alert `json:"alert"`
}

// Notifier receives alert events, e.g. the websocket hub.
type Notifier interface {
	Notify(ctx context.Context, ev AlertEvent) error
}

// Manager owns the alert lifecycle against a single store handle.
type Manager struct {
	store       db.AlertStore
	logger      *zap.Logger
	audit       audit.Logger
	notifier    Notifier
	now         func() time.Time
	statsWindow int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the application logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAuditLogger records alert lifecycle events in the audit trail.
func WithAuditLogger(a audit.Logger) Option {
	return func(m *Manager) { m.audit = a }
}

// WithNotifier broadcasts alert events after each successful write.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithStatsWindow changes the window GetAnomalyStats uses for hours == 0.
func WithStatsWindow(hours int) Option {
	return func(m *Manager) {
		if hours > 0 {
			m.statsWindow = hours
		}
	}
}

// NewManager creates a manager backed by store.
func NewManager(store db.AlertStore, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		logger:      zap.NewNop(),
		audit:       audit.NewNopLogger(),
		now:         time.Now,
		statsWindow: DefaultStatsWindowHours,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAlert persists a new open alert for an escalated anomaly.
func (m *Manager) CreateAlert(ctx context.Context, metricName string, esc Escalation, anomalyType string) (*Alert, error) {
	if metricName == "" {
		return nil, &anomaly.ConfigurationError{Param: "metric_name", Reason: "must not be empty"}
	}
	if anomalyType == "" {
		return nil, &anomaly.ConfigurationError{Param: "anomaly_type", Reason: "must not be empty"}
	}
	if esc == nil {
		return nil, &anomaly.ConfigurationError{Param: "anomaly", Reason: "must not be nil"}
	}
	sev := esc.AlertSeverity()
	if _, err := anomaly.ParseSeverity(string(sev)); err != nil || sev == "" {
		return nil, &anomaly.ConfigurationError{Param: "severity", Reason: fmt.Sprintf("unknown severity %q", sev)}
	}

	alert := &Alert{
		ID:            uuid.NewString(),
		MetricName:    metricName,
		AnomalyType:   anomalyType,
		Severity:      sev,
		Value:         esc.AlertValue(),
		ExpectedRange: esc.AlertExpectedRange(),
		DetectedAt:    m.now().UTC(),
	}

	if err := m.store.InsertAlert(ctx, toRecord(alert)); err != nil {
		return nil, m.persistenceFailure(ctx, "create_alert", metricName, err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(anomalyType, string(sev)).Inc()
	m.logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.String("metric", metricName),
		zap.String("anomaly_type", anomalyType),
		zap.String("severity", string(sev)),
		zap.Float64("value", alert.Value))
	if err := m.audit.LogAlertCreated(ctx, alert.ID, metricName, string(sev)); err != nil {
		m.logger.Warn("Failed to audit alert creation", zap.Error(err))
	}
	m.notify(ctx, EventCreated, alert)

	return alert, nil
}

// GetActiveAlerts returns open alerts, newest first, at most
// ActiveAlertsPageSize of them. An empty severity matches all.
func (m *Manager) GetActiveAlerts(ctx context.Context, severity anomaly.Severity) ([]*Alert, error) {
	if _, err := anomaly.ParseSeverity(string(severity)); err != nil {
		return nil, err
	}
	recs, err := m.store.ListActiveAlerts(ctx, string(severity), ActiveAlertsPageSize)
	if err != nil {
		return nil, m.persistenceFailure(ctx, "list_active_alerts", "", err)
	}
	out := make([]*Alert, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// GetAlert returns one alert by id.
func (m *Manager) GetAlert(ctx context.Context, id string) (*Alert, error) {
	rec, err := m.store.GetAlert(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if err != nil {
		return nil, m.persistenceFailure(ctx, "get_alert", "", err)
	}
	return fromRecord(rec), nil
}

// AcknowledgeAlert moves an alert to acknowledged and returns the stored
// record. Acknowledging twice succeeds and leaves the first acknowledgement
// untouched.
func (m *Manager) AcknowledgeAlert(ctx context.Context, id, notes string) (*Alert, error) {
	changed, err := m.store.AcknowledgeAlert(ctx, id, m.now().UTC(), notes)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if err != nil {
		return nil, m.persistenceFailure(ctx, "acknowledge_alert", "", err)
	}

	alert, err := m.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	result := "noop"
	if changed {
		result = "changed"
	}
	metrics.AlertsAcknowledgedTotal.WithLabelValues(result).Inc()
	m.logger.Info("Alert acknowledged",
		zap.String("alert_id", id),
		zap.Bool("changed", changed))
	if err := m.audit.LogAlertAcknowledged(ctx, id, changed); err != nil {
		m.logger.Warn("Failed to audit alert acknowledgement", zap.Error(err))
	}
	if changed {
		m.notify(ctx, EventAcknowledged, alert)
	}
	return alert, nil
}

// GetAnomalyStats aggregates alerts detected in the trailing hours by metric
// and severity. hours == 0 uses the configured window (24 by default).
func (m *Manager) GetAnomalyStats(ctx context.Context, hours int) (*AnomalyStats, error) {
	if hours < 0 {
		return nil, &anomaly.ConfigurationError{Param: "hours", Reason: fmt.Sprintf("must not be negative, got %d", hours)}
	}
	if hours == 0 {
		hours = m.statsWindow
	}
	since := m.now().UTC().Add(-time.Duration(hours) * time.Hour)

	rows, err := m.store.AlertStats(ctx, since)
	if err != nil {
		return nil, m.persistenceFailure(ctx, "alert_stats", "", err)
	}

	out := &AnomalyStats{WindowHours: hours, Since: since, Stats: make([]AnomalyStat, 0, len(rows))}
	for _, r := range rows {
		out.Stats = append(out.Stats, AnomalyStat{
			MetricName: r.MetricName,
			Severity:   anomaly.Severity(r.Severity),
			Count:      r.Count,
			FirstSeen:  r.FirstSeen,
			LastSeen:   r.LastSeen,
		})
		out.Total += r.Count
	}
	return out, nil
}

// Ping reports whether the store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.store.Ping(ctx); err != nil {
		return &PersistenceError{Op: "ping", Err: err}
	}
	return nil
}

func (m *Manager) persistenceFailure(ctx context.Context, op, metricName string, err error) error {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	m.logger.Error("Alert store call failed",
		zap.String("op", op),
		zap.String("metric", metricName),
		zap.Error(err))
	if aerr := m.audit.LogAlertFailed(ctx, op, metricName, err); aerr != nil {
		m.logger.Warn("Failed to audit store failure", zap.Error(aerr))
	}
	return &PersistenceError{Op: op, Err: err}
}

func (m *Manager) notify(ctx context.Context, typ string, a *Alert) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, AlertEvent{Type: typ, Alert: a}); err != nil {
		m.logger.Warn("Failed to broadcast alert event",
			zap.String("type", typ),
			zap.String("alert_id", a.ID),
			zap.Error(err))
	}
}

func toRecord(a *Alert) *db.AlertRecord {
	rec := &db.AlertRecord{
		ID:             a.ID,
		MetricName:     a.MetricName,
		AnomalyType:    a.AnomalyType,
		Severity:       string(a.Severity),
		Value:          a.Value,
		DetectedAt:     a.DetectedAt,
		Acknowledged:   a.Acknowledged,
		AcknowledgedAt: a.AcknowledgedAt,
		Notes:          a.Notes,
	}
	if a.ExpectedRange != nil {
		rec.ExpectedRange = &db.Range{Min: a.ExpectedRange.Min, Max: a.ExpectedRange.Max}
	}
	return rec
}

func fromRecord(rec *db.AlertRecord) *Alert {
	a := &Alert{
		ID:             rec.ID,
		MetricName:     rec.MetricName,
		AnomalyType:    rec.AnomalyType,
		Severity:       anomaly.Severity(rec.Severity),
		Value:          rec.Value,
		DetectedAt:     rec.DetectedAt,
		Acknowledged:   rec.Acknowledged,
		AcknowledgedAt: rec.AcknowledgedAt,
		Notes:          rec.Notes,
	}
	if rec.ExpectedRange != nil {
		a.ExpectedRange = &anomaly.Range{Min: rec.ExpectedRange.Min, Max: rec.ExpectedRange.Max}
	}
	return a
}
