package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup or update names an alert that does
// not exist.
var ErrNotFound = errors.New("alert not found")

// AlertStore is the persistence interface for anomaly alerts. It is
// append-mostly: rows are inserted once and only the acknowledgement fields
// are ever updated.
type AlertStore interface {
	// InsertAlert stores a new alert. rec.ID must already be set.
	InsertAlert(ctx context.Context, rec *AlertRecord) error

	// GetAlert returns a single alert, or ErrNotFound.
	GetAlert(ctx context.Context, id string) (*AlertRecord, error)

	// ListActiveAlerts returns unacknowledged alerts, newest first. An empty
	// severity matches every severity.
	ListActiveAlerts(ctx context.Context, severity string, limit int) ([]*AlertRecord, error)

	// AcknowledgeAlert marks an open alert acknowledged. changed is false when
	// the alert was already acknowledged; the stored row is left untouched
	// in that case.
	AcknowledgeAlert(ctx context.Context, id string, at time.Time, notes string) (changed bool, err error)

	// AlertStats groups alerts detected at or after since by metric and
	// severity.
	AlertStats(ctx context.Context, since time.Time) ([]*AlertStat, error)

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close releases database resources.
	Close() error
}

// Range is the persisted expected band of an alert.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AlertRecord is the DB representation of an anomaly alert.
type AlertRecord struct {
	ID             string     `json:"id"`
	MetricName     string     `json:"metric_name"`
	AnomalyType    string     `json:"anomaly_type"`
	Severity       string     `json:"severity"`
	Value          float64    `json:"value"`
	ExpectedRange  *Range     `json:"expected_range"`
	DetectedAt     time.Time  `json:"detected_at"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Notes          string     `json:"notes"`
}

// AlertStat is one (metric, severity) bucket of AlertStats.
type AlertStat struct {
	MetricName string    `json:"metric_name"`
	Severity   string    `json:"severity"`
	Count      int       `json:"count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Config selects and locates the backing database.
type Config struct {
	Type        string // sqlite | postgres
	SQLitePath  string
	PostgresURL string
}

// Open returns the store selected by cfg.Type with its schema migrated.
func Open(ctx context.Context, cfg Config) (AlertStore, error) {
	switch cfg.Type {
	case "", "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		if cfg.PostgresURL == "" {
			return nil, errors.New("postgres_url is required for database type postgres")
		}
		return NewPostgresStore(ctx, cfg.PostgresURL)
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
}

func encodeRange(r *Range) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode expected_range: %w", err)
	}
	return string(b), nil
}

func decodeRange(raw []byte) (*Range, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var r *Range
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode expected_range: %w", err)
	}
	return r, nil
}
