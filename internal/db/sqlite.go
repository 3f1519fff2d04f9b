package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations are applied in order; the applied versions are tracked in the
// schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS anomaly_alerts (
    id              TEXT PRIMARY KEY,
    metric_name     TEXT NOT NULL,
    anomaly_type    TEXT NOT NULL,
    severity        TEXT NOT NULL,
    value           REAL NOT NULL,
    expected_range  TEXT NOT NULL DEFAULT 'null',
    detected_at     TEXT NOT NULL,
    acknowledged    INTEGER NOT NULL DEFAULT 0,
    acknowledged_at TEXT,
    notes           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON anomaly_alerts(acknowledged, detected_at DESC);
`,
	},
	// Migration 2: stats are grouped by metric over a trailing window.
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON anomaly_alerts(detected_at);
CREATE INDEX IF NOT EXISTS idx_alerts_metric_severity ON anomaly_alerts(metric_name, severity);
`,
	},
}

// timeLayout is fixed width so that lexical order in TEXT columns matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteStore is the SQLite-backed implementation of AlertStore.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (AlertStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Every pooled connection to ":memory:" would see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const alertColumns = `id, metric_name, anomaly_type, severity, value, expected_range, detected_at, acknowledged, acknowledged_at, notes`

func (s *sqliteStore) InsertAlert(ctx context.Context, rec *AlertRecord) error {
	if rec.ID == "" {
		return errors.New("insert alert: empty id")
	}
	rng, err := encodeRange(rec.ExpectedRange)
	if err != nil {
		return err
	}

	var ackAt any
	if rec.AcknowledgedAt != nil {
		ackAt = formatTime(*rec.AcknowledgedAt)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO anomaly_alerts(`+alertColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `,
		rec.ID, rec.MetricName, rec.AnomalyType, rec.Severity, rec.Value,
		rng, formatTime(rec.DetectedAt), rec.Acknowledged, ackAt, rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetAlert(ctx context.Context, id string) (*AlertRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM anomaly_alerts WHERE id = ?`, id)
	rec, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListActiveAlerts(ctx context.Context, severity string, limit int) ([]*AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM anomaly_alerts WHERE acknowledged = 0`
	args := []any{}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}
	query += ` ORDER BY detected_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	out := []*AlertRecord{}
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time, notes string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE anomaly_alerts
        SET acknowledged = 1, acknowledged_at = ?, notes = ?
        WHERE id = ? AND acknowledged = 0
    `, formatTime(at), notes, id)
	if err != nil {
		return false, fmt.Errorf("acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acknowledge alert: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM anomaly_alerts WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("acknowledge alert: %w", err)
	}
	if exists == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *sqliteStore) AlertStats(ctx context.Context, since time.Time) ([]*AlertStat, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT metric_name, severity, COUNT(*), MIN(detected_at), MAX(detected_at)
        FROM anomaly_alerts
        WHERE detected_at >= ?
        GROUP BY metric_name, severity
        ORDER BY metric_name ASC, severity ASC
    `, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("alert stats: %w", err)
	}
	defer rows.Close()

	out := []*AlertStat{}
	for rows.Next() {
		var st AlertStat
		var first, last string
		if err := rows.Scan(&st.MetricName, &st.Severity, &st.Count, &first, &last); err != nil {
			return nil, fmt.Errorf("scan alert stats: %w", err)
		}
		if st.FirstSeen, err = parseTime(first); err != nil {
			return nil, err
		}
		if st.LastSeen, err = parseTime(last); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*AlertRecord, error) {
	rec := &AlertRecord{}
	var rng, detected string
	var ackAt sql.NullString
	if err := row.Scan(&rec.ID, &rec.MetricName, &rec.AnomalyType, &rec.Severity, &rec.Value,
		&rng, &detected, &rec.Acknowledged, &ackAt, &rec.Notes); err != nil {
		return nil, err
	}

	var err error
	if rec.ExpectedRange, err = decodeRange([]byte(rng)); err != nil {
		return nil, err
	}
	if rec.DetectedAt, err = parseTime(detected); err != nil {
		return nil, err
	}
	if ackAt.Valid {
		t, err := parseTime(ackAt.String)
		if err != nil {
			return nil, err
		}
		rec.AcknowledgedAt = &t
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
