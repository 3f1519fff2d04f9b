package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var postgresMigrations embed.FS

// postgresStore implements AlertStore using PostgreSQL.
type postgresStore struct {
	db *sqlx.DB
}

// alertRow mirrors anomaly_alerts for sqlx scanning.
type alertRow struct {
	ID             string       `db:"id"`
	MetricName     string       `db:"metric_name"`
	AnomalyType    string       `db:"anomaly_type"`
	Severity       string       `db:"severity"`
	Value          float64      `db:"value"`
	ExpectedRange  []byte       `db:"expected_range"`
	DetectedAt     time.Time    `db:"detected_at"`
	Acknowledged   bool         `db:"acknowledged"`
	AcknowledgedAt sql.NullTime `db:"acknowledged_at"`
	Notes          string       `db:"notes"`
}

func (r *alertRow) record() (*AlertRecord, error) {
	rng, err := decodeRange(r.ExpectedRange)
	if err != nil {
		return nil, err
	}
	rec := &AlertRecord{
		ID:            r.ID,
		MetricName:    r.MetricName,
		AnomalyType:   r.AnomalyType,
		Severity:      r.Severity,
		Value:         r.Value,
		ExpectedRange: rng,
		DetectedAt:    r.DetectedAt.UTC(),
		Acknowledged:  r.Acknowledged,
		Notes:         r.Notes,
	}
	if r.AcknowledgedAt.Valid {
		t := r.AcknowledgedAt.Time.UTC()
		rec.AcknowledgedAt = &t
	}
	return rec, nil
}

// NewPostgresStore connects to PostgreSQL and applies the embedded migrations.
func NewPostgresStore(ctx context.Context, connectionString string) (AlertStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migratePostgres(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &postgresStore{db: db}, nil
}

// migratePostgres runs pending migrations over a dedicated connection so that
// closing the migrator leaves the pool open.
func migratePostgres(ctx context.Context, pool *sql.DB) error {
	source, err := iofs.New(postgresMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve migration connection: %w", err)
	}
	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (r *postgresStore) Close() error { return r.db.Close() }

func (r *postgresStore) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *postgresStore) InsertAlert(ctx context.Context, rec *AlertRecord) error {
	if rec.ID == "" {
		return errors.New("insert alert: empty id")
	}
	rng, err := encodeRange(rec.ExpectedRange)
	if err != nil {
		return err
	}

	var ackAt sql.NullTime
	if rec.AcknowledgedAt != nil {
		ackAt = sql.NullTime{Time: rec.AcknowledgedAt.UTC(), Valid: true}
	}
	query := `
		INSERT INTO anomaly_alerts (id, metric_name, anomaly_type, severity, value, expected_range,
		                            detected_at, acknowledged, acknowledged_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.MetricName,
		rec.AnomalyType,
		rec.Severity,
		rec.Value,
		rng,
		rec.DetectedAt.UTC(),
		rec.Acknowledged,
		ackAt,
		rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *postgresStore) GetAlert(ctx context.Context, id string) (*AlertRecord, error) {
	var row alertRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM anomaly_alerts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return row.record()
}

func (r *postgresStore) ListActiveAlerts(ctx context.Context, severity string, limit int) ([]*AlertRecord, error) {
	query := `SELECT * FROM anomaly_alerts WHERE acknowledged = false`
	args := []any{}
	if severity != "" {
		args = append(args, severity)
		query += fmt.Sprintf(` AND severity = $%d`, len(args))
	}
	query += ` ORDER BY detected_at DESC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	out := make([]*AlertRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *postgresStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time, notes string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE anomaly_alerts
		SET acknowledged = true, acknowledged_at = $1, notes = $2
		WHERE id = $3 AND acknowledged = false
	`, at.UTC(), notes, id)
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

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM anomaly_alerts WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("acknowledge alert: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *postgresStore) AlertStats(ctx context.Context, since time.Time) ([]*AlertStat, error) {
	query := `
		SELECT metric_name, severity, COUNT(*) AS count,
		       MIN(detected_at) AS first_seen, MAX(detected_at) AS last_seen
		FROM anomaly_alerts
		WHERE detected_at >= $1
		GROUP BY metric_name, severity
		ORDER BY metric_name ASC, severity ASC
	`
	var rows []struct {
		MetricName string    `db:"metric_name"`
		Severity   string    `db:"severity"`
		Count      int       `db:"count"`
		FirstSeen  time.Time `db:"first_seen"`
		LastSeen   time.Time `db:"last_seen"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("alert stats: %w", err)
	}

	out := make([]*AlertStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, &AlertStat{
			MetricName: row.MetricName,
			Severity:   row.Severity,
			Count:      row.Count,
			FirstSeen:  row.FirstSeen.UTC(),
			LastSeen:   row.LastSeen.UTC(),
		})
	}
	return out, nil
}
