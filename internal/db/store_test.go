package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// storeSuite exercises the AlertStore contract. Each backend test passes a
// factory returning an empty store.
func storeSuite(t *testing.T, newStore func(t *testing.T) AlertStore) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ListActive", func(t *testing.T) { testListActive(t, newStore(t)) })
	t.Run("ListActiveLimit", func(t *testing.T) { testListActiveLimit(t, newStore(t)) })
	t.Run("Acknowledge", func(t *testing.T) { testAcknowledge(t, newStore(t)) })
	t.Run("AcknowledgeMissing", func(t *testing.T) { testAcknowledgeMissing(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func alertAt(id, metric, severity string, offset time.Duration) *AlertRecord {
	return &AlertRecord{
		ID:            id,
		MetricName:    metric,
		AnomalyType:   "ensemble",
		Severity:      severity,
		Value:         42.5,
		ExpectedRange: &Range{Min: 9.25, Max: 11.25},
		DetectedAt:    base.Add(offset),
	}
}

func mustInsert(t *testing.T, s AlertStore, recs ...*AlertRecord) {
	t.Helper()
	for _, rec := range recs {
		if err := s.InsertAlert(context.Background(), rec); err != nil {
			t.Fatalf("InsertAlert(%s): %v", rec.ID, err)
		}
	}
}

func testInsertAndGet(t *testing.T, s AlertStore) {
	ctx := context.Background()
	rec := alertAt("a-1", "cpu_usage", "critical", 0)
	mustInsert(t, s, rec)

	got, err := s.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if got.MetricName != "cpu_usage" || got.Severity != "critical" || got.AnomalyType != "ensemble" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Value != 42.5 {
		t.Errorf("expected value 42.5, got %v", got.Value)
	}
	if got.ExpectedRange == nil || *got.ExpectedRange != (Range{Min: 9.25, Max: 11.25}) {
		t.Errorf("unexpected expected range: %+v", got.ExpectedRange)
	}
	if !got.DetectedAt.Equal(base) {
		t.Errorf("expected detected_at %v, got %v", base, got.DetectedAt)
	}
	if got.Acknowledged || got.AcknowledgedAt != nil {
		t.Errorf("new alert should be open: %+v", got)
	}

	noRange := alertAt("a-2", "cpu_usage", "warning", time.Second)
	noRange.ExpectedRange = nil
	mustInsert(t, s, noRange)
	got, err = s.GetAlert(ctx, "a-2")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if got.ExpectedRange != nil {
		t.Errorf("expected nil range, got %+v", got.ExpectedRange)
	}
}

func testGetMissing(t *testing.T, s AlertStore) {
	_, err := s.GetAlert(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testListActive(t *testing.T, s AlertStore) {
	ctx := context.Background()
	mustInsert(t, s,
		alertAt("old", "cpu_usage", "warning", 0),
		alertAt("mid", "memory", "critical", time.Minute),
		alertAt("new", "cpu_usage", "critical", 2*time.Minute),
	)

	all, err := s.ListActiveAlerts(ctx, "", 50)
	if err != nil {
		t.Fatalf("ListActiveAlerts: %v", err)
	}
	if got := ids(all); got != "new,mid,old" {
		t.Errorf("expected newest first, got %s", got)
	}

	critical, err := s.ListActiveAlerts(ctx, "critical", 50)
	if err != nil {
		t.Fatalf("ListActiveAlerts(critical): %v", err)
	}
	if got := ids(critical); got != "new,mid" {
		t.Errorf("expected critical only, got %s", got)
	}

	if _, err := s.AcknowledgeAlert(ctx, "mid", base.Add(time.Hour), ""); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	all, err = s.ListActiveAlerts(ctx, "", 50)
	if err != nil {
		t.Fatalf("ListActiveAlerts: %v", err)
	}
	if got := ids(all); got != "new,old" {
		t.Errorf("acknowledged alert still active: %s", got)
	}
}

func testListActiveLimit(t *testing.T, s AlertStore) {
	for i := 0; i < 7; i++ {
		mustInsert(t, s, alertAt(fmt.Sprintf("a-%d", i), "cpu_usage", "warning", time.Duration(i)*time.Second))
	}
	got, err := s.ListActiveAlerts(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("ListActiveAlerts: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 alerts, got %d", len(got))
	}
	if got[0].ID != "a-6" {
		t.Errorf("expected newest a-6 first, got %s", got[0].ID)
	}
}

func testAcknowledge(t *testing.T, s AlertStore) {
	ctx := context.Background()
	mustInsert(t, s, alertAt("a-1", "cpu_usage", "critical", 0))

	first := base.Add(10 * time.Minute)
	changed, err := s.AcknowledgeAlert(ctx, "a-1", first, "paged on-call")
	if err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	if !changed {
		t.Error("first acknowledgement should change the row")
	}

	changed, err = s.AcknowledgeAlert(ctx, "a-1", first.Add(time.Hour), "second try")
	if err != nil {
		t.Fatalf("AcknowledgeAlert again: %v", err)
	}
	if changed {
		t.Error("second acknowledgement should be a no-op")
	}

	got, err := s.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !got.Acknowledged {
		t.Error("expected acknowledged")
	}
	if got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(first) {
		t.Errorf("expected acknowledged_at %v, got %v", first, got.AcknowledgedAt)
	}
	if got.Notes != "paged on-call" {
		t.Errorf("expected original notes, got %q", got.Notes)
	}
}

func testAcknowledgeMissing(t *testing.T, s AlertStore) {
	_, err := s.AcknowledgeAlert(context.Background(), "ghost", base, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testStats(t *testing.T, s AlertStore) {
	ctx := context.Background()
	mustInsert(t, s,
		alertAt("stale", "cpu_usage", "critical", -48*time.Hour),
		alertAt("c1", "cpu_usage", "critical", 0),
		alertAt("c2", "cpu_usage", "critical", 30*time.Minute),
		alertAt("w1", "cpu_usage", "warning", 10*time.Minute),
		alertAt("m1", "memory", "warning", 5*time.Minute),
	)

	stats, err := s.AlertStats(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("AlertStats: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("expected 3 buckets, got %d: %+v", len(stats), stats)
	}

	crit := stats[0]
	if crit.MetricName != "cpu_usage" || crit.Severity != "critical" {
		t.Fatalf("unexpected first bucket: %+v", crit)
	}
	if crit.Count != 2 {
		t.Errorf("expected 2 critical cpu alerts in window, got %d", crit.Count)
	}
	if !crit.FirstSeen.Equal(base) || !crit.LastSeen.Equal(base.Add(30*time.Minute)) {
		t.Errorf("unexpected first/last seen: %v / %v", crit.FirstSeen, crit.LastSeen)
	}
	if stats[1].Severity != "warning" || stats[2].MetricName != "memory" {
		t.Errorf("unexpected bucket order: %+v %+v", stats[1], stats[2])
	}
}

func ids(recs []*AlertRecord) string {
	out := ""
	for i, r := range recs {
		if i > 0 {
			out += ","
		}
		out += r.ID
	}
	return out
}
