package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	config := &Config{
		AuditLogPath:  path,
		MaxSize:       10,
		MaxBackups:    3,
		MaxAge:        7,
		FlushInterval: time.Hour,
	}
	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

// readEvents decodes the JSON event embedded in each audit line's message.
func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}

	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode line %q: %v", line, err)
		}
		var ev Event
		if err := json.Unmarshal([]byte(entry.Message), &ev); err != nil {
			t.Fatalf("decode event %q: %v", entry.Message, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestNewLoggerRequiresPath(t *testing.T) {
	_, err := NewLogger(&Config{}, nil)
	if err == nil {
		t.Fatal("Expected error for empty audit log path")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.BufferSize != 100 {
		t.Errorf("Expected buffer size 100, got %d", config.BufferSize)
	}
}

func TestAlertLifecycleEvents(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := WithCorrelationID(context.Background(), "req-42")
	ctx = WithSourceIP(ctx, "10.0.0.7")

	if err := logger.LogAlertCreated(ctx, "alert-1", "cpu_usage", "critical"); err != nil {
		t.Fatalf("LogAlertCreated: %v", err)
	}
	if err := logger.LogAlertAcknowledged(ctx, "alert-1", true); err != nil {
		t.Fatalf("LogAlertAcknowledged: %v", err)
	}
	if err := logger.LogAlertAcknowledged(ctx, "alert-1", false); err != nil {
		t.Fatalf("LogAlertAcknowledged: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	created := events[0]
	if created.EventType != EventAlertCreated {
		t.Errorf("Expected %s, got %s", EventAlertCreated, created.EventType)
	}
	if created.CorrelationID != "req-42" {
		t.Errorf("Expected correlation id from context, got %q", created.CorrelationID)
	}
	if created.SourceIP != "10.0.0.7" {
		t.Errorf("Expected source ip from context, got %q", created.SourceIP)
	}
	if created.Resource != "alert-1" || created.Metadata["severity"] != "critical" {
		t.Errorf("Unexpected created event: %+v", created)
	}
	if events[1].Result != ResultSuccess {
		t.Errorf("Expected first acknowledgement to succeed, got %s", events[1].Result)
	}
	if events[2].Result != ResultNoop {
		t.Errorf("Expected repeated acknowledgement to be noop, got %s", events[2].Result)
	}
}

func TestLogAlertFailed(t *testing.T) {
	logger, path := newTestLogger(t)

	if err := logger.LogAlertFailed(context.Background(), "create", "cpu_usage", errors.New("connection refused")); err != nil {
		t.Fatalf("LogAlertFailed: %v", err)
	}
	_ = logger.Sync()

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Result != ResultFailure || events[0].Error != "connection refused" {
		t.Errorf("Unexpected failure event: %+v", events[0])
	}
}

func TestLogDetection(t *testing.T) {
	logger, path := newTestLogger(t)

	err := logger.LogDetection(context.Background(), "latency_p99", []string{"zscore", "iqr"}, 2, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("LogDetection: %v", err)
	}
	_ = logger.Sync()

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].DurationMs != 1500 {
		t.Errorf("Expected duration 1500ms, got %d", events[0].DurationMs)
	}
	if events[0].Metadata["confirmed"] != float64(2) {
		t.Errorf("Expected confirmed=2, got %v", events[0].Metadata["confirmed"])
	}
}

func TestBufferFlushesWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(&Config{AuditLogPath: path, BufferSize: 2, FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	_ = logger.LogConfigReloaded(ctx, "config.yaml")
	_ = logger.LogConfigReloaded(ctx, "config.yaml")

	// The second event fills the buffer and forces a write without Sync.
	if got := len(readEvents(t, path)); got != 2 {
		t.Errorf("Expected 2 flushed events, got %d", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, _ := newTestLogger(t)
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEventBuilder(t *testing.T) {
	event := NewEvent(EventServerStarted).
		WithCorrelationID("c-1").
		WithUser("operator").
		WithAction("start").
		WithError(nil, "ignored")

	if event.Result != ResultPending {
		t.Errorf("nil error should not change result, got %s", event.Result)
	}
	event.WithError(errors.New("bind: address in use"), "listen_error")
	if event.Result != ResultFailure || event.ErrorCode != "listen_error" {
		t.Errorf("Unexpected event after error: %+v", event)
	}
}

func TestCorrelationIDs(t *testing.T) {
	if GetCorrelationID(context.Background()) != "" {
		t.Error("Expected empty correlation id")
	}
	a, b := GenerateCorrelationID(), GenerateCorrelationID()
	if a == "" || a == b {
		t.Errorf("Expected unique ids, got %q and %q", a, b)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	if err := l.LogAlertCreated(context.Background(), "a", "m", "warning"); err != nil {
		t.Errorf("nop logger returned %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nop Close returned %v", err)
	}
}
