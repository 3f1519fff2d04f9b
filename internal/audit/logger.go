package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-anomaly/internal/logging"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Alert lifecycle
	LogAlertCreated(ctx context.Context, alertID, metricName, severity string) error
	LogAlertAcknowledged(ctx context.Context, alertID string, changed bool) error
	LogAlertFailed(ctx context.Context, op, metricName string, err error) error

	// LogDetection records a completed ensemble or multi-metric run.
	LogDetection(ctx context.Context, metricName string, methods []string, confirmed int, duration time.Duration) error

	LogConfigReloaded(ctx context.Context, source string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// BufferSize is the number of events held before a forced flush
	BufferSize int

	// FlushInterval is how often buffered events are written
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	bufferSize  int
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates an audit logger writing JSON lines to config.AuditLogPath.
// Marshalling failures are reported on appLogger, which may be nil.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}
	interval := config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	rotator := logging.Rotator(config.AuditLogPath, logging.Config{
		MaxSizeMB:  config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAgeDays: config.MaxAge,
		Compress:   config.Compress,
	})
	// Audit logs are always INFO level, append-only.
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		bufferSize:  bufferSize,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(interval),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}
	if event.SourceIP == "" {
		event.SourceIP, _ = ctx.Value(sourceIPKey{}).(string)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= l.bufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogAlertCreated(ctx context.Context, alertID, metricName, severity string) error {
	event := NewEvent(EventAlertCreated).
		WithResource(alertID, "alert").
		WithAction("create").
		WithResult(ResultSuccess).
		WithMetadata("metric_name", metricName).
		WithMetadata("severity", severity).
		WithDescription(fmt.Sprintf("Alert %s created for %s (%s)", alertID, metricName, severity))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogAlertAcknowledged(ctx context.Context, alertID string, changed bool) error {
	result, desc := ResultSuccess, fmt.Sprintf("Alert %s acknowledged", alertID)
	if !changed {
		result, desc = ResultNoop, fmt.Sprintf("Alert %s was already acknowledged", alertID)
	}
	event := NewEvent(EventAlertAcknowledged).
		WithResource(alertID, "alert").
		WithAction("acknowledge").
		WithResult(result).
		WithDescription(desc)

	return l.Log(ctx, event)
}

func (l *auditLogger) LogAlertFailed(ctx context.Context, op, metricName string, err error) error {
	event := NewEvent(EventAlertFailed).
		WithResource(metricName, "metric").
		WithAction(op).
		WithError(err, "persistence_error").
		WithDescription(fmt.Sprintf("Alert %s failed", op))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogDetection(ctx context.Context, metricName string, methods []string, confirmed int, duration time.Duration) error {
	event := NewEvent(EventDetectionCompleted).
		WithResource(metricName, "metric").
		WithAction("detect").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("methods", methods).
		WithMetadata("confirmed", confirmed).
		WithDescription(fmt.Sprintf("Detection on %s confirmed %d anomalies", metricName, confirmed))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogConfigReloaded(ctx context.Context, source string) error {
	event := NewEvent(EventConfigReload).
		WithResource(source, "config").
		WithResult(ResultSuccess).
		WithDescription("Detection defaults reloaded")

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close stops the flusher and writes any buffered events. It is safe to call
// more than once.
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

type sourceIPKey struct{}

// WithSourceIP records the client address of the request being served.
func WithSourceIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, sourceIPKey{}, ip)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// nopLogger discards every event.
type nopLogger struct{}

// NewNopLogger returns a Logger that records nothing.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error                             { return nil }
func (nopLogger) LogAlertCreated(context.Context, string, string, string) error { return nil }
func (nopLogger) LogAlertAcknowledged(context.Context, string, bool) error      { return nil }
func (nopLogger) LogAlertFailed(context.Context, string, string, error) error   { return nil }
func (nopLogger) LogDetection(context.Context, string, []string, int, time.Duration) error {
	return nil
}
func (nopLogger) LogConfigReloaded(context.Context, string) error { return nil }
func (nopLogger) Sync() error                                     { return nil }
func (nopLogger) Close() error                                    { return nil }
