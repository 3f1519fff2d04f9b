package config

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/audit"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
	"github.com/kubilitics/kubilitics-anomaly/internal/logging"
)

// Package config provides configuration management for kubilitics-anomaly.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (KUBILITICS_ANOMALY_* prefix, "." becomes "_")
//   2. YAML config file (default: /etc/kubilitics/anomaly.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host, port: listen address (default 0.0.0.0:8090)
//      - allowed_origins: CORS and WebSocket origins
//      - rate_limit_per_minute: per-client request budget
//      - max_body_bytes: request body cap for /api/v1 (default 1MiB)
//
//   2. Database
//      - type: "sqlite" | "postgres"
//      - sqlite_path: path to SQLite file
//      - postgres_url: PostgreSQL connection string
//
//   3. Detection (hot-reloadable)
//      - threshold, multiplier, window_size, sensitivity, contamination:
//        ensemble defaults; 0 keeps each detector's own default
//      - multi_threshold: z-score threshold for multi-metric analysis
//      - methods: default ensemble method set
//
//   4. Alerting
//      - stats_window_hours: default window of alert statistics
//      - escalate_min_severity: lowest severity a scan turns into an alert
//
//   5. Cache
//      - enable_caching, ttl_seconds, max_entries
//
//   6. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "console"
//      - app_log_path, audit_log_path and rotation settings
//
// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Host string
		Port int
		// AllowedOrigins is a list of origins permitted for CORS and WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins     []string
		RateLimitPerMinute int
		// MaxBodyBytes caps /api/v1 request bodies. Zero disables the cap.
		MaxBodyBytes int64
	}

	Database struct {
		Type        string
		SQLitePath  string
		PostgresURL string
	}

	Detection struct {
		Threshold      float64
		Multiplier     float64
		WindowSize     int
		Sensitivity    float64
		Contamination  float64
		MultiThreshold float64
		Methods        []string
	}

	Alerting struct {
		StatsWindowHours    int
		EscalateMinSeverity string
	}

	Cache struct {
		EnableCaching bool
		TTLSeconds    int
		MaxEntries    int
	}

	Logging struct {
		Level        string
		Format       string
		AppLogPath   string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
	}
}

// DetectionOptions converts the detection section into ensemble defaults.
// Method names are passed through unchecked; Validate reports bad ones.
func (c *Config) DetectionOptions() anomaly.Options {
	o := anomaly.Options{
		Threshold:     c.Detection.Threshold,
		Multiplier:    c.Detection.Multiplier,
		WindowSize:    c.Detection.WindowSize,
		Sensitivity:   c.Detection.Sensitivity,
		Contamination: c.Detection.Contamination,
	}
	for _, m := range c.Detection.Methods {
		o.Methods = append(o.Methods, anomaly.Method(m))
	}
	return o
}

// DatabaseConfig converts the database section for db.Open.
func (c *Config) DatabaseConfig() db.Config {
	return db.Config{
		Type:        c.Database.Type,
		SQLitePath:  c.Database.SQLitePath,
		PostgresURL: c.Database.PostgresURL,
	}
}

// LoggingConfig converts the logging section for the application logger.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Path:       c.Logging.AppLogPath,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

// AuditConfig converts the logging section for the audit logger. It returns
// nil when no audit path is configured.
func (c *Config) AuditConfig() *audit.Config {
	if c.Logging.AuditLogPath == "" {
		return nil
	}
	cfg := audit.DefaultConfig()
	cfg.AuditLogPath = c.Logging.AuditLogPath
	cfg.MaxSize = c.Logging.MaxSizeMB
	cfg.MaxBackups = c.Logging.MaxBackups
	cfg.MaxAge = c.Logging.MaxAgeDays
	cfg.Compress = c.Logging.Compress
	return cfg
}

// CacheTTL returns the cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and emits each successfully reloaded
	// configuration. Only the detection section is applied live.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "/etc/kubilitics/anomaly.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
