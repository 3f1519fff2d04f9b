package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 600, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.SQLitePath)

	assert.Zero(t, cfg.Detection.Threshold)
	assert.Zero(t, cfg.Detection.Multiplier)
	assert.Equal(t, 2.0, cfg.Detection.MultiThreshold)
	assert.Equal(t, []string{"zscore", "iqr", "sudden_change", "isolation"}, cfg.Detection.Methods)

	assert.Equal(t, 24, cfg.Alerting.StatsWindowHours)
	assert.Equal(t, "critical", cfg.Alerting.EscalateMinSeverity)

	assert.True(t, cfg.Cache.EnableCaching)
	assert.Equal(t, 300, cfg.Cache.TTLSeconds)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantField string
	}{
		{"invalid port - too low", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid port - too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }, "server.rate_limit_per_minute"},
		{"negative body limit", func(c *Config) { c.Server.MaxBodyBytes = -1 }, "server.max_body_bytes"},
		{"unknown database", func(c *Config) { c.Database.Type = "mysql" }, "database.type"},
		{"sqlite without path", func(c *Config) { c.Database.SQLitePath = "" }, "database.sqlite_path"},
		{"postgres without url", func(c *Config) { c.Database.Type = "postgres" }, "database.postgres_url"},
		{"negative threshold", func(c *Config) { c.Detection.Threshold = -1 }, "detection"},
		{"contamination out of range", func(c *Config) { c.Detection.Contamination = 1.5 }, "detection"},
		{"unknown method", func(c *Config) { c.Detection.Methods = []string{"zscore", "prophet"} }, "detection"},
		{"negative multi threshold", func(c *Config) { c.Detection.MultiThreshold = -2 }, "detection.multi_threshold"},
		{"zero stats window", func(c *Config) { c.Alerting.StatsWindowHours = 0 }, "alerting.stats_window_hours"},
		{"empty escalation severity", func(c *Config) { c.Alerting.EscalateMinSeverity = "" }, "alerting.escalate_min_severity"},
		{"bad escalation severity", func(c *Config) { c.Alerting.EscalateMinSeverity = "fatal" }, "alerting.escalate_min_severity"},
		{"negative ttl", func(c *Config) { c.Cache.TTLSeconds = -5 }, "cache.ttl_seconds"},
		{"no cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }, "cache.max_entries"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "text" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()
			require.NotEmpty(t, errs, "expected validation errors but got none")

			var fields []string
			for _, err := range errs {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				fields = append(fields, ve.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestCacheDisabledAllowsZeroEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.EnableCaching = false
	cfg.Cache.MaxEntries = 0
	assert.Empty(t, cfg.Validate())
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.Methods = []string{"zscore", "trend_break"}
	cfg.Logging.AppLogPath = "/var/log/anomaly/app.log"

	assert.Zero(t, cfg.DetectionOptions().Threshold)

	cfg.Detection.Threshold = 3
	cfg.Detection.WindowSize = 8
	opts := cfg.DetectionOptions()
	assert.Equal(t, 3.0, opts.Threshold)
	assert.Equal(t, 8, opts.WindowSize)
	assert.Zero(t, opts.Multiplier)
	assert.Equal(t, []anomaly.Method{anomaly.MethodZScore, anomaly.MethodTrendBreak}, opts.Methods)

	dbc := cfg.DatabaseConfig()
	assert.Equal(t, "sqlite", dbc.Type)
	assert.Equal(t, cfg.Database.SQLitePath, dbc.SQLitePath)

	lc := cfg.LoggingConfig()
	assert.Equal(t, "/var/log/anomaly/app.log", lc.Path)
	assert.Equal(t, 100, lc.MaxSizeMB)

	assert.Nil(t, cfg.AuditConfig())
	cfg.Logging.AuditLogPath = "/var/log/anomaly/audit.log"
	ac := cfg.AuditConfig()
	require.NotNil(t, ac)
	assert.Equal(t, "/var/log/anomaly/audit.log", ac.AuditLogPath)
	assert.Equal(t, 30, ac.MaxAge)

	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
}

func TestConfigManagerLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "anomaly.yaml")

	configContent := `
server:
  port: 9090
  allowed_origins: ["https://ops.example.com"]

database:
  type: sqlite
  sqlite_path: /tmp/alerts.db

detection:
  threshold: 3
  window_size: 7
  methods: [zscore, iqr]

alerting:
  escalate_min_severity: warning

logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/tmp/alerts.db", cfg.Database.SQLitePath)
	assert.Equal(t, 3.0, cfg.Detection.Threshold)
	assert.Equal(t, 7, cfg.Detection.WindowSize)
	assert.Equal(t, []string{"zscore", "iqr"}, cfg.Detection.Methods)
	assert.Equal(t, "warning", cfg.Alerting.EscalateMinSeverity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Keys absent from the file keep their defaults.
	assert.Zero(t, cfg.Detection.Multiplier)
	assert.Equal(t, 24, cfg.Alerting.StatsWindowHours)

	assert.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("KUBILITICS_ANOMALY_SERVER_PORT", "7070")
	t.Setenv("KUBILITICS_ANOMALY_DETECTION_THRESHOLD", "3.5")
	t.Setenv("KUBILITICS_ANOMALY_DETECTION_METHODS", "zscore,isolation")
	t.Setenv("KUBILITICS_ANOMALY_DATABASE_TYPE", "postgres")
	t.Setenv("KUBILITICS_ANOMALY_DATABASE_POSTGRES_URL", "postgres://anomaly@db/anomaly")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "anomaly.yaml")
	configContent := `
server:
  port: 8090
detection:
  threshold: 2
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	cfg := mgr.Get(ctx)

	assert.Equal(t, 7070, cfg.Server.Port, "port should be overridden by environment variable")
	assert.Equal(t, 3.5, cfg.Detection.Threshold)
	assert.Equal(t, []string{"zscore", "isolation"}, cfg.Detection.Methods)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "postgres://anomaly@db/anomaly", cfg.Database.PostgresURL)
}

func TestConfigManagerMissingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Zero(t, cfg.Detection.Threshold)
}

func TestConfigManagerValidation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "anomaly.yaml")
	configContent := `
server:
  port: 99999
database:
  type: oracle
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.type")
}

func TestConfigManagerReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "anomaly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("detection:\n  threshold: 2\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 2.0, mgr.Get(ctx).Detection.Threshold)

	require.NoError(t, os.WriteFile(configPath, []byte("detection:\n  threshold: 4\n"), 0644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 4.0, mgr.Get(ctx).Detection.Threshold)
}

func TestConfigManagerWatch(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "anomaly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("detection:\n  threshold: 2\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Load(ctx))

	updates := mgr.Watch(ctx)

	// Rename so the watcher never sees a half-written file.
	tmp := filepath.Join(dir, "anomaly.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("detection:\n  threshold: 4.5\n"), 0644))
	require.NoError(t, os.Rename(tmp, configPath))

	select {
	case cfg := <-updates:
		assert.Equal(t, 4.5, cfg.Detection.Threshold)
	case <-time.After(5 * time.Second):
		t.Fatal("no configuration update received")
	}
	assert.Equal(t, 4.5, mgr.Get(ctx).Detection.Threshold)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", " c "}))
	assert.Nil(t, splitList([]string{"", " , "}))
	assert.Equal(t, "x", strings.Join(splitList([]string{"x"}), ","))
}
