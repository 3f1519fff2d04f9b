package config

import (
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/middleware"
)

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 600
	cfg.Server.MaxBodyBytes = middleware.DefaultMaxBodyBytes

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/kubilitics/anomaly.db"
	cfg.Database.PostgresURL = ""

	// Detection defaults. Zero keeps each detector's own default; threshold
	// and window_size are shared by several detectors.
	cfg.Detection.Threshold = 0
	cfg.Detection.Multiplier = 0
	cfg.Detection.WindowSize = 0
	cfg.Detection.Sensitivity = 0
	cfg.Detection.Contamination = 0
	cfg.Detection.MultiThreshold = anomaly.DefaultMultiThreshold
	for _, m := range anomaly.DefaultMethods {
		cfg.Detection.Methods = append(cfg.Detection.Methods, string(m))
	}

	// Alerting defaults
	cfg.Alerting.StatsWindowHours = 24
	cfg.Alerting.EscalateMinSeverity = string(anomaly.SeverityCritical)

	// Cache defaults
	cfg.Cache.EnableCaching = true
	cfg.Cache.TTLSeconds = 300
	cfg.Cache.MaxEntries = 1024

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = ""
	cfg.Logging.AuditLogPath = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
