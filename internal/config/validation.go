package config

import (
	"fmt"
	"strings"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: fmt.Sprintf("rate_limit_per_minute cannot be negative, got %d", c.Server.RateLimitPerMinute),
		})
	}

	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.max_body_bytes",
			Message: fmt.Sprintf("max_body_bytes cannot be negative, got %d", c.Server.MaxBodyBytes),
		})
	}

	// Validate database configuration
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.sqlite_path",
				Message: "sqlite_path is required when database type is sqlite",
			})
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.postgres_url",
				Message: "postgres_url is required when database type is postgres",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "database.type",
			Message: fmt.Sprintf("invalid database type '%s', must be one of: sqlite, postgres", c.Database.Type),
		})
	}

	// Detection defaults go through the same checks as request options.
	if err := c.DetectionOptions().Validate(); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "detection",
			Message: err.Error(),
		})
	}
	if c.Detection.MultiThreshold < 0 {
		errs = append(errs, &ValidationError{
			Field:   "detection.multi_threshold",
			Message: fmt.Sprintf("multi_threshold cannot be negative, got %g", c.Detection.MultiThreshold),
		})
	}

	// Validate alerting configuration
	if c.Alerting.StatsWindowHours < 1 {
		errs = append(errs, &ValidationError{
			Field:   "alerting.stats_window_hours",
			Message: fmt.Sprintf("stats_window_hours must be at least 1, got %d", c.Alerting.StatsWindowHours),
		})
	}
	if sev, err := anomaly.ParseSeverity(c.Alerting.EscalateMinSeverity); err != nil || sev == "" {
		errs = append(errs, &ValidationError{
			Field:   "alerting.escalate_min_severity",
			Message: fmt.Sprintf("invalid severity '%s', must be one of: warning, critical", c.Alerting.EscalateMinSeverity),
		})
	}

	// Validate cache configuration
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: fmt.Sprintf("ttl_seconds cannot be negative, got %d", c.Cache.TTLSeconds),
		})
	}
	if c.Cache.EnableCaching && c.Cache.MaxEntries < 1 {
		errs = append(errs, &ValidationError{
			Field:   "cache.max_entries",
			Message: fmt.Sprintf("max_entries must be at least 1 when caching is enabled, got %d", c.Cache.MaxEntries),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	return errs
}
