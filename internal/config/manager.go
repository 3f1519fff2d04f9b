package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// KUBILITICS_ANOMALY_DETECTION_THRESHOLD.
const EnvPrefix = "KUBILITICS_ANOMALY"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// A missing file is fine: defaults plus env vars still apply.
	if err := readConfig(v); err != nil {
		return err
	}

	cfg := unmarshalConfig(v)

	m.mu.Lock()
	m.viper = v
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads. Changes that fail
// validation are dropped and the previous configuration stays in effect.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.watchOnce.Do(func() {
		m.mu.RLock()
		v := m.viper
		m.mu.RUnlock()
		if v == nil {
			return
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			if ctx.Err() != nil {
				return
			}
			cfg := unmarshalConfig(v)
			if len(cfg.Validate()) > 0 {
				return
			}
			m.mu.Lock()
			m.config = cfg
			m.mu.Unlock()

			select {
			case m.watchChan <- *cfg:
			default:
				// Channel full, skip this update
			}
		})
		v.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	m.mu.RLock()
	v := m.viper
	m.mu.RUnlock()
	if v == nil {
		return m.Load(ctx)
	}

	if err := readConfig(v); err != nil {
		return err
	}
	cfg := unmarshalConfig(v)

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func readConfig(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	v.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)
	v.SetDefault("server.max_body_bytes", defaults.Server.MaxBodyBytes)

	// Database defaults
	v.SetDefault("database.type", defaults.Database.Type)
	v.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	v.SetDefault("database.postgres_url", defaults.Database.PostgresURL)

	// Detection defaults
	v.SetDefault("detection.threshold", defaults.Detection.Threshold)
	v.SetDefault("detection.multiplier", defaults.Detection.Multiplier)
	v.SetDefault("detection.window_size", defaults.Detection.WindowSize)
	v.SetDefault("detection.sensitivity", defaults.Detection.Sensitivity)
	v.SetDefault("detection.contamination", defaults.Detection.Contamination)
	v.SetDefault("detection.multi_threshold", defaults.Detection.MultiThreshold)
	v.SetDefault("detection.methods", defaults.Detection.Methods)

	// Alerting defaults
	v.SetDefault("alerting.stats_window_hours", defaults.Alerting.StatsWindowHours)
	v.SetDefault("alerting.escalate_min_severity", defaults.Alerting.EscalateMinSeverity)

	// Cache defaults
	v.SetDefault("cache.enable_caching", defaults.Cache.EnableCaching)
	v.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	v.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	v.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig reads every key into a fresh Config.
func unmarshalConfig(v *viper.Viper) *Config {
	cfg := &Config{}

	// Server
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.AllowedOrigins = splitList(v.GetStringSlice("server.allowed_origins"))
	cfg.Server.RateLimitPerMinute = v.GetInt("server.rate_limit_per_minute")
	cfg.Server.MaxBodyBytes = v.GetInt64("server.max_body_bytes")

	// Database
	cfg.Database.Type = v.GetString("database.type")
	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = v.GetString("database.postgres_url")

	// Detection
	cfg.Detection.Threshold = v.GetFloat64("detection.threshold")
	cfg.Detection.Multiplier = v.GetFloat64("detection.multiplier")
	cfg.Detection.WindowSize = v.GetInt("detection.window_size")
	cfg.Detection.Sensitivity = v.GetFloat64("detection.sensitivity")
	cfg.Detection.Contamination = v.GetFloat64("detection.contamination")
	cfg.Detection.MultiThreshold = v.GetFloat64("detection.multi_threshold")
	cfg.Detection.Methods = splitList(v.GetStringSlice("detection.methods"))

	// Alerting
	cfg.Alerting.StatsWindowHours = v.GetInt("alerting.stats_window_hours")
	cfg.Alerting.EscalateMinSeverity = v.GetString("alerting.escalate_min_severity")

	// Cache
	cfg.Cache.EnableCaching = v.GetBool("cache.enable_caching")
	cfg.Cache.TTLSeconds = v.GetInt("cache.ttl_seconds")
	cfg.Cache.MaxEntries = v.GetInt("cache.max_entries")

	// Logging
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.AppLogPath = v.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = v.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
	cfg.Logging.Compress = v.GetBool("logging.compress")

	return cfg
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
