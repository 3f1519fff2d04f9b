package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/cache"
	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
)

// Package analytics hosts the anomaly detectors behind a service-facing API.
//
// The detectors in the anomaly subpackage are pure functions. The Engine adds
// what a long-running service needs around them:
//   - Default options, loaded from configuration and swappable at runtime
//   - A result cache keyed by series and effective options
//   - Prometheus metrics per method and severity
//   - Debug logging of every run
//
// The Scanner builds on the Engine and turns confirmed anomalies into alerts.

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Defaults fill the zero fields of every request's options.
	Defaults anomaly.Options

	// MultiThreshold is used by MultiDimensional when the caller passes 0.
	MultiThreshold float64

	// CacheEntries bounds the result cache; 0 disables caching.
	CacheEntries int
	CacheTTL     time.Duration
}

// Engine runs detectors with configured defaults. It is safe for concurrent
// use. Results may be served from cache and shared between callers, so they
// must be treated as read-only.
type Engine struct {
	mu             sync.RWMutex
	defaults       anomaly.Options
	multiThreshold float64

	ensembleCache *cache.Cache[*anomaly.EnsembleResult]
	singleCache   *cache.Cache[*anomaly.DetectionResult]
	multiCache    *cache.Cache[*anomaly.MultiDimensionalResult]

	logger *zap.Logger
}

// NewEngine validates cfg and creates an engine. A nil logger disables logging.
func NewEngine(cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger}
	if err := e.SetDefaults(cfg.Defaults, cfg.MultiThreshold); err != nil {
		return nil, err
	}
	if cfg.CacheEntries > 0 {
		e.ensembleCache = cache.New[*anomaly.EnsembleResult](cfg.CacheEntries, cfg.CacheTTL)
		e.singleCache = cache.New[*anomaly.DetectionResult](cfg.CacheEntries, cfg.CacheTTL)
		e.multiCache = cache.New[*anomaly.MultiDimensionalResult](cfg.CacheEntries, cfg.CacheTTL)
	}
	return e, nil
}

// SetDefaults replaces the default options. Cached results were computed with
// the old defaults and are dropped.
func (e *Engine) SetDefaults(defaults anomaly.Options, multiThreshold float64) error {
	if err := defaults.Validate(); err != nil {
		return err
	}
	if multiThreshold < 0 {
		return &anomaly.ConfigurationError{Param: "multi_threshold", Reason: fmt.Sprintf("must not be negative, got %g", multiThreshold)}
	}

	e.mu.Lock()
	e.defaults = defaults
	e.defaults.Methods = append([]anomaly.Method(nil), defaults.Methods...)
	e.multiThreshold = multiThreshold
	e.mu.Unlock()

	e.purge()
	e.logger.Info("Detection defaults updated",
		zap.Any("defaults", defaults),
		zap.Float64("multi_threshold", multiThreshold))
	return nil
}

// Defaults returns the current default options.
func (e *Engine) Defaults() (anomaly.Options, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d := e.defaults
	d.Methods = append([]anomaly.Method(nil), e.defaults.Methods...)
	return d, e.multiThreshold
}

// Detect runs the ensemble over series. Zero fields of opts take the engine
// defaults.
func (e *Engine) Detect(ctx context.Context, series []float64, opts anomaly.Options) (*anomaly.EnsembleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defaults, _ := e.Defaults()
	effective := opts.Merge(defaults)

	key, cacheable := e.key("ensemble", series, effective)
	if cacheable && e.ensembleCache != nil {
		if res, ok := e.ensembleCache.Get(key); ok {
			return res, nil
		}
	}

	start := time.Now()
	res, err := anomaly.DetectAll(series, effective)
	elapsed := time.Since(start)
	metrics.DetectionDuration.WithLabelValues("ensemble").Observe(elapsed.Seconds())
	if err != nil {
		metrics.DetectionRunsTotal.WithLabelValues("ensemble", "error").Inc()
		return nil, err
	}

	for _, r := range res.Results {
		recordResult(r)
	}
	metrics.DetectionRunsTotal.WithLabelValues("ensemble", "ok").Inc()
	for _, c := range res.Confirmed {
		metrics.ConfirmedAnomaliesTotal.WithLabelValues(string(c.Severity)).Inc()
	}

	e.logger.Debug("Ensemble detection completed",
		zap.Int("data_points", res.Summary.DataPoints),
		zap.Int("confirmed", res.Summary.ConfirmedAnomalies),
		zap.Int("critical", res.Summary.CriticalAnomalies),
		zap.Duration("duration", elapsed))

	if cacheable && e.ensembleCache != nil {
		e.ensembleCache.Set(key, res)
	}
	return res, nil
}

// DetectMethod runs a single detector.
func (e *Engine) DetectMethod(ctx context.Context, m anomaly.Method, series []float64, opts anomaly.Options) (*anomaly.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defaults, _ := e.Defaults()
	effective := opts.Merge(defaults)
	effective.Methods = nil

	key, cacheable := e.key(string(m), series, effective)
	if cacheable && e.singleCache != nil {
		if res, ok := e.singleCache.Get(key); ok {
			return res, nil
		}
	}

	start := time.Now()
	res, err := anomaly.Run(m, series, effective)
	elapsed := time.Since(start)
	if err != nil {
		metrics.DetectionRunsTotal.WithLabelValues(string(m), "error").Inc()
		return nil, err
	}
	metrics.DetectionDuration.WithLabelValues(string(m)).Observe(elapsed.Seconds())
	recordResult(res)

	e.logger.Debug("Detector completed",
		zap.String("method", string(m)),
		zap.Int("anomalies", len(res.Anomalies)),
		zap.String("note", res.Note),
		zap.Duration("duration", elapsed))

	if cacheable && e.singleCache != nil {
		e.singleCache.Set(key, res)
	}
	return res, nil
}

// MultiDimensional correlates several metrics. A zero threshold takes the
// engine default.
func (e *Engine) MultiDimensional(ctx context.Context, series map[string][]float64, threshold float64) (*anomaly.MultiDimensionalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if threshold == 0 {
		_, threshold = e.Defaults()
	}

	key, cacheable := e.key("multi", series, threshold)
	if cacheable && e.multiCache != nil {
		if res, ok := e.multiCache.Get(key); ok {
			return res, nil
		}
	}

	start := time.Now()
	res, err := anomaly.MultiDimensional(series, threshold)
	elapsed := time.Since(start)
	metrics.DetectionDuration.WithLabelValues("multi").Observe(elapsed.Seconds())
	if err != nil {
		metrics.DetectionRunsTotal.WithLabelValues("multi", "error").Inc()
		return nil, err
	}
	status := "ok"
	if res.Note != "" && res.Length == 0 {
		status = "insufficient"
	}
	metrics.DetectionRunsTotal.WithLabelValues("multi", status).Inc()
	for _, a := range res.Anomalies {
		metrics.MultiSeriesAnomaliesTotal.WithLabelValues(string(a.Severity)).Inc()
	}

	e.logger.Debug("Multi-dimensional analysis completed",
		zap.Int("metrics", res.TotalMetrics),
		zap.Int("length", res.Length),
		zap.Int("anomalies", len(res.Anomalies)),
		zap.String("note", res.Note),
		zap.Duration("duration", elapsed))

	if cacheable && e.multiCache != nil {
		e.multiCache.Set(key, res)
	}
	return res, nil
}

// key hashes a request. NaN and infinite values cannot be JSON encoded, so
// such requests bypass the cache.
func (e *Engine) key(op string, parts ...any) (string, bool) {
	if e.ensembleCache == nil {
		return "", false
	}
	k, err := cache.Key(op, parts...)
	if err != nil {
		e.logger.Debug("Skipping result cache", zap.String("op", op), zap.Error(err))
		return "", false
	}
	return k, true
}

func (e *Engine) purge() {
	if e.ensembleCache == nil {
		return
	}
	e.ensembleCache.Purge()
	e.singleCache.Purge()
	e.multiCache.Purge()
}

func recordResult(r *anomaly.DetectionResult) {
	status := "ok"
	if r.Note != "" && len(r.Anomalies) == 0 {
		status = "insufficient"
	}
	metrics.DetectionRunsTotal.WithLabelValues(string(r.Method), status).Inc()
	for _, a := range r.Anomalies {
		metrics.PointAnomaliesTotal.WithLabelValues(string(r.Method), string(a.Severity)).Inc()
	}
}
