package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/pkg/types"
)

// readyTimeout bounds the store ping behind /ready.
const readyTimeout = 2 * time.Second

// DetectionConfig is the body of GET /api/v1/config/detection.
type DetectionConfig struct {
	Defaults            anomaly.Options  `json:"defaults"`
	MultiThreshold      float64          `json:"multi_threshold"`
	EscalateMinSeverity anomaly.Severity `json:"escalate_min_severity"`
	AvailableMethods    []anomaly.Method `json:"available_methods"`
}

// requestEscalation adapts a CreateAlertRequest to alerting.Escalation.
type requestEscalation struct {
	severity anomaly.Severity
	value    float64
	expected *anomaly.Range
}

func (e requestEscalation) AlertSeverity() anomaly.Severity     { return e.severity }
func (e requestEscalation) AlertValue() float64                 { return e.value }
func (e requestEscalation) AlertExpectedRange() *anomaly.Range { return e.expected }

// toOptions converts the wire options, resolving method names.
func toOptions(o types.DetectOptions) (anomaly.Options, error) {
	opts := anomaly.Options{
		Threshold:     o.Threshold,
		Multiplier:    o.Multiplier,
		WindowSize:    o.WindowSize,
		Sensitivity:   o.Sensitivity,
		Contamination: o.Contamination,
	}
	for _, name := range o.Methods {
		m, err := anomaly.ParseMethod(name)
		if err != nil {
			return anomaly.Options{}, err
		}
		opts.Methods = append(opts.Methods, m)
	}
	return opts, nil
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// handleReady reports whether the alert store is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.alerts.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, types.HealthResponse{
			Status:    "unavailable",
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
	})
}

// handleDetect runs the ensemble over one series.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req types.DetectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts, err := toOptions(req.DetectOptions)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	start := time.Now()
	res, err := s.engine.Detect(r.Context(), req.Series, opts)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	methods := make([]string, 0, len(res.Summary.MethodsUsed))
	for _, m := range res.Summary.MethodsUsed {
		methods = append(methods, string(m))
	}
	if err := s.audit.LogDetection(r.Context(), "adhoc", methods, len(res.Confirmed), time.Since(start)); err != nil {
		s.logger.Warn("Failed to audit detection", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDetectMethod runs a single detector named in the path.
func (s *Server) handleDetectMethod(w http.ResponseWriter, r *http.Request) {
	m, err := anomaly.ParseMethod(mux.Vars(r)["method"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	var req types.DetectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts, err := toOptions(req.DetectOptions)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	res, err := s.engine.DetectMethod(r.Context(), m, req.Series, opts)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDetectMulti correlates several metrics.
func (s *Server) handleDetectMulti(w http.ResponseWriter, r *http.Request) {
	var req types.MultiDetectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.MultiDimensional(r.Context(), req.Metrics, req.Threshold)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleScan detects and escalates in one call.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts, err := toOptions(req.DetectOptions)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	policy, err := s.escalationPolicy(req.MinSeverity)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	res, err := s.scanner.Scan(r.Context(), req.MetricName, req.Series, opts, policy)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleScanMulti is the multi-metric variant of handleScan.
func (s *Server) handleScanMulti(w http.ResponseWriter, r *http.Request) {
	var req types.MultiScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	policy, err := s.escalationPolicy(req.MinSeverity)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	res, err := s.scanner.ScanMulti(r.Context(), req.Name, req.Metrics, req.Threshold, policy)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListAlerts returns open alerts, optionally filtered by ?severity=.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	sev, err := anomaly.ParseSeverity(r.URL.Query().Get("severity"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	alerts, err := s.alerts.GetActiveAlerts(r.Context(), sev)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AlertListResponse{Alerts: alerts, Count: len(alerts)})
}

// handleCreateAlert raises an alert from an externally detected anomaly.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req types.CreateAlertRequest
	if !decodeStrictBody(w, r, &req) {
		return
	}

	esc := requestEscalation{severity: anomaly.Severity(req.Severity), value: req.Value}
	if req.ExpectedRange != nil {
		esc.expected = &anomaly.Range{Min: req.ExpectedRange.Min, Max: req.ExpectedRange.Max}
	}

	alert, err := s.alerts.CreateAlert(r.Context(), req.MetricName, esc, req.AnomalyType)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// handleGetAlert returns one alert, open or acknowledged.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleAcknowledgeAlert acknowledges an alert. The body is optional.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req types.AcknowledgeAlertRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	alert, err := s.alerts.AcknowledgeAlert(r.Context(), mux.Vars(r)["id"], req.Notes)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleAlertStats aggregates recent alerts. ?hours= defaults to the
// configured window.
func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	hours := 0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, types.ErrCodeInvalidRequest, "hours must be an integer")
			return
		}
		hours = h
	}

	stats, err := s.alerts.GetAnomalyStats(r.Context(), hours)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDetectionConfig exposes the defaults currently in effect.
func (s *Server) handleDetectionConfig(w http.ResponseWriter, r *http.Request) {
	defaults, multi := s.engine.Defaults()

	s.mu.RLock()
	minSev := s.minSeverity
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, DetectionConfig{
		Defaults:            defaults,
		MultiThreshold:      multi,
		EscalateMinSeverity: minSev,
		AvailableMethods:    anomaly.AllMethods,
	})
}
