package types

// Package types defines the public REST contracts of kubilitics-anomaly.
//
// Detection responses reuse the result types of the detection engine and are
// not repeated here.

import "time"

// Request types

// DetectOptions are the tunable detector parameters. A zero field takes the
// server default.
type DetectOptions struct {
	Threshold     float64  `json:"threshold,omitempty"`
	Multiplier    float64  `json:"multiplier,omitempty"`
	WindowSize    int      `json:"window_size,omitempty"`
	Sensitivity   float64  `json:"sensitivity,omitempty"`
	Contamination float64  `json:"contamination,omitempty"`
	Methods       []string `json:"methods,omitempty"`
}

// DetectRequest runs the ensemble, or one detector, over a series.
type DetectRequest struct {
	Series []float64 `json:"series"`
	DetectOptions
}

// MultiDetectRequest correlates several metrics sampled at the same instants.
type MultiDetectRequest struct {
	Metrics   map[string][]float64 `json:"metrics"`
	Threshold float64              `json:"threshold,omitempty"`
}

// ScanRequest runs the ensemble and raises alerts for confirmed anomalies at
// or above MinSeverity (server default when empty).
type ScanRequest struct {
	MetricName  string    `json:"metric_name"`
	Series      []float64 `json:"series"`
	MinSeverity string    `json:"min_severity,omitempty"`
	DetectOptions
}

// MultiScanRequest is the multi-metric variant of ScanRequest. Name labels
// the resulting alerts; it defaults to the metric names joined with "+".
type MultiScanRequest struct {
	Name        string               `json:"name,omitempty"`
	Metrics     map[string][]float64 `json:"metrics"`
	Threshold   float64              `json:"threshold,omitempty"`
	MinSeverity string               `json:"min_severity,omitempty"`
}

// Range is an expected band of values.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CreateAlertRequest raises an alert directly, for callers that run their own
// detection.
type CreateAlertRequest struct {
	MetricName    string  `json:"metric_name"`
	AnomalyType   string  `json:"anomaly_type"`
	Severity      string  `json:"severity"`
	Value         float64 `json:"value"`
	ExpectedRange *Range  `json:"expected_range,omitempty"`
}

// AcknowledgeAlertRequest acknowledges an open alert.
type AcknowledgeAlertRequest struct {
	Notes string `json:"notes,omitempty"`
}

// Response types

// AlertListResponse wraps a page of alerts.
type AlertListResponse struct {
	Alerts interface{} `json:"alerts"`
	Count  int         `json:"count"`
}

// HealthResponse answers /health and /ready.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBodyTooLarge     = "BODY_TOO_LARGE"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)
