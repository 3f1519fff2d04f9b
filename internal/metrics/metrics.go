package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Anomaly service metrics for production monitoring
var (
	// Detection metrics
	DetectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_detection_runs_total",
			Help: "Total number of detector runs",
		},
		[]string{"method", "status"}, // status: ok/insufficient/error
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_anomaly_detection_duration_seconds",
			Help:    "Detection duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
		[]string{"method"}, // ensemble, multi, or a single method id
	)

	PointAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_point_anomalies_total",
			Help: "Total number of points flagged by individual detectors",
		},
		[]string{"method", "severity"},
	)

	ConfirmedAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_confirmed_anomalies_total",
			Help: "Total number of anomalies confirmed by two or more detectors",
		},
		[]string{"severity"},
	)

	MultiSeriesAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_multi_series_anomalies_total",
			Help: "Total number of indices flagged by two or more metrics at once",
		},
		[]string{"severity"},
	)

	// Alert metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"anomaly_type", "severity"},
	)

	AlertsAcknowledgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_alerts_acknowledged_total",
			Help: "Total number of acknowledgement requests",
		},
		[]string{"result"}, // result: changed/noop
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_store_errors_total",
			Help: "Total number of alert store failures",
		},
		[]string{"op"},
	)

	// Cache metrics
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_cache_requests_total",
			Help: "Detection result cache lookups",
		},
		[]string{"result"}, // result: hit/miss
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_anomaly_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_anomaly_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_anomaly_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
