package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/alerting"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/audit"
	"github.com/kubilitics/kubilitics-anomaly/internal/config"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
	"github.com/kubilitics/kubilitics-anomaly/internal/middleware"
)

// Server is the kubilitics-anomaly HTTP service.
type Server struct {
	config *config.Config

	// Core components
	store   db.AlertStore
	engine  *analytics.Engine
	alerts  *alerting.Manager
	scanner *analytics.Scanner
	hub     *Hub
	limiter *middleware.RateLimiter

	logger *zap.Logger
	audit  audit.Logger

	// HTTP server
	handler    http.Handler
	httpServer *http.Server

	// Lifecycle
	wg sync.WaitGroup

	// State
	mu          sync.RWMutex
	running     bool
	addr        string
	minSeverity anomaly.Severity
}

// New wires the service around an open alert store. The caller owns store
// and closes it after Stop.
func New(cfg *config.Config, store db.AlertStore, logger *zap.Logger, auditLogger audit.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("alert store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}

	s := &Server{
		config:      cfg,
		store:       store,
		logger:      logger,
		audit:       auditLogger,
		minSeverity: anomaly.Severity(cfg.Alerting.EscalateMinSeverity),
	}

	if err := s.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	s.handler = s.buildHandler()
	return s, nil
}

// initializeComponents initializes all server components
func (s *Server) initializeComponents() error {
	engineCfg := analytics.EngineConfig{
		Defaults:       s.config.DetectionOptions(),
		MultiThreshold: s.config.Detection.MultiThreshold,
	}
	if s.config.Cache.EnableCaching {
		engineCfg.CacheEntries = s.config.Cache.MaxEntries
		engineCfg.CacheTTL = s.config.CacheTTL()
	}
	engine, err := analytics.NewEngine(engineCfg, s.logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("failed to initialize detection engine: %w", err)
	}
	s.engine = engine

	s.hub = NewHub(s.logger.Named("ws"))
	s.alerts = alerting.NewManager(s.store,
		alerting.WithLogger(s.logger.Named("alerting")),
		alerting.WithAuditLogger(s.audit),
		alerting.WithNotifier(s.hub),
		alerting.WithStatsWindow(s.config.Alerting.StatsWindowHours),
	)
	s.scanner = analytics.NewScanner(s.engine, s.alerts, s.audit, s.logger.Named("scanner"))

	if s.config.Server.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(s.config.Server.RateLimitPerMinute)
	}
	return nil
}

// buildHandler assembles routes and middleware.
func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	router.Use(instrument, requestID)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/ws/alerts", s.hub.Handler(s.config.Server.AllowedOrigins)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}
	api.Use(middleware.MaxBodySize(s.config.Server.MaxBodyBytes))

	// Literal paths are registered before their {var} siblings.
	api.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/detect/multi", s.handleDetectMulti).Methods(http.MethodPost)
	api.HandleFunc("/detect/{method}", s.handleDetectMethod).Methods(http.MethodPost)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/multi", s.handleScanMulti).Methods(http.MethodPost)

	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/stats", s.handleAlertStats).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert).Methods(http.MethodPost)

	api.HandleFunc("/config/detection", s.handleDetectionConfig).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
	})
	return c.Handler(router)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in the background. A bind
// failure is returned and leaves the server stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	_ = s.audit.Log(context.Background(), audit.NewEvent(audit.EventServerStarted).
		WithResult(audit.ResultSuccess).
		WithMetadata("addr", s.addr).
		WithDescription("Anomaly service started"))

	s.logger.Info("Kubilitics anomaly server started",
		zap.String("database", s.config.Database.Type),
		zap.Strings("methods", s.config.Detection.Methods),
		zap.Bool("cache", s.config.Cache.EnableCaching),
		zap.String("escalate_min_severity", s.config.Alerting.EscalateMinSeverity))
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping kubilitics anomaly server")

	var shutdownErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutdown http server: %w", err)
		}
	}
	s.hub.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.wg.Wait()

	_ = s.audit.Log(ctx, audit.NewEvent(audit.EventServerShutdown).
		WithResult(audit.ResultSuccess).
		WithDescription("Anomaly service stopped"))
	s.logger.Info("Kubilitics anomaly server stopped")
	return shutdownErr
}

// Addr is the bound listen address, valid after Start. With port 0 it
// carries the port the system picked.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ApplyConfig hot-swaps the detection defaults and the escalation policy.
// Other sections need a restart.
func (s *Server) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if err := s.engine.SetDefaults(cfg.DetectionOptions(), cfg.Detection.MultiThreshold); err != nil {
		return err
	}
	s.mu.Lock()
	s.minSeverity = anomaly.Severity(cfg.Alerting.EscalateMinSeverity)
	s.mu.Unlock()

	if err := s.audit.LogConfigReloaded(ctx, "detection"); err != nil {
		s.logger.Warn("Failed to audit config reload", zap.Error(err))
	}
	return nil
}

// WatchConfig applies every configuration pushed on updates until ctx ends.
func (s *Server) WatchConfig(ctx context.Context, updates <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			if err := s.ApplyConfig(ctx, &cfg); err != nil {
				s.logger.Error("Rejected configuration reload", zap.Error(err))
				continue
			}
			s.logger.Info("Detection configuration reloaded")
		}
	}
}

func (s *Server) escalationPolicy(requested string) (analytics.Policy, error) {
	if requested != "" {
		sev, err := anomaly.ParseSeverity(requested)
		if err != nil {
			return analytics.Policy{}, err
		}
		return analytics.Policy{MinSeverity: sev}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return analytics.Policy{MinSeverity: s.minSeverity}, nil
}
