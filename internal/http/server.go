package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
	"aegisflux/agents/hids/internal/store"
)

const maxAlertsLimit = 1000

// AgentInterface is what the server needs from the running agent
type AgentInterface interface {
	GetUptime() time.Duration
	GetVersion() string
	GetSources() []SourceStatus
	GetDetectorStats() map[string]interface{}
	GetPendingAlerts() int
	GetForwarderState() string
}

// Server provides local HTTP endpoints for health, status, alerts and metrics
type Server struct {
	logger  *logging.Logger
	hostID  string
	agent   AgentInterface
	alerts  *store.AlertStore
	metrics http.Handler
	router  *mux.Router
	server  *http.Server
}

// NewServer creates a new HTTP server bound to addr
func NewServer(logger *logging.Logger, hostID, addr string, agent AgentInterface, alerts *store.AlertStore, metrics http.Handler) *Server {
	s := &Server{
		logger:  logger.WithComponent("http"),
		hostID:  hostID,
		agent:   agent,
		alerts:  alerts,
		metrics: metrics,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.LogSystemEvent("http_server_started", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.logger.LogSystemEvent("http_server_stopped")
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, src := range s.agent.GetSources() {
		if src.State == SourceRunning {
			active++
		}
	}

	health := HealthResponse{
		Status:    "healthy",
		HostID:    s.hostID,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    s.agent.GetUptime().String(),
		Version:   s.agent.GetVersion(),
		Sources:   active,
	}
	if active == 0 {
		health.Status = "degraded"
	}

	s.writeJSONResponse(w, http.StatusOK, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		HostID:    s.hostID,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    s.agent.GetUptime().String(),
		Version:   s.agent.GetVersion(),
		Sources:   s.agent.GetSources(),
		Detectors: s.agent.GetDetectorStats(),
		Alerts:    s.alerts.GetStats(),
		Pending:   s.agent.GetPendingAlerts(),
		Forwarder: s.agent.GetForwarderState(),
	}
	s.writeJSONResponse(w, http.StatusOK, status)
}

// handleAlerts lists retained alerts, newest first.
// Query: limit (default 100), kind, min_severity.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 100
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertsLimit)
	}

	var alerts []model.Alert
	switch {
	case query.Get("kind") != "":
		alerts = s.alerts.ByKind(model.Kind(query.Get("kind")))
	case query.Get("min_severity") != "":
		sev := query.Get("min_severity")
		if !validSeverity(sev) {
			s.writeErrorResponse(w, http.StatusBadRequest, "min_severity must be one of low, medium, high, critical")
			return
		}
		alerts = s.alerts.BySeverity(sev)
	default:
		alerts = s.alerts.Recent(limit)
	}
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}

	s.writeJSONResponse(w, http.StatusOK, AlertsResponse{Alerts: alerts, Total: len(alerts)})
}

func validSeverity(s string) bool {
	switch s {
	case "low", "medium", "high", "critical":
		return true
	}
	return false
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}
