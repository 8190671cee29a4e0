// Package httpapi provides the HTTP surface spec §6 describes as an
// external collaborator of the core: /health, /webhook, /state, /reconcile,
// plus the ambient /ready and /metrics endpoints the teacher's own health
// server carries for every service.
//
// The handlers here are thin: they format the engine's snapshot and enqueue
// triggers through the Mux. Reconcile runs only on the triggermux owner
// goroutine; the one mutation made from a request handler is /webhook's
// DualFailure override, which calls the engine's ForceDualFailure under the
// engine's own lock before enqueuing the trigger.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
	"gitlab.bluewillows.net/root/dnsfailover/internal/metrics"
)

// Health status values for the /ready endpoint.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthChecker reports whether a component is reachable.
type HealthChecker func(ctx context.Context) error

// DegradedChecker reports whether a component is functional but degraded.
type DegradedChecker func(ctx context.Context) (degraded bool, message string)

// EngineView is the subset of *engine.Engine the HTTP surface needs.
type EngineView interface {
	Snapshot() engine.OperationalState
	ForceDualFailure(ctx context.Context)
}

// Trigger enqueues one reconcile invocation without blocking the caller
// (the triggermux.Mux.Trigger signature).
type Trigger func(ctx context.Context)

// ReadyStatus is the body of /ready.
type ReadyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// DegradedStatus is one entry of /ready's degraded list.
type DegradedStatus struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ReadyResponse is the full body of /ready.
type ReadyResponse struct {
	Status     string           `json:"status"`
	Components []ReadyStatus    `json:"components,omitempty"`
	Degraded   []DegradedStatus `json:"degraded,omitempty"`
}

// HealthResponse is the body of /health per spec §6: the string forms of
// current_target and phase alongside an overall status.
type HealthResponse struct {
	Status        string `json:"status"`
	CurrentTarget string `json:"current_target"`
	Phase         string `json:"phase"`
}

// webhookAlert is one entry of the Alertmanager-shaped envelope spec §6
// accepts at POST /webhook.
type webhookAlert struct {
	Labels struct {
		AlertName string `json:"alertname"`
	} `json:"labels"`
	Status string `json:"status"`
}

type webhookPayload struct {
	Alerts []webhookAlert `json:"alerts"`
}

type webhookResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Server hosts the HTTP surface on a single port.
type Server struct {
	port    int
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	timeout time.Duration

	engine  EngineView
	trigger Trigger

	mu               sync.RWMutex
	checkers         map[string]HealthChecker
	degradedCheckers map[string]DegradedChecker
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds how long /ready's checkers are given to respond.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// New creates a Server on port, serving eng's state and forwarding triggers
// via trigger (ordinarily triggermux.Mux.Trigger).
func New(port int, eng EngineView, trigger Trigger, opts ...Option) *Server {
	s := &Server{
		port:             port,
		mux:              http.NewServeMux(),
		logger:           slog.Default(),
		timeout:          5 * time.Second,
		engine:           eng,
		trigger:          trigger,
		checkers:         make(map[string]HealthChecker),
		degradedCheckers: make(map[string]DegradedChecker),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// RegisterChecker adds a health checker consulted by /ready.
func (s *Server) RegisterChecker(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// RegisterDegradedChecker adds a degraded-state checker consulted by /ready.
func (s *Server) RegisterDegradedChecker(name string, checker DegradedChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degradedCheckers[name] = checker
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.withRecover(s.handleHealth))
	s.mux.HandleFunc("/ready", s.withRecover(s.handleReady))
	s.mux.HandleFunc("/state", s.withRecover(s.handleState))
	s.mux.HandleFunc("/webhook", s.withRecover(s.handleWebhook))
	s.mux.HandleFunc("/reconcile", s.withRecover(s.handleReconcile))
	s.mux.Handle("/metrics", promhttp.Handler())
}

// withRecover converts a panicking handler into a 5xx JSON error response,
// per spec §7's HTTP propagation policy.
func (s *Server) withRecover(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic handling request", slog.String("path", r.URL.Path), slog.Any("panic", rec))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Message: fmt.Sprintf("%v", rec)})
			}
		}()
		h(w, r)
	}
}

// handleHealth returns {status, current_target, phase} per spec §6.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		CurrentTarget: string(state.CurrentTarget),
		Phase:         string(state.Phase),
	})
}

// handleState returns the full serialized OperationalState at GET /state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serializeState(s.engine.Snapshot()))
}

// handleWebhook accepts the alert envelope from spec §6, logs each alert,
// applies the DualFailure override if present, and enqueues exactly one
// reconcile trigger.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Status: "error", Message: "POST required"})
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Message: "invalid alert envelope: " + err.Error()})
		return
	}

	forceDualFailure := false
	for _, alert := range payload.Alerts {
		metrics.WebhookAlertsTotal.WithLabelValues(alert.Labels.AlertName, alert.Status).Inc()
		s.logger.Info("received alert",
			slog.String("alertname", alert.Labels.AlertName),
			slog.String("status", alert.Status),
		)
		if alert.Labels.AlertName == "DualFailure" && alert.Status == "firing" {
			forceDualFailure = true
		}
	}

	if forceDualFailure {
		s.engine.ForceDualFailure(r.Context())
	}

	s.trigger(r.Context())
	writeJSON(w, http.StatusOK, webhookResponse{Status: "ok", Action: "triggered_reconciliation"})
}

// handleReconcile enqueues an immediate trigger at POST /reconcile.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Status: "error", Message: "POST required"})
		return
	}
	s.trigger(r.Context())
	writeJSON(w, http.StatusOK, webhookResponse{Status: "ok", Action: "triggered_reconciliation"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	degradedCheckers := make(map[string]DegradedChecker, len(s.degradedCheckers))
	for name, checker := range s.degradedCheckers {
		degradedCheckers[name] = checker
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var components []ReadyStatus
	var degradedList []DegradedStatus
	allHealthy := true
	hasDegraded := false

	for name, checker := range checkers {
		status := ReadyStatus{Name: name, Healthy: true}
		if err := checker(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			allHealthy = false
			s.logger.Warn("health check failed", slog.String("component", name), slog.String("error", err.Error()))
		}
		components = append(components, status)
	}

	for name, checker := range degradedCheckers {
		if degraded, message := checker(ctx); degraded {
			hasDegraded = true
			degradedList = append(degradedList, DegradedStatus{Name: name, Message: message})
		}
	}

	resp := ReadyResponse{Components: components, Degraded: degradedList}
	code := http.StatusOK
	switch {
	case !allHealthy:
		resp.Status = StatusNotReady
		code = http.StatusServiceUnavailable
	case hasDegraded:
		resp.Status = StatusDegraded
	default:
		resp.Status = StatusReady
	}
	writeJSON(w, code, resp)
}

// Start starts the server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("http api starting", slog.Int("port", s.port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http api error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
