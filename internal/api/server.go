package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pulsebridge/internal/alarm"
	"pulsebridge/internal/plugins/alarmpanel"
	"pulsebridge/internal/shadowstate"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AlarmController is what the API needs from the alarm panel plugin
type AlarmController interface {
	Snapshot() alarmpanel.Snapshot
	Request(ctx context.Context, mode alarm.ArmingMode, source string) error
	CallService(ctx context.Context, service string, source string) error
}

const (
	urlAction  = "action"
	urlService = "service"
	urlPlugin  = "plugin"
)

// Server provides HTTP API endpoints for the alarm bridge
type Server struct {
	alarm   AlarmController
	shadow  *shadowstate.Tracker
	logger  *zap.Logger
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(alarmController AlarmController, shadow *shadowstate.Tracker, logger *zap.Logger, port int) *Server {
	s := &Server{
		alarm:  alarmController,
		shadow: shadow,
		logger: logger.Named("api"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleSitemap).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// /api routes live on the root router so a method mismatch answers 405
	api := func(path string, h http.HandlerFunc, method string) {
		router.Handle(path, s.logMiddleware(h)).Methods(method)
	}
	api("/api/alarm", s.handleGetAlarm, http.MethodGet)
	api(fmt.Sprintf("/api/alarm/services/{%s}", urlService), s.handleAlarmService, http.MethodPost)
	api(fmt.Sprintf("/api/alarm/{%s}", urlAction), s.handleAlarmAction, http.MethodPost)
	api("/api/shadow", s.handleGetShadow, http.MethodGet)
	api(fmt.Sprintf("/api/shadow/{%s}", urlPlugin), s.handleGetPluginShadow, http.MethodGet)

	s.handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)(router)
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // arming waits for the remote command
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router wrapped in panic recovery, for tests and
// embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// ActionResponse is returned after an alarm action or service completes
type ActionResponse struct {
	Requested string              `json:"requested"`
	Alarm     alarmpanel.Snapshot `json:"alarm"`
}

// statusFor maps alarm errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, alarm.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, alarm.ErrNotArmable):
		return http.StatusPreconditionFailed
	case errors.Is(err, alarm.ErrRemoteCommandFailed):
		return http.StatusBadGateway
	case errors.Is(err, alarm.ErrUnknownMode), errors.Is(err, alarm.ErrUnknownService):
		return http.StatusBadRequest
	case errors.Is(err, alarmpanel.ErrReadOnly):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

// handleGetAlarm returns the alarm panel presentation
func (s *Server) handleGetAlarm(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.alarm.Snapshot())
}

// handleAlarmAction runs a primary alarm action
func (s *Server) handleAlarmAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)[urlAction]
	mode, err := alarm.ParseAction(action)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.alarm.Request(r.Context(), mode, alarmpanel.SourceAPI); err != nil {
		s.logger.Warn("Alarm action failed", zap.String("action", action), zap.Error(err))
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{Requested: action, Alarm: s.alarm.Snapshot()})
}

// handleAlarmService runs one of the extra alarm services
func (s *Server) handleAlarmService(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)[urlService]
	if err := s.alarm.CallService(r.Context(), service, alarmpanel.SourceAPI); err != nil {
		s.logger.Warn("Alarm service failed", zap.String("service", service), zap.Error(err))
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{Requested: service, Alarm: s.alarm.Snapshot()})
}

// handleGetShadow returns every plugin's shadow state
func (s *Server) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.shadow.GetAllPluginStates())
}

func (s *Server) handleGetPluginShadow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)[urlPlugin]
	state, ok := s.shadow.GetPluginState(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("no shadow state for plugin %q", name)})
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("took", time.Since(start)))
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/api/alarm", Method: "GET", Description: "Alarm panel state, raw status and attributes"},
	{Path: "/api/alarm/{action}", Method: "POST", Description: "disarm, arm_home, arm_away, arm_night or arm_custom_bypass"},
	{Path: "/api/alarm/services/{service}", Method: "POST", Description: "force_stay or force_away"},
	{Path: "/api/shadow", Method: "GET", Description: "Shadow state of every plugin"},
	{Path: "/api/shadow/{plugin}", Method: "GET", Description: "Shadow state of one plugin"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	preferHTML := strings.HasPrefix(accept, "text/html") || strings.HasPrefix(accept, "*/*")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Pulse Bridge API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Pulse Bridge API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Pulse Bridge API\n")
		fmt.Fprintf(w, "================\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-32s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  curl http://localhost:8080/api/alarm | jq\n")
		fmt.Fprintf(w, "  curl -X POST http://localhost:8080/api/alarm/arm_away\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
