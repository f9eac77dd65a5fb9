package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const (
	healthCheckTimeout = 2 * time.Second
	serviceVersion     = "0.1.0"

	contentTypeJSON = "application/json"
	contentTypeText = "text/plain"
)

// HealthStatus represents the health check response structure.
type HealthStatus struct {
	Status      string `json:"status"`
	ServiceName string `json:"serviceName"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime,omitempty"`
}

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health endpoints
	mux.HandleFunc("GET /ping", s.handlePing)    // liveness probe
	mux.HandleFunc("GET /ready", s.handleReady)  // readiness probe
	mux.HandleFunc("GET /health", s.handleHealth)

	// Catalog
	mux.HandleFunc("GET /0.1/methods", s.handleMethods)
	mux.HandleFunc("GET /0.1/types", s.handleTypes)

	// Analysis lifecycle
	mux.HandleFunc("POST /0.1/analysis", s.handleSubmitAnalysis)
	mux.HandleFunc("GET /0.1/status/{id}", s.handleAnalysisStatus)
	mux.HandleFunc("GET /0.1/result/{id}", s.handleResult)

	// Reports
	mux.HandleFunc("GET /0.1/report_status/{id}", s.handleReportStatus)
	mux.HandleFunc("GET /0.1/report/{id}/{artifact}", s.handleReportArtifact)

	// External data
	mux.HandleFunc("GET /0.1/data/sources", s.handleDataSources)
	mux.HandleFunc("GET /0.1/data/examples", s.handleDataExamples)
	mux.HandleFunc("GET /0.1/data/search", s.handleDataSearch)
	mux.HandleFunc("POST /0.1/data/load/{resource}", s.handleDataLoad)
	mux.HandleFunc("GET /0.1/data/status/{id}", s.handleDataStatus)
	mux.HandleFunc("GET /0.1/data/summary/{id}", s.handleDataSummary)
	mux.HandleFunc("GET /0.1/data/download/{id}", s.handleDataDownload)

	// Catch-all handler for 404 responses
	mux.HandleFunc("/", s.handleNotFound)
}

// writeJSON marshals v and writes it with a 200 status.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// writeText writes a plain text body with a 200 status.
func (s *Server) writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response", slog.String("error", err.Error()))
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.writeText(w, "pong")
}

// handleReady responds to readiness probes by checking the blackboard and
// broker connections.
//
// Response codes:
//   - 200 OK: dependencies are reachable and ready to serve requests
//   - 503 Service Unavailable: blackboard or broker is unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("Blackboard health check failed", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", contentTypeText)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("blackboard unavailable"))

		return
	}

	if err := s.queue.Ping(ctx); err != nil {
		s.logger.Error("Broker health check failed", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", contentTypeText)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("broker unavailable"))

		return
	}

	s.writeText(w, "ready")
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, HealthStatus{
		Status:      "healthy",
		ServiceName: "gsakit",
		Version:     serviceVersion,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown
// endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}
