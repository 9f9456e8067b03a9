// Package api provides the HTTP API server for the financial reports service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/api/middleware"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

const (
	healthCheckTimeout     = 2 * time.Second
	expectedURLParts       = 2
	contentTypeProblemJSON = "application/problem+json"
	serviceName            = "financial-reports"
)

// Version is the service version reported by /health; set at build time with
// -ldflags "-X .../internal/api.Version=...".
var Version = "dev" //nolint: gochecknoglobals

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	Route struct {
		Path    string           // The URL pattern, e.g. "GET /ping"
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // liveness probe
		Route{"GET /ready", s.handleReady},   // readiness probe, checks the store
		Route{"GET /health", s.handleHealth}, // status, uptime, version
	)

	mux.HandleFunc("/", s.handleNotFound)

	mux.HandleFunc("GET /api/v1/schemas", s.handleListSchemas)
	mux.HandleFunc("GET /api/v1/schemas/{type}", s.handleGetSchema)

	mux.HandleFunc("POST /api/v1/datasets/{type}/uploads", s.handleUpload)
	mux.HandleFunc("GET /api/v1/datasets/{type}/records", s.handleQueryRecords)
	mux.HandleFunc("PATCH /api/v1/datasets/{type}/records", s.handleMergeRecords)
	mux.HandleFunc("DELETE /api/v1/datasets/{type}/records", s.handleDeleteRecords)
	mux.HandleFunc("POST /api/v1/datasets/{type}/aggregate", s.handleAggregate)
	mux.HandleFunc("GET /api/v1/datasets/{type}/stats", s.handleStats)
	mux.HandleFunc("DELETE /api/v1/datasets/{type}", s.handleClearDataset)
}

// registerPublicRoutes registers routes that bypass rate limiting. Only health probes
// belong here.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// "GET /ping" is matched against r.URL.Path, which has no method prefix.
		path := route.Path
		if parts := strings.Fields(path); len(parts) == expectedURLParts {
			path = parts[1]
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady reports whether the record store can serve requests.
//
// Response codes:
//   - 200 OK: the store answered its health check
//   - 503 Service Unavailable: the store is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		s.writeText(w, r, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	w.Header().Set("X-Reports-Version", Version)

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     Version,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// datasetType resolves the {type} path segment. On failure the 404 is already written.
func (s *Server) datasetType(w http.ResponseWriter, r *http.Request) (dataset.Type, bool) {
	dt, err := dataset.ParseType(r.PathValue("type"))
	if err != nil {
		s.writeDomainError(w, r, err)

		return "", false
	}

	return dt, true
}

// decodeJSON reads a JSON body of at most MaxRequestSize bytes into dst. On failure
// the problem response is already written.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return false
	}

	if r.ContentLength > s.config.MaxRequestSize {
		WriteErrorResponse(w, r, s.logger, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		))

		return false
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError

		switch {
		case errors.As(err, &maxBytesErr):
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge(
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
			))
		case errors.Is(err, io.EOF):
			WriteErrorResponse(w, r, s.logger, BadRequest("Request body cannot be empty"))
		default:
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))
		}

		return false
	}

	return true
}

// writeJSON marshals body before writing headers so encoding failures become a 500.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to marshal response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
