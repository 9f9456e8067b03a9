// Package api provides the HTTP API server for the financial reports service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/aggregation"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/api/middleware"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/filter"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/query"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	// Errors carries row diagnostics when an upload is rejected.
	Errors []ingestion.ValidationError `json:"errors,omitempty"`
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   middleware.ProblemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithInstance adds an instance URI to the problem detail.
func (p *ProblemDetail) WithInstance(instance string) *ProblemDetail {
	p.Instance = instance

	return p
}

// WithCorrelationID adds a correlation ID to the problem detail.
func (p *ProblemDetail) WithCorrelationID(correlationID string) *ProblemDetail {
	p.CorrelationID = correlationID

	return p
}

// WithErrors attaches row diagnostics.
func (p *ProblemDetail) WithErrors(errs []ingestion.ValidationError) *ProblemDetail {
	p.Errors = errs

	return p
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)
	}
}

// problemFor maps a domain error to its problem detail:
//
//	*ingestion.StructuralError, ingestion.ErrRejected   422
//	dataset.ErrUnknownDatasetType                      404
//	invalid mode, query, predicate, aggregation, record 400
//	storage.ErrQuotaExceeded                           507
//	*storage.StorageError, cancelled or timed out      503
//
// Anything else is a 500 whose detail does not leak the cause.
func problemFor(err error) *ProblemDetail {
	var (
		structural *ingestion.StructuralError
		storageErr *storage.StorageError
	)

	switch {
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		return UnsupportedMediaType(err.Error())
	case errors.As(err, &structural), errors.Is(err, ingestion.ErrRejected):
		return UnprocessableEntity(err.Error())
	case errors.Is(err, dataset.ErrUnknownDatasetType), errors.Is(err, storage.ErrRecordNotFound):
		return NotFound(err.Error())
	case errors.Is(err, ingestion.ErrInvalidMode),
		errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, filter.ErrInvalidPredicate),
		errors.Is(err, filter.ErrUnknownField),
		errors.Is(err, aggregation.ErrInvalidSpec),
		errors.Is(err, aggregation.ErrInvalidWindow),
		errors.Is(err, storage.ErrInvalidRecord):
		return BadRequest(err.Error())
	case errors.Is(err, storage.ErrQuotaExceeded):
		return NewProblemDetail(http.StatusInsufficientStorage, "Insufficient Storage", err.Error())
	case errors.As(err, &storageErr):
		return ServiceUnavailable("The report store is unavailable, retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ServiceUnavailable("The request was cancelled before it completed")
	default:
		return InternalServerError("An unexpected error occurred while processing the request")
	}
}

// writeDomainError logs err and writes the problem detail problemFor maps it to.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	problem := problemFor(err)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	s.logger.LogAttrs(r.Context(), level, "Request failed",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Int("status", problem.Status),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger, problem)
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, "Internal Server Error", detail)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, "Bad Request", detail)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, "Not Found", detail)
}

// PayloadTooLarge creates a 413 Payload Too Large problem.
func PayloadTooLarge(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusRequestEntityTooLarge, "Payload Too Large", detail)
}

// UnsupportedMediaType creates a 415 Unsupported Media Type problem.
func UnsupportedMediaType(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusUnsupportedMediaType, "Unsupported Media Type", detail)
}

// UnprocessableEntity creates a 422 Unprocessable Entity problem.
func UnprocessableEntity(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusUnprocessableEntity, "Unprocessable Entity", detail)
}

// ServiceUnavailable creates a 503 Service Unavailable problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusServiceUnavailable, "Service Unavailable", detail)
}
