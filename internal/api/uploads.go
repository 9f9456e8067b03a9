package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/api/middleware"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
)

const (
	// fileNameHeader names a raw (non-multipart) upload.
	fileNameHeader     = "X-File-Name"
	multipartFileField = "file"
	octetStream        = "application/octet-stream"
	formURLEncoded     = "application/x-www-form-urlencoded"
)

// UploadResponse summarizes one ingest. Accepted records are counted, not echoed.
type UploadResponse struct {
	DatasetType      dataset.Type                `json:"datasetType"`
	FileName         string                      `json:"fileName,omitempty"`
	Mode             ingestion.Mode              `json:"mode"`
	State            ingestion.State             `json:"state"`
	Trail            []ingestion.State           `json:"trail"`
	AcceptedCount    int                         `json:"acceptedCount"`
	RejectedRowCount int                         `json:"rejectedRowCount"`
	Errors           []ingestion.ValidationError `json:"errors"`
	Warnings         []ingestion.ValidationError `json:"warnings"`
	Metadata         *dataset.Metadata           `json:"metadata,omitempty"`
	CorrelationID    string                      `json:"correlationId"`
}

// uploadFile is the file extracted from an upload request.
type uploadFile struct {
	name    string
	format  string
	content []byte
}

// handleUpload ingests one report file.
// POST /api/v1/datasets/{type}/uploads?mode=append|replace
//
// The file is either the raw body (name from ?filename= or X-File-Name, format from
// ?format= or Content-Type) or the "file" part of a multipart/form-data body.
//
// Response codes:
//   - 201 Created: the valid rows were committed; row errors and warnings are listed
//   - 400 Bad Request: unknown mode
//   - 404 Not Found: unknown dataset type
//   - 413 Payload Too Large: file exceeds MaxUploadSize
//   - 415 Unsupported Media Type: neither CSV nor XLSX
//   - 422 Unprocessable Entity: structural failure, or every row failed validation
//   - 503 Service Unavailable: the store failed; nothing was committed
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	mode, err := ingestion.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	file, problem := s.readUploadFile(w, r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	result, err := s.pipeline.Ingest(r.Context(), ingestion.Upload{
		DatasetType: dt,
		FileName:    file.name,
		Content:     file.content,
		Format:      file.format,
		Mode:        mode,
	})
	if err != nil {
		if errors.Is(err, ingestion.ErrRejected) {
			problem := problemFor(err).WithErrors(result.Errors)
			WriteErrorResponse(w, r, s.logger, problem)

			return
		}

		s.writeDomainError(w, r, err)

		return
	}

	response := UploadResponse{
		DatasetType:      dt,
		FileName:         file.name,
		Mode:             mode,
		State:            result.State,
		Trail:            result.Trail,
		AcceptedCount:    len(result.Accepted),
		RejectedRowCount: result.RejectedRowCount,
		Errors:           nonNil(result.Errors),
		Warnings:         nonNil(result.Warnings),
		Metadata:         result.Metadata,
		CorrelationID:    correlationID,
	}

	s.writeJSON(w, r, http.StatusCreated, response)

	s.logger.Info("Upload processed",
		slog.String("correlation_id", correlationID),
		slog.String("dataset_type", dt.String()),
		slog.String("file_name", file.name),
		slog.Int("accepted", response.AcceptedCount),
		slog.Int("rejected", response.RejectedRowCount),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// readUploadFile extracts the uploaded file, enforcing MaxUploadSize.
func (s *Server) readUploadFile(w http.ResponseWriter, r *http.Request) (*uploadFile, *ProblemDetail) {
	tooLarge := PayloadTooLarge(fmt.Sprintf("Upload exceeds maximum size of %d bytes", s.config.MaxUploadSize))

	if r.ContentLength > s.config.MaxUploadSize {
		return nil, tooLarge
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	var file *uploadFile

	if mediaType == "multipart/form-data" {
		file, err = readMultipartFile(r)
	} else {
		file, err = readRawFile(r, mediaType)
	}

	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, tooLarge
		}

		return nil, BadRequest("Failed to read upload: " + err.Error())
	}

	if format := r.URL.Query().Get("format"); format != "" {
		file.format = format
	}

	return file, nil
}

func readRawFile(r *http.Request, mediaType string) (*uploadFile, error) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	name := r.URL.Query().Get("filename")
	if name == "" {
		name = r.Header.Get(fileNameHeader)
	}

	return &uploadFile{name: strings.TrimSpace(name), format: declaredFormat(mediaType), content: content}, nil
}

func readMultipartFile(r *http.Request) (*uploadFile, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("multipart body has no %q part", multipartFileField)
		}

		if err != nil {
			return nil, err
		}

		if part.FormName() != multipartFileField {
			continue
		}

		content, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}

		mediaType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))

		return &uploadFile{name: part.FileName(), format: declaredFormat(mediaType), content: content}, nil
	}
}

// declaredFormat returns the media type as a format hint; generic types defer to the
// file extension.
func declaredFormat(mediaType string) string {
	switch mediaType {
	case octetStream, formURLEncoded:
		return ""
	}

	return mediaType
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
