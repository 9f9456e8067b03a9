package api

import (
	"log/slog"
	"net/http"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/api/middleware"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

type (
	// SchemaResponse describes one dataset schema.
	SchemaResponse struct {
		DatasetType    dataset.Type             `json:"datasetType"`
		PrimaryDate    string                   `json:"primaryDate"`
		IdentityFields []string                 `json:"identityFields,omitempty"`
		Fields         []schema.FieldDefinition `json:"fields"`
		Derived        []DerivedFieldResponse   `json:"derived,omitempty"`
	}

	// DerivedFieldResponse describes a computed field and its inputs.
	DerivedFieldResponse struct {
		schema.FieldDefinition

		Inputs []string `json:"inputs"`
	}
)

func toSchemaResponse(s *schema.Schema) SchemaResponse {
	resp := SchemaResponse{
		DatasetType:    s.DatasetType,
		PrimaryDate:    s.PrimaryDate,
		IdentityFields: s.IdentityFields,
		Fields:         s.Fields(),
	}

	for _, d := range s.Derived() {
		resp.Derived = append(resp.Derived, DerivedFieldResponse{FieldDefinition: d.Field, Inputs: d.Inputs})
	}

	return resp
}

// handleListSchemas lists every dataset schema.
// GET /api/v1/schemas
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas := s.registry.Schemas()

	out := make([]SchemaResponse, 0, len(schemas))
	for _, sch := range schemas {
		out = append(out, toSchemaResponse(sch))
	}

	s.writeJSON(w, r, http.StatusOK, out)
}

// handleGetSchema returns one dataset schema.
// GET /api/v1/schemas/{type}
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	sch, err := s.registry.Schema(dt)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toSchemaResponse(sch))
}

// handleStats returns record statistics and upload metadata.
// GET /api/v1/datasets/{type}/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	stats, err := s.query.Stats(r.Context(), dt)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, stats)
}

// handleClearDataset removes every record of a dataset type.
// DELETE /api/v1/datasets/{type}
func (s *Server) handleClearDataset(w http.ResponseWriter, r *http.Request) {
	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	if err := s.store.Clear(r.Context(), dt); err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.logger.Info("Dataset cleared",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("dataset_type", dt.String()),
	)

	w.WriteHeader(http.StatusNoContent)
}
