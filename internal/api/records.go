package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/filter"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/query"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

const (
	paramLimit   = "limit"
	paramOffset  = "offset"
	maxPageLimit = 10000
)

type (
	// RecordsResponse is one page of a filtered dataset.
	RecordsResponse struct {
		DatasetType dataset.Type     `json:"datasetType"`
		Total       int              `json:"total"`
		Offset      int              `json:"offset"`
		Records     []dataset.Record `json:"records"`
	}

	// MergeRequest carries explicit partial updates. Field values are JSON numbers,
	// strings in the upload formats ("1,200.50", "31/01/2024", "12%"), or null to
	// leave a field unchanged.
	MergeRequest struct {
		Records []RecordPatch `json:"records"`
	}

	// RecordPatch updates the fields of one record.
	RecordPatch struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	}

	// DeleteRequest lists record ids to remove.
	DeleteRequest struct {
		IDs []string `json:"ids"`
	}

	// DeleteResponse reports how many of the requested ids existed.
	DeleteResponse struct {
		DatasetType dataset.Type `json:"datasetType"`
		Requested   int          `json:"requested"`
		Deleted     int          `json:"deleted"`
	}
)

// handleQueryRecords returns the records of a dataset matching the query parameters.
// GET /api/v1/datasets/{type}/records?from=&to=&date_field=&q=&<field>=a,b&min_<f>=&max_<f>=&limit=&offset=
func (s *Server) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	sch, err := s.registry.Schema(dt)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	values := r.URL.Query()

	limit, offset, err := parsePage(values.Get(paramLimit), values.Get(paramOffset))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	spec, err := filter.ParseQuery(values, sch)
	if err != nil {
		s.writeDomainError(w, r, fmt.Errorf("%w: %w", query.ErrInvalidQuery, err))

		return
	}

	records, err := s.query.Query(r.Context(), dt, spec)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	total := len(records)
	start := min(offset, total)
	end := total

	if limit > 0 {
		end = min(start+limit, total)
	}

	s.writeJSON(w, r, http.StatusOK, RecordsResponse{
		DatasetType: dt,
		Total:       total,
		Offset:      start,
		Records:     nonNil(records[start:end]),
	})
}

// handleMergeRecords applies explicit partial updates.
// PATCH /api/v1/datasets/{type}/records
//
// Each patch is shallow-merged over the stored record. A batch naming an id that is not
// stored is rejected as a whole with 404.
// Values are coerced with the same rules as uploads, so "£1,200" is stored as 1200.
func (s *Server) handleMergeRecords(w http.ResponseWriter, r *http.Request) {
	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	sch, err := s.registry.Schema(dt)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	var req MergeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if len(req.Records) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("records cannot be empty"))

		return
	}

	records, problem := patchesToRecords(dt, sch, req.Records)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if err := s.store.Merge(r.Context(), dt, records); err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"datasetType": dt,
		"updated":     len(records),
	})
}

// handleDeleteRecords removes records by id.
// DELETE /api/v1/datasets/{type}/records
func (s *Server) handleDeleteRecords(w http.ResponseWriter, r *http.Request) {
	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	var req DeleteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if len(req.IDs) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("ids cannot be empty"))

		return
	}

	deleted, err := s.store.DeleteByIDs(r.Context(), dt, req.IDs)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, DeleteResponse{
		DatasetType: dt,
		Requested:   len(req.IDs),
		Deleted:     deleted,
	})
}

// patchesToRecords coerces patch values against the schema. The first invalid value
// fails the whole request.
func patchesToRecords(dt dataset.Type, sch *schema.Schema, patches []RecordPatch) ([]dataset.Record, *ProblemDetail) {
	records := make([]dataset.Record, 0, len(patches))

	for i, p := range patches {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, BadRequest(fmt.Sprintf("records[%d]: id cannot be empty", i))
		}

		fields := make(map[string]any, len(p.Fields))

		for name, value := range p.Fields {
			def, ok := sch.Field(name)
			if !ok {
				return nil, BadRequest(fmt.Sprintf("records[%d]: unknown field %q", i, name))
			}

			coerced, err := coercePatchValue(def, value)
			if err != nil {
				return nil, BadRequest(fmt.Sprintf("records[%d]: %v", i, err))
			}

			if coerced != nil {
				fields[name] = coerced
			}
		}

		records = append(records, dataset.Record{ID: id, DatasetType: dt, Fields: fields})
	}

	return records, nil
}

// coercePatchValue converts a decoded JSON value to the field's stored type. Numbers
// must satisfy the field's range rules; strings go through the upload coercion rules.
func coercePatchValue(def schema.FieldDefinition, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		if !def.Type.Numeric() {
			return nil, fmt.Errorf("field %q: expected %s, got a number", def.Name, def.Type)
		}

		if err := ingestion.CheckNumeric(def, v); err != nil {
			return nil, fmt.Errorf("field %q: %w", def.Name, err)
		}

		return v, nil
	case string:
		coerced, verr := ingestion.Coerce(def, v, 0)
		if verr != nil {
			return nil, fmt.Errorf("field %q: %s", def.Name, verr.Message)
		}

		return coerced, nil
	default:
		return nil, fmt.Errorf("field %q: unsupported value %T", def.Name, value)
	}
}

func parsePage(rawLimit, rawOffset string) (limit, offset int, err error) {
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 0 || limit > maxPageLimit {
			return 0, 0, fmt.Errorf("%s must be an integer between 0 and %d", paramLimit, maxPageLimit)
		}
	}

	if rawOffset != "" {
		offset, err = strconv.Atoi(rawOffset)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%s must be a non-negative integer", paramOffset)
		}
	}

	return limit, offset, nil
}
