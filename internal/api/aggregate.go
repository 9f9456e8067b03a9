package api

import (
	"net/http"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/aggregation"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/filter"
)

type (
	// AggregateRequest filters a dataset and groups and reduces the matches.
	//
	//	{"filter": {"predicates": [...]},
	//	 "aggregation": {"groupBy": "month", "reducer": "sum", "field": "amount"},
	//	 "series": true, "window": 3}
	AggregateRequest struct {
		Filter      filter.Spec      `json:"filter"`
		Aggregation aggregation.Spec `json:"aggregation"`
		// Series adds the groups as an ordered series with trend statistics.
		Series bool `json:"series,omitempty"`
		// Window is the moving-average window of the series; 0 omits it. Implies Series.
		Window int `json:"window,omitempty"`
	}

	// AggregateResponse carries the groups and, when requested, the series.
	AggregateResponse struct {
		DatasetType dataset.Type        `json:"datasetType"`
		Result      *aggregation.Result `json:"result"`
		Series      *aggregation.Series `json:"series,omitempty"`
	}
)

// handleAggregate runs one group-and-reduce over a filtered dataset.
// POST /api/v1/datasets/{type}/aggregate
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	dt, ok := s.datasetType(w, r)
	if !ok {
		return
	}

	var req AggregateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.query.Aggregate(r.Context(), dt, req.Filter, req.Aggregation)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	response := AggregateResponse{DatasetType: dt, Result: result}

	if req.Series || req.Window != 0 {
		series, err := s.query.Series(r.Context(), dt, req.Filter, req.Aggregation, req.Window)
		if err != nil {
			s.writeDomainError(w, r, err)

			return
		}

		response.Series = series
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
