package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stake-scanner/internal/query"
	"github.com/stake-scanner/internal/types"
)

// queryRequestBody is the wire shape of POST /api/v1/{entity}/query
type queryRequestBody struct {
	Filters      map[string]any      `json:"filters"`
	GroupBy      []string            `json:"group_by"`
	Aggregations []query.Aggregation `json:"aggregations"`
	OrderBy      map[string]string   `json:"order_by"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
	Format       string              `json:"format"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	entity := types.Entity(mux.Vars(r)["entity"])

	var body queryRequestBody
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	format, ok := parseFormat(body.Format)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER",
			"format must be one of list, aggregated, count_only",
			map[string]interface{}{"format": body.Format})
		return
	}

	result, err := s.engine.Execute(r.Context(), query.Request{
		Entity:       entity,
		Filters:      body.Filters,
		GroupBy:      body.GroupBy,
		Aggregations: body.Aggregations,
		OrderBy:      body.OrderBy,
		Limit:        body.Limit,
		Offset:       body.Offset,
		Format:       format,
	})
	if err != nil {
		respondCategorized(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func parseFormat(format string) (types.ReturnFormat, bool) {
	switch types.ReturnFormat(format) {
	case "", types.FormatList:
		return types.FormatList, true
	case types.FormatAggregated:
		return types.FormatAggregated, true
	case types.FormatCountOnly:
		return types.FormatCountOnly, true
	}
	return "", false
}
