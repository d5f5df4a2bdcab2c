package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/stake-scanner/internal/types"
)

const defaultTopLimit = 10

func (s *Server) handleTopRecords(w http.ResponseWriter, r *http.Request) {
	entity := types.Entity(mux.Vars(r)["entity"])

	field := r.URL.Query().Get("field")
	if field == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "field parameter required", nil)
		return
	}

	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be a positive integer",
				map[string]interface{}{"limit": raw})
			return
		}
		limit = parsed
	}

	result, err := s.analytics.TopRecords(r.Context(), entity, field, limit)
	if err != nil {
		respondCategorized(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCountByField(w http.ResponseWriter, r *http.Request) {
	entity := types.Entity(mux.Vars(r)["entity"])

	field := r.URL.Query().Get("field")
	if field == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "field parameter required", nil)
		return
	}

	result, err := s.analytics.CountByField(r.Context(), entity, field)
	if err != nil {
		respondCategorized(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleFieldStatistics(w http.ResponseWriter, r *http.Request) {
	entity := types.Entity(mux.Vars(r)["entity"])

	field := r.URL.Query().Get("field")
	if field == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "field parameter required", nil)
		return
	}

	result, err := s.analytics.FieldStatistics(r.Context(), entity, field)
	if err != nil {
		respondCategorized(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
