package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/stake-scanner/internal/storage"
	"github.com/stake-scanner/internal/types"
	"github.com/stake-scanner/internal/worker"
)

func (s *Server) handleImportRun(w http.ResponseWriter, r *http.Request) {
	entity := types.Entity(mux.Vars(r)["entity"])

	controller, ok := s.workers[entity]
	if !ok {
		respondError(w, http.StatusNotFound, "UNKNOWN_ENTITY", "no importer for entity",
			map[string]interface{}{"entity": string(entity)})
		return
	}

	targetDate := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "date must be YYYY-MM-DD",
				map[string]interface{}{"date": raw})
			return
		}
		targetDate = parsed
	}

	summary, err := controller.RunOnce(r.Context(), targetDate)
	if err != nil {
		if strings.Contains(err.Error(), "already in progress") {
			respondError(w, http.StatusConflict, "IMPORT_IN_PROGRESS", err.Error(), nil)
			return
		}
		respondCategorized(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	statuses := make([]worker.Status, 0, len(s.workers))
	for _, controller := range s.workers {
		statuses = append(statuses, controller.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Entity < statuses[j].Entity })

	respondJSON(w, http.StatusOK, map[string]interface{}{"imports": statuses})
}

type entityProgress struct {
	Entity   types.Entity `json:"entity"`
	Records  int64        `json:"records"`
	LastDate *string      `json:"lastDate"`
}

func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	progress := make([]entityProgress, 0, len(s.stats))
	for entity, provider := range s.stats {
		stats, err := provider.Stats(r.Context())
		if err != nil {
			respondCategorized(w, r, err)
			return
		}
		progress = append(progress, toProgress(entity, stats))
	}
	sort.Slice(progress, func(i, j int) bool { return progress[i].Entity < progress[j].Entity })

	respondJSON(w, http.StatusOK, map[string]interface{}{"progress": progress})
}

func toProgress(entity types.Entity, stats *storage.SnapshotStats) entityProgress {
	p := entityProgress{Entity: entity, Records: stats.Records}
	if stats.LastDate != nil {
		formatted := stats.LastDate.Format("2006-01-02")
		p.LastDate = &formatted
	}
	return p
}
