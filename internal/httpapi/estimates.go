package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/presales/internal/estimate"
)

type estimateResponse struct {
	ProjectType     string  `json:"project_type"`
	BudgetRange     string  `json:"budget_range"`
	TypicalTimeline string  `json:"typical_timeline"`
	Found           bool    `json:"found"`
	Score           float64 `json:"score"`
	Message         string  `json:"message,omitempty"`
}

// handleEstimates resolves ?project_type=, or lists the catalog without it.
func (s *Server) handleEstimates(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil || s.resolver.Catalog() == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "estimate catalog not loaded")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("project_type"))
	if query == "" {
		cat := s.resolver.Catalog()
		out := make([]estimate.Record, 0, cat.Len())
		for _, key := range cat.Keys() {
			if rec, ok := cat.Lookup(key); ok {
				out = append(out, rec)
			}
		}
		respondJSON(w, http.StatusOK, map[string]any{"estimates": out})
		return
	}

	res := s.resolver.Resolve(query)
	respondJSON(w, http.StatusOK, estimateResponse{
		ProjectType:     res.Record.ProjectType,
		BudgetRange:     res.Record.BudgetRange,
		TypicalTimeline: res.Record.TypicalTimeline,
		Found:           res.Found,
		Score:           res.Score,
		Message:         res.Message,
	})
}
