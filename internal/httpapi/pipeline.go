package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/model"
)

// handleSubmitReflection implements both `POST /reflections` and
// `POST /insights/ingest`: a reflection submission always runs the full
// ingest->cluster->bridge pipeline (spec §4.2).
func (s *Server) handleSubmitReflection(w http.ResponseWriter, r *http.Request) {
	var rf model.Reflection
	if err := json.NewDecoder(r.Body).Decode(&rf); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	if rf.Author == "" {
		rf.Author = logging.GetActor(r.Context())
	}
	insight, err := s.pipeline.Ingest(r.Context(), &rf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, insight)
}

func (s *Server) handleListReflections(w http.ResponseWriter, r *http.Request) {
	rs, err := s.pipeline.ListReflections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleGetReflection(w http.ResponseWriter, r *http.Request) {
	rf, err := s.pipeline.GetReflection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rf)
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	in, err := s.pipeline.ListInsights(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleGetInsight(w http.ResponseWriter, r *http.Request) {
	in, err := s.pipeline.GetInsight(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleInsightOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.pipeline.Reconcile(r.Context(), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orphans)
}

func (s *Server) handleInsightReconcile(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))
	orphans, err := s.pipeline.Reconcile(r.Context(), dryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dry_run": dryRun, "orphans": orphans})
}

type triageRequest struct {
	Decision string `json:"decision"` // approve | dismiss
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleInsightTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	actor := logging.GetActor(r.Context())
	in, err := s.pipeline.Triage(r.Context(), chi.URLParam(r, "id"), actor, req.Decision, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// handleInsightPromote is the same triage decision path, pinned to
// "approve" for callers that model promotion as its own verb (spec §6
// `POST /insights/:id/promote`).
func (s *Server) handleInsightPromote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	actor := logging.GetActor(r.Context())
	in, err := s.pipeline.Triage(r.Context(), chi.URLParam(r, "id"), actor, "approve", req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
