package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/logging"
)

// handleAuditReviews implements `GET /audit/reviews`: the recent reviewer-
// identity and approval trail (spec §5 audit ledger).
func (s *Server) handleAuditReviews(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	entries, err := s.auditRepo.RecentReviewEntries(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMutationAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	alerts, err := s.auditRepo.RecentMutationAlerts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleRoutingApprovalsPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.routingQ.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type approvalDecideRequest struct {
	Decision string `json:"decision"` // approve | reject
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleRoutingApprovalDecide(w http.ResponseWriter, r *http.Request) {
	var req approvalDecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	actor := logging.GetActor(r.Context())
	t, err := s.routingQ.Decide(r.Context(), chi.URLParam(r, "id"), actor, req.Decision, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleGetPolicy exposes the live, hot-reloaded configuration snapshot
// (spec §9 "runtime-tunable policy knobs": WIP caps, quiet hours, cadence
// thresholds, noise budget ceilings).
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Get())
}

// handlePatchPolicy merges the posted fields into the live config and
// republishes it, exercising the same atomic Set path fsnotify-triggered
// reloads use.
func (s *Server) handlePatchPolicy(w http.ResponseWriter, r *http.Request) {
	var patch config.Config
	current := *s.cfg.Get()
	patch = current
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	s.cfg.Set(&patch)
	writeJSON(w, http.StatusOK, s.cfg.Get())
}

// handleResetPolicy restores the defaults returned by config.New(),
// discarding any runtime PATCHes.
func (s *Server) handleResetPolicy(w http.ResponseWriter, r *http.Request) {
	fresh := config.New()
	s.cfg.Set(fresh)
	writeJSON(w, http.StatusOK, s.cfg.Get())
}
