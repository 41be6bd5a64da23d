package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/watchdog"
)

// tickOpts parses the common `dryRun`/`force`/`nowMs` query contract shared
// by every `/health/*/tick` endpoint (spec §9): `nowMs` lets a caller pin
// the simulated clock for deterministic dry runs, defaulting to wall time.
func tickOpts(r *http.Request) (time.Time, watchdog.Opts) {
	now := time.Now().UTC()
	if ms := r.URL.Query().Get("nowMs"); ms != "" {
		if v, err := strconv.ParseInt(ms, 10, 64); err == nil {
			now = time.UnixMilli(v).UTC()
		}
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return now, watchdog.Opts{DryRun: dryRun, Force: force}
}

func (s *Server) handleIdleNudgeTick(w http.ResponseWriter, r *http.Request) {
	now, opts := tickOpts(r)
	decisions, err := s.watchdogs.IdleNudgeTick(r.Context(), now, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleCadenceTick(w http.ResponseWriter, r *http.Request) {
	now, opts := tickOpts(r)
	stale, err := s.watchdogs.CadenceTick(r.Context(), now, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stale)
}

func (s *Server) handleMentionRescueTick(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, apperr.Validation("channel query parameter is required"))
		return
	}
	now, opts := tickOpts(r)
	pings, err := s.watchdogs.MentionRescueTick(r.Context(), channel, now, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pings)
}

func (s *Server) handleSweeperTick(w http.ResponseWriter, r *http.Request) {
	now, opts := tickOpts(r)
	reports, err := s.watchdogs.SweeperTick(r.Context(), s.prClient, now, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleBoardHealthTick(w http.ResponseWriter, r *http.Request) {
	now, opts := tickOpts(r)
	report, err := s.watchdogs.BoardHealthTick(r.Context(), now, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReminderTick(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, apperr.Validation("channel query parameter is required"))
		return
	}
	now, opts := tickOpts(r)
	reminders, err := s.watchdogs.ReminderTick(r.Context(), channel, now, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reminders)
}
