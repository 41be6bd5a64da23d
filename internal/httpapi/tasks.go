package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/model"
)

// handleListTasks implements `GET /tasks` with an optional ?status= filter.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := model.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := s.tasks.List(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleCreateTask implements `POST /tasks` (definition-of-ready intake).
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t model.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	t.CreatedBy = logging.GetActor(r.Context())
	created, err := s.tasks.Create(r.Context(), &t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleBatchCreateTasks implements `POST /tasks/batch-create`.
func (s *Server) handleBatchCreateTasks(w http.ResponseWriter, r *http.Request) {
	var in []model.Task
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	actor := logging.GetActor(r.Context())
	out := make([]*model.Task, 0, len(in))
	for i := range in {
		in[i].CreatedBy = actor
		created, err := s.tasks.Create(r.Context(), &in[i])
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, created)
	}
	writeJSON(w, http.StatusCreated, out)
}

// handleGetTask implements `GET /tasks/:id`, resolving short prefixes
// (spec §4.1 gate 1).
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handlePatchTask implements `PATCH /tasks/:id`, the single mutation entry
// point (spec §4.1).
func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var patch model.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	if patch.Actor == "" {
		patch.Actor = logging.GetActor(r.Context())
	}
	t, err := s.tasks.Apply(r.Context(), chi.URLParam(r, "id"), &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleClaimTask implements `POST /tasks/:id/claim`: a convenience patch
// assigning the caller and moving the task to doing, running the same
// gate chain as a direct PATCH.
func (s *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	actor := logging.GetActor(r.Context())
	doing := model.StatusDoing
	patch := &model.Patch{Status: &doing, Assignee: &actor, Actor: actor}
	t, err := s.tasks.Apply(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// reviewRequest is the body for `POST /tasks/:id/review`.
type reviewRequest struct {
	Decision string `json:"decision"` // approve | request_changes
	Notes    string `json:"notes,omitempty"`
}

// handleReviewTask implements `POST /tasks/:id/review`, translating a
// reviewer decision into the equivalent metadata patch so it passes
// through the reviewer-identity gate exactly like a raw PATCH would
// (spec §4.1 gate 3).
func (s *Server) handleReviewTask(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	actor := logging.GetActor(r.Context())
	meta := model.Metadata{"reviewer_notes": req.Notes}
	if req.Decision == "approve" {
		meta["reviewer_approved"] = true
	} else {
		meta["reviewer_approved"] = false
	}
	patch := &model.Patch{Actor: actor, Metadata: meta}
	t, err := s.tasks.Apply(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// outcomeRequest is the body for `POST /tasks/:id/outcome`.
type outcomeRequest struct {
	Artifacts []string `json:"artifacts"`
}

// handleOutcomeTask implements `POST /tasks/:id/outcome`: appends
// artifacts and attempts the close-gate transition in one call.
func (s *Server) handleOutcomeTask(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	actor := logging.GetActor(r.Context())
	done := model.StatusDone
	artifacts := make([]any, len(req.Artifacts))
	for i, a := range req.Artifacts {
		artifacts[i] = a
	}
	patch := &model.Patch{Status: &done, Actor: actor, Metadata: model.Metadata{"artifacts": artifacts}}
	t, err := s.tasks.Apply(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handlePrecheckTask implements `POST /tasks/:id/precheck`: runs the gate
// chain without persisting, letting a caller learn whether a mutation
// would be accepted (spec §6).
func (s *Server) handlePrecheckTask(w http.ResponseWriter, r *http.Request) {
	var patch model.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	if patch.Actor == "" {
		patch.Actor = logging.GetActor(r.Context())
	}
	gctx, err := s.tasks.Precheck(r.Context(), chi.URLParam(r, "id"), &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": true,
		"warnings": gctx.Warnings,
	})
}

// handleDeleteTask implements `DELETE /tasks/:id`. Spec §3 forbids
// deleting tasks in production; the engine rejects anything but an
// is_test fixture task (see task.Engine.Delete).
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTaskArtifacts implements `GET /tasks/:id/artifacts`, surfacing the
// close-gate evidence list recorded in metadata.artifacts (spec §4.1 gate
// 9, §6).
func (s *Server) handleTaskArtifacts(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	artifacts, _ := t.Metadata["artifacts"].([]any)
	if artifacts == nil {
		artifacts = []any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": t.ID, "artifacts": artifacts})
}

// handleTaskPRReview implements `GET /tasks/:id/pr-review`, re-running the
// read-only PR-integrity lookup against the task's recorded pr_url so a
// caller can inspect merge state without triggering a gate transition
// (spec §6 "PR integrity").
func (s *Server) handleTaskPRReview(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	prURL := t.Metadata.GetString("pr_url")
	if prURL == "" {
		if qb, ok := t.Metadata["qa_bundle"].(map[string]any); ok {
			if rp, ok := qb["review_packet"].(map[string]any); ok {
				if u, ok := rp["pr_url"].(string); ok {
					prURL = u
				}
			}
		}
	}
	if prURL == "" {
		writeJSON(w, http.StatusOK, map[string]any{"task_id": t.ID, "pr_url": "", "state": "unknown"})
		return
	}
	if s.prClient == nil {
		writeJSON(w, http.StatusOK, map[string]any{"task_id": t.ID, "pr_url": prURL, "state": "unknown"})
		return
	}
	info, err := s.prClient.Fetch(r.Context(), prURL)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"task_id": t.ID, "pr_url": prURL, "state": "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":       t.ID,
		"pr_url":        prURL,
		"state":         info.MergeState,
		"head_sha":      info.HeadSHA,
		"changed_files": info.ChangedFiles,
		"checks_passed": info.ChecksPassed,
	})
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.tasks.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleTaskComments(w http.ResponseWriter, r *http.Request) {
	c, err := s.tasks.Comments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAddTaskComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	actor := logging.GetActor(r.Context())
	c, err := s.tasks.AddComment(r.Context(), chi.URLParam(r, "id"), actor, body.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleNextTask implements `GET /tasks/next`: the highest-priority todo
// task whose blocked_by list is empty, a lightweight work-queue peek rather
// than the full routing-suggestion pipeline. Any listed dependency excludes
// a task, whether or not that dependency is already done.
func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	todo, err := s.tasks.List(r.Context(), model.StatusTodo)
	if err != nil {
		writeError(w, err)
		return
	}
	best := pickNext(todo)
	if best == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

var priorityRank = map[model.Priority]int{model.P0: 0, model.P1: 1, model.P2: 2, model.P3: 3}

func pickNext(tasks []*model.Task) *model.Task {
	var best *model.Task
	for _, t := range tasks {
		if len(t.BlockedBy) > 0 {
			continue
		}
		if best == nil || priorityRank[t.Priority] < priorityRank[best.Priority] {
			best = t
		}
	}
	return best
}

// doneCriteriaTemplates are the per-type minimums generalized in
// SPEC_FULL §3 ("done_criteria templates per task type").
var doneCriteriaTemplates = map[model.TaskType][]string{
	model.TaskBug:     {"Root cause identified", "Regression covered by a test"},
	model.TaskFeature: {"Behavior matches the written requirement", "Edge cases covered by tests"},
	model.TaskProcess: {"Process change documented and communicated"},
	model.TaskDocs:    {"Doc reviewed for accuracy"},
	model.TaskChore:   {"Change verified manually or by existing tests"},
}

func (s *Server) handleTaskTemplate(w http.ResponseWriter, r *http.Request) {
	t := model.TaskType(chi.URLParam(r, "type"))
	tmpl, ok := doneCriteriaTemplates[t]
	if !ok {
		writeError(w, apperr.NotFound("task_template", string(t)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": t, "done_criteria": tmpl})
}

func (s *Server) handleIntakeSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"required":    []string{"title", "type", "priority", "reviewer", "done_criteria"},
		"types":       []model.TaskType{model.TaskBug, model.TaskFeature, model.TaskProcess, model.TaskDocs, model.TaskChore},
		"priorities":  []model.Priority{model.P0, model.P1, model.P2, model.P3},
		"min_done_criteria": map[string]int{"default": 1, "feature": 2},
	})
}

func (s *Server) handleRecurringTasks(w http.ResponseWriter, r *http.Request) {
	defs, err := s.watchdogRepo.RecurringTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}
