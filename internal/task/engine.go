// Package task implements the task lifecycle engine: the single entry
// point for task mutation, running every patch through the ordered gate
// chain in internal/task/gate before applying metadata merge, auto-
// defaults, and review-state normalization (spec §4.1).
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/audit"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/prreview"
	"github.com/opsgovernor/governor/internal/store"
	"github.com/opsgovernor/governor/internal/task/gate"
)

// reviewSensitiveFields are diffed into the audit ledger on every change
// (spec §4.1 "Metadata merge", §4.5 "Audit ledger").
var reviewSensitiveFields = []string{
	"reviewer_approved", "reviewer_notes", "review_state", "review_handoff",
	"qa_bundle", "pr_integrity_override",
}

// Engine is the task lifecycle engine.
type Engine struct {
	tasks       *store.TaskRepo
	audit       *store.AuditRepo
	reflections *store.ReflectionRepo
	bus         *eventbus.Bus
	log         *logging.Logger
	cfg         *config.Watcher
	prClient    prreview.Client
}

func New(tasks *store.TaskRepo, audit *store.AuditRepo, reflections *store.ReflectionRepo, bus *eventbus.Bus, log *logging.Logger, cfg *config.Watcher, prClient prreview.Client) *Engine {
	return &Engine{tasks: tasks, audit: audit, reflections: reflections, bus: bus, log: log, cfg: cfg, prClient: prClient}
}

// Create intakes a brand-new task (spec §3 Task "created via intake").
// priority and reviewer are required from creation; done_criteria must
// have >=1 entry (>=2 for features).
func (e *Engine) Create(ctx context.Context, t *model.Task) (*model.Task, error) {
	if t.Priority == "" {
		return nil, apperr.Validation("priority is required", "priority")
	}
	if t.Reviewer == "" {
		return nil, apperr.Validation("reviewer is required", "reviewer")
	}
	minCriteria := 1
	if t.Type == model.TaskFeature {
		minCriteria = 2
	}
	if len(t.DoneCriteria) < minCriteria {
		return nil, apperr.Validation(fmt.Sprintf("done_criteria requires at least %d entries for this task type", minCriteria), "done_criteria")
	}
	if t.Status == "" {
		t.Status = model.StatusTodo
	}
	if t.Metadata == nil {
		t.Metadata = model.Metadata{}
	}
	t.ID = uuid.NewString()
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := e.tasks.Create(ctx, t); err != nil {
		return nil, apperr.Internal("failed to persist task", err)
	}
	e.bus.Publish(eventbus.Event{Kind: eventbus.KindTaskCreated, Agent: t.CreatedBy, Payload: t})
	return t, nil
}

// Apply resolves idPrefix, runs the full gate chain against patch, and
// persists the result (spec §4.1 "Single entry point for task mutation").
// Gate 1 (prefix resolution) happens here via the repository; on success
// the audit ledger, task history, and event bus are all updated before
// returning.
func (e *Engine) Apply(ctx context.Context, idPrefix string, patch *model.Patch) (*model.Task, error) {
	t, err := e.tasks.ResolvePrefix(ctx, idPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cfg := e.cfg.Get()
	lookups := e.buildLookups(cfg)

	gctx, err := gate.Run(ctx, t, patch, now, lookups, cfg.Task.FocusWindowMin)
	if err != nil {
		if len(gctx.MutationAlerts) > 0 {
			e.recordMutationAlerts(ctx, t.ID, gctx.MutationAlerts)
		}
		return nil, err
	}

	before := snapshotSensitiveFields(t)

	fromStatus := t.Status
	applyPatch(t, patch, gctx.MetadataOverlay)
	t.UpdatedAt = now

	if err := e.tasks.Update(ctx, t); err != nil {
		return nil, apperr.Internal("failed to persist task update", err)
	}

	if patch.Status != nil && *patch.Status != fromStatus {
		hist := &model.TaskHistoryEntry{
			ID: uuid.NewString(), TaskID: t.ID, FromState: fromStatus, ToState: *patch.Status,
			Actor: patch.Actor, CreatedAt: now,
		}
		if v, ok := patch.Metadata["reopen_reason"].(string); ok {
			hist.Reason = v
		}
		if err := e.tasks.AppendHistory(ctx, hist); err != nil {
			e.log.WithError(err).Warn("failed to append task history")
		}
		if *patch.Status == model.StatusDone && t.Assignee != "" {
			if err := e.reflections.IncrementDoneSinceReflection(ctx, t.Assignee); err != nil {
				e.log.WithError(err).Warn("failed to increment reflection-debt counter")
			}
		}
	}

	after := snapshotSensitiveFields(t)
	e.diffAudit(ctx, t.ID, patch.Actor, before, after)
	for _, d := range gctx.AuditDiffs {
		_ = e.audit.AppendEntry(ctx, &model.AuditEntry{
			ID: uuid.NewString(), TaskID: t.ID, Actor: patch.Actor, Context: "gate_chain",
			Field: d.Field, Before: d.Before, After: d.After, CreatedAt: now,
		})
	}
	if len(gctx.MutationAlerts) > 0 {
		e.recordMutationAlerts(ctx, t.ID, gctx.MutationAlerts)
	}

	kind := eventbus.KindTaskUpdated
	if patch.Status != nil && *patch.Status != fromStatus {
		kind = eventbus.KindStatusChanged
	}
	e.bus.Publish(eventbus.Event{Kind: kind, Agent: patch.Actor, Payload: t})

	return t, nil
}

// applyPatch overlays the caller's patch and the gate-chain's metadata
// overlay onto t (spec §4.1 "Metadata merge"): patch values win over
// existing fields, overlay values win over the patch.
func applyPatch(t *model.Task, p *model.Patch, overlay model.Metadata) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.Reviewer != nil {
		t.Reviewer = *p.Reviewer
	}
	if p.DoneCriteria != nil {
		t.DoneCriteria = p.DoneCriteria
	}
	if p.BlockedBy != nil {
		t.BlockedBy = p.BlockedBy
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	merged := t.Metadata.Merge(p.Metadata)
	merged = merged.Merge(overlay)
	merged = normalizeArtifactPaths(merged)
	t.Metadata = merged
}

// normalizeArtifactPaths rewrites workspace-prefixed artifact_path values
// to repo-relative paths and strips ".." sequences from them; the rewrite
// is not logged or flagged (spec §4.1 "Metadata merge" auto-defaults).
func normalizeArtifactPaths(m model.Metadata) model.Metadata {
	bundle, ok := m["qa_bundle"].(map[string]any)
	if !ok {
		return m
	}
	packet, ok := bundle["review_packet"].(map[string]any)
	if !ok {
		return m
	}
	path, ok := packet["artifact_path"].(string)
	if !ok {
		return m
	}
	clean := path
	for _, prefix := range []string{"workspace/", "/workspace/"} {
		clean = strings.TrimPrefix(clean, prefix)
	}
	if strings.Contains(clean, "..") {
		clean = strings.ReplaceAll(clean, "..", "")
	}
	packet["artifact_path"] = clean
	bundle["review_packet"] = packet
	m["qa_bundle"] = bundle
	return m
}

func snapshotSensitiveFields(t *model.Task) map[string]string {
	out := make(map[string]string, len(reviewSensitiveFields))
	for _, f := range reviewSensitiveFields {
		if f == "qa_bundle" {
			continue // diffed field-by-field below instead of as one opaque blob
		}
		out[f] = fmt.Sprintf("%v", t.Metadata[f])
	}
	for path, v := range audit.ExtractFields(t.Metadata, audit.QABundlePaths) {
		out[path] = v
	}
	out["reviewer"] = t.Reviewer
	out["status"] = string(t.Status)
	return out
}

func (e *Engine) diffAudit(ctx context.Context, taskID, actor string, before, after map[string]string) {
	now := time.Now()
	for field, b := range before {
		a := after[field]
		if a == b {
			continue
		}
		entry := &model.AuditEntry{
			ID: uuid.NewString(), TaskID: taskID, Actor: actor, Context: "task_patch",
			Field: field, Before: b, After: a, CreatedAt: now,
		}
		if err := e.audit.AppendEntry(ctx, entry); err != nil {
			e.log.WithError(err).Warn("failed to append audit entry")
		}
	}
}

func (e *Engine) recordMutationAlerts(ctx context.Context, taskID string, alerts []gate.MutationAlert) {
	now := time.Now()
	for _, a := range alerts {
		last, err := e.audit.LastMutationAlert(ctx, taskID, a.Kind)
		if err == nil && now.Sub(last.CreatedAt) < 30*time.Minute {
			continue // debounced: one alert per (task, kind) per window, spec §4.5
		}
		_ = e.audit.AppendMutationAlert(ctx, &model.MutationAlert{
			ID: uuid.NewString(), TaskID: taskID, Kind: a.Kind, Actor: a.Actor, Detail: a.Detail, CreatedAt: now,
		})
	}
}

// Precheck runs the full gate chain against patch without persisting
// anything, so a caller can learn whether a mutation would be accepted
// (spec §6 `/tasks/:id/precheck`) before committing to it via Apply.
func (e *Engine) Precheck(ctx context.Context, idPrefix string, patch *model.Patch) (*gate.Context, error) {
	t, err := e.tasks.ResolvePrefix(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	cfg := e.cfg.Get()
	lookups := e.buildLookups(cfg)
	return gate.Run(ctx, t, patch, now, lookups, cfg.Task.FocusWindowMin)
}

// buildLookups assembles the gate chain's external-dependency callbacks
// against a single config snapshot, so Apply and Precheck can't drift out
// of sync with each other's wiring.
func (e *Engine) buildLookups(cfg *config.Config) gate.Lookups {
	return gate.Lookups{
		PRClient: e.prClient,
		WIPCount: func(ctx context.Context, assignee string) (int, error) {
			tasks, err := e.tasks.ListByAssignee(ctx, assignee, model.StatusDoing)
			if err != nil {
				return 0, err
			}
			return len(tasks), nil
		},
		WIPCap: func(assignee string) int { return cfg.Task.DefaultWIPCap },
		OwesReflection: func(ctx context.Context, assignee string, now time.Time) (bool, error) {
			tr, err := e.reflections.GetTracking(ctx, assignee)
			if err != nil {
				return false, err
			}
			if tr.DoneTasksSinceReflection < 2 {
				return false, nil
			}
			if !tr.HasReflected {
				return true, nil
			}
			return now.Sub(tr.LastReflectionAt) > 4*time.Hour, nil
		},
		ResolveTask: func(ctx context.Context, id string) (*model.Task, error) {
			return e.tasks.ResolvePrefix(ctx, id)
		},
		ModelKnown: func(alias string) (string, bool) {
			effective, ok := cfg.Task.KnownModels[alias]
			return effective, ok
		},
		DefaultModel: cfg.Task.DefaultModel,
		FindBranchCollision: func(ctx context.Context, assignee, branch, excludeTaskID string) (string, bool, error) {
			tasks, err := e.tasks.ListByAssignee(ctx, assignee, model.StatusDoing)
			if err != nil {
				return "", false, err
			}
			for _, other := range tasks {
				if other.ID == excludeTaskID {
					continue
				}
				if b, _ := other.Metadata["branch"].(string); b == branch {
					return other.ID, true, nil
				}
			}
			return "", false, nil
		},
	}
}

// Get resolves a task by id/prefix without mutation.
func (e *Engine) Get(ctx context.Context, idPrefix string) (*model.Task, error) {
	return e.tasks.ResolvePrefix(ctx, idPrefix)
}

// AddComment appends a comment to a task's thread.
func (e *Engine) AddComment(ctx context.Context, idPrefix, author, body string) (*model.TaskComment, error) {
	t, err := e.tasks.ResolvePrefix(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	c := &model.TaskComment{ID: uuid.NewString(), TaskID: t.ID, Author: author, Body: body, CreatedAt: time.Now()}
	if err := e.tasks.AddComment(ctx, c); err != nil {
		return nil, apperr.Internal("failed to persist comment", err)
	}
	return c, nil
}

// History returns a task's transition trail.
func (e *Engine) History(ctx context.Context, idPrefix string) ([]*model.TaskHistoryEntry, error) {
	t, err := e.tasks.ResolvePrefix(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	return e.tasks.History(ctx, t.ID)
}

// List returns every task, optionally filtered by status, backing the
// `GET /tasks` HTTP surface (spec §6).
func (e *Engine) List(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	if status == "" {
		return e.tasks.All(ctx)
	}
	return e.tasks.ListByStatus(ctx, status)
}

// Delete removes a task outright. Spec §3 forbids deletion "in
// production (soft closure via done)"; the only exception carved out
// here is metadata.is_test=true, so seed/fixture tasks created for
// exercising the engine don't accumulate forever.
func (e *Engine) Delete(ctx context.Context, idPrefix string) error {
	t, err := e.tasks.ResolvePrefix(ctx, idPrefix)
	if err != nil {
		return err
	}
	if !t.Metadata.GetBool("is_test") {
		return apperr.Validation("only tasks with metadata.is_test=true may be deleted; close non-test tasks via status=done instead")
	}
	return e.tasks.Delete(ctx, t.ID)
}

// Comments returns a task's comment thread.
func (e *Engine) Comments(ctx context.Context, idPrefix string) ([]*model.TaskComment, error) {
	t, err := e.tasks.ResolvePrefix(ctx, idPrefix)
	if err != nil {
		return nil, err
	}
	return e.tasks.Comments(ctx, t.ID)
}
