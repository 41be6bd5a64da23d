package routing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/store"
)

// Queue is the routing-approval queue: tasks carrying
// metadata.routing_approval=true surface here for a human decision (spec
// §4.5 "Routing approval queue").
type Queue struct {
	tasks *store.TaskRepo
	audit *store.AuditRepo
}

func NewQueue(tasks *store.TaskRepo, audit *store.AuditRepo) *Queue {
	return &Queue{tasks: tasks, audit: audit}
}

// Pending returns every task awaiting a routing-approval decision.
func (q *Queue) Pending(ctx context.Context) ([]*model.Task, error) {
	all, err := q.tasks.All(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list tasks", err)
	}
	var out []*model.Task
	for _, t := range all {
		if t.Metadata.GetBool("routing_approval") && !t.Metadata.GetBool("routing_decided") {
			out = append(out, t)
		}
	}
	return out, nil
}

// Decide mutates only the queued task, marking it approved or rejected;
// rejected tasks are flagged suppressed from re-suggestion (spec §4.5).
func (q *Queue) Decide(ctx context.Context, taskID, actor, decision, reason string) (*model.Task, error) {
	t, err := q.tasks.Get(ctx, taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("task", taskID)
		}
		return nil, apperr.Internal("failed to load task", err)
	}
	if decision != "approve" && decision != "reject" {
		return nil, apperr.Validation("decision must be approve or reject", "decision")
	}

	before := t.Metadata.GetBool("routing_approved")
	t.Metadata = t.Metadata.Clone()
	t.Metadata["routing_decided"] = true
	t.Metadata["routing_decision_actor"] = actor
	t.Metadata["routing_decision_reason"] = reason
	if decision == "approve" {
		t.Metadata["routing_approved"] = true
	} else {
		t.Metadata["routing_approved"] = false
		t.Metadata["routing_suppressed"] = true
	}
	t.UpdatedAt = time.Now()
	if err := q.tasks.Update(ctx, t); err != nil {
		return nil, apperr.Internal("failed to persist routing decision", err)
	}

	_ = q.audit.AppendEntry(ctx, &model.AuditEntry{
		ID: uuid.NewString(), TaskID: t.ID, Actor: actor, Context: "routing_approval",
		Field: "routing_approved", Before: boolStr(before), After: boolStr(decision == "approve"),
		CreatedAt: time.Now(),
	})
	return t, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// SweepExpiredOverrides returns the overrides whose ExpiresAt is at or
// before now. It deletes and logs nothing, and no scheduled tick calls it;
// expired overrides are excluded at read time by ActiveRoutingOverrides.
func SweepExpiredOverrides(overrides []*model.RoutingOverride, now time.Time) []*model.RoutingOverride {
	var expired []*model.RoutingOverride
	for _, o := range overrides {
		if !o.ExpiresAt.After(now) {
			expired = append(expired, o)
		}
	}
	return expired
}
