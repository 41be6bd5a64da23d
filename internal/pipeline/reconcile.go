package pipeline

import (
	"context"
	"time"

	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/store"
)

// Orphan describes a promoted insight whose referenced task no longer
// resolves — the condition the reconciliation job detects and, outside
// dry-run, heals by reopening the insight for a fresh bridge attempt
// (SPEC_FULL §4 "Pipeline health monitor" / reconciliation).
type Orphan struct {
	InsightID string
	TaskID    string
	Detail    string
}

// Reconcile scans every promoted insight and reports ones whose task_id no
// longer resolves to a task row. With dryRun=false, orphans are reopened
// (status reset to open, task_id cleared) so the next Ingest for that
// cluster re-runs the auto-task bridge.
func (p *Pipeline) Reconcile(ctx context.Context, dryRun bool) ([]Orphan, error) {
	promoted, err := p.reflections.ListPromoted(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []Orphan
	for _, in := range promoted {
		if _, err := p.tasks.Get(ctx, in.TaskID); err == nil {
			continue
		} else if err != store.ErrNotFound {
			return nil, err
		}

		orphans = append(orphans, Orphan{InsightID: in.ID, TaskID: in.TaskID, Detail: "referenced task no longer exists"})
		if dryRun {
			continue
		}

		now := time.Now()
		in.Status = model.InsightOpen
		in.TaskID = ""
		in.UpdatedAt = now
		if err := p.reflections.UpsertInsight(ctx, in); err != nil {
			return nil, err
		}
		if err := p.reflections.AppendPromotionAudit(ctx, in.ID, "reopened", "orphaned task_id cleared by reconciliation", now.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, err
		}
	}
	return orphans, nil
}
