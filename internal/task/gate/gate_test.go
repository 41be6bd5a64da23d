package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/prreview"
)

// fakePRClient returns a fixed Info for every URL, letting tests drive the
// close-gate / qa-bundle PR-integrity branches without a live collaborator.
type fakePRClient struct {
	info *prreview.Info
	err  error
}

func (f *fakePRClient) Fetch(ctx context.Context, prURL string) (*prreview.Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func statusPtr(s model.TaskStatus) *model.TaskStatus { return &s }

func baseTask() *model.Task {
	return &model.Task{
		ID:       "task-0000001",
		Title:    "Fix login SSO state handling",
		Type:     model.TaskBug,
		Status:   model.StatusTodo,
		Priority: model.P1,
		Reviewer: "kai",
		Metadata: model.Metadata{},
	}
}

func baseLookups() Lookups {
	return Lookups{
		WIPCount: func(ctx context.Context, assignee string) (int, error) { return 0, nil },
		WIPCap:   func(assignee string) int { return 3 },
		OwesReflection: func(ctx context.Context, assignee string, now time.Time) (bool, error) {
			return false, nil
		},
		ResolveTask: func(ctx context.Context, id string) (*model.Task, error) {
			return &model.Task{ID: id}, nil
		},
		ModelKnown: func(alias string) (string, bool) {
			known := map[string]string{"opus": "claude-opus-4", "sonnet": "claude-sonnet-4"}
			v, ok := known[alias]
			return v, ok
		},
		DefaultModel: "claude-sonnet-4",
		FindBranchCollision: func(ctx context.Context, assignee, branch, excludeTaskID string) (string, bool, error) {
			return "", false, nil
		},
	}
}

// TestHappyPathShip walks spec §8 scenario 1 through the gate chain:
// todo->doing, doing->validating with a clean qa_bundle, validating->done
// with a merged PR and reviewer approval.
func TestHappyPathShip(t *testing.T) {
	task := baseTask()
	task.Assignee = "link"
	lookups := baseLookups()
	lookups.PRClient = &fakePRClient{info: &prreview.Info{
		MergeState: prreview.StateMerged, HeadSHA: "abc1234def", ChangedFiles: []string{"src/auth.ts"},
	}}

	gctx, err := Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusDoing), Actor: "link",
	}, time.Now(), lookups, 45)
	require.NoError(t, err)
	assert.Equal(t, "link/task-task-000", gctx.MetadataOverlay["branch"])
	task.Status = model.StatusDoing
	task.Metadata = task.Metadata.Merge(gctx.MetadataOverlay)

	gctx, err = Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusValidating), Actor: "link",
		Metadata: model.Metadata{"qa_bundle": map[string]any{
			"review_packet": map[string]any{
				"task_id": task.ID, "pr_url": "https://github.com/o/r/pull/7", "commit": "abc1234",
				"changed_files": []any{"src/auth.ts"}, "artifact_path": "process/x", "caveats": "none",
			},
		}},
	}, time.Now(), lookups, 45)
	require.NoError(t, err)
	task.Status = model.StatusValidating
	task.Metadata = task.Metadata.Merge(gctx.MetadataOverlay)

	gctx, err = Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusDone), Actor: "kai",
		Metadata: model.Metadata{
			"reviewer_approved": true,
			"artifacts":         []any{"https://github.com/o/r/pull/7", "tested locally"},
		},
	}, time.Now(), lookups, 45)
	require.NoError(t, err)
	assert.Empty(t, gctx.Warnings)
}

// TestUnauthorizedApproval covers spec §8 scenario 2: a non-reviewer
// submitting reviewer_approved=true is rejected by reviewer_identity with a
// 403 and a recorded mutation alert.
func TestUnauthorizedApproval(t *testing.T) {
	task := baseTask()
	task.Status = model.StatusValidating

	gctx, err := Run(context.Background(), task, &model.Patch{
		Actor:    "sage",
		Metadata: model.Metadata{"reviewer_approved": true},
	}, time.Now(), baseLookups(), 45)

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindAuthorization, ae.Kind)
	assert.Equal(t, "reviewer_identity", ae.Gate)
	require.Len(t, gctx.MutationAlerts, 1)
	assert.Equal(t, "unauthorized_approval", gctx.MutationAlerts[0].Kind)
	assert.Equal(t, "sage", gctx.MutationAlerts[0].Actor)
}

// TestCloseGateViolation covers spec §8 scenario 5: empty artifacts fails
// with gate=artifacts; an unmerged PR fails with gate=pr_not_merged; a
// merged PR with a non-empty artifacts list passes once the task has no
// reviewer.
func TestCloseGateViolation(t *testing.T) {
	task := baseTask()
	task.Status = model.StatusValidating
	lookups := baseLookups()

	_, err := Run(context.Background(), task, &model.Patch{
		Status:   statusPtr(model.StatusDone),
		Metadata: model.Metadata{},
	}, time.Now(), lookups, 45)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "artifacts", ae.Gate)

	lookups.PRClient = &fakePRClient{info: &prreview.Info{MergeState: prreview.StateOpen}}
	_, err = Run(context.Background(), task, &model.Patch{
		Status:   statusPtr(model.StatusDone),
		Metadata: model.Metadata{"artifacts": []any{"https://github.com/o/r/pull/7"}},
	}, time.Now(), lookups, 45)
	ae, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "pr_not_merged", ae.Gate)

	lookups.PRClient = &fakePRClient{info: &prreview.Info{MergeState: prreview.StateMerged}}
	task.Reviewer = ""
	_, err = Run(context.Background(), task, &model.Patch{
		Status:   statusPtr(model.StatusDone),
		Metadata: model.Metadata{"artifacts": []any{"https://github.com/o/r/pull/7"}},
	}, time.Now(), lookups, 45)
	require.NoError(t, err)
}

func TestModelValidation_UnknownAliasRejected(t *testing.T) {
	task := baseTask()
	task.Assignee = "link"
	_, err := Run(context.Background(), task, &model.Patch{
		Status:   statusPtr(model.StatusDoing),
		Actor:    "link",
		Metadata: model.Metadata{"model": "gpt-nope"},
	}, time.Now(), baseLookups(), 45)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
}

func TestModelValidation_MissingAliasDefaults(t *testing.T) {
	task := baseTask()
	task.Assignee = "link"
	gctx, err := Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusDoing),
		Actor:  "link",
	}, time.Now(), baseLookups(), 45)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4", gctx.MetadataOverlay["model"])
	assert.Equal(t, true, gctx.MetadataOverlay["model_defaulted"])
}

func TestModelValidation_KnownAliasStampsEffectiveModel(t *testing.T) {
	task := baseTask()
	task.Assignee = "link"
	gctx, err := Run(context.Background(), task, &model.Patch{
		Status:   statusPtr(model.StatusDoing),
		Actor:    "link",
		Metadata: model.Metadata{"model": "opus"},
	}, time.Now(), baseLookups(), 45)
	require.NoError(t, err)
	assert.Equal(t, "opus", gctx.MetadataOverlay["model"])
	assert.Equal(t, "claude-opus-4", gctx.MetadataOverlay["model_effective"])
}

func TestBranchStamping_CollisionWarnsWithTaskID(t *testing.T) {
	task := baseTask()
	task.Assignee = "link"
	lookups := baseLookups()
	lookups.FindBranchCollision = func(ctx context.Context, assignee, branch, excludeTaskID string) (string, bool, error) {
		return "task-0000099", true, nil
	}

	gctx, err := Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusDoing), Actor: "link",
	}, time.Now(), lookups, 45)
	require.NoError(t, err)
	require.Len(t, gctx.Warnings, 1)
	assert.Contains(t, gctx.Warnings[0], "task-0000099"[:8])
}

func TestStateTransition_IllegalWithoutReopen(t *testing.T) {
	task := baseTask()
	task.Status = model.StatusDone
	_, err := Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusDoing),
	}, time.Now(), baseLookups(), 45)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "state_transition", ae.Gate)
}

func TestWIPCap_BlocksAtCapUnlessOverridden(t *testing.T) {
	task := baseTask()
	task.Assignee = "link"
	lookups := baseLookups()
	lookups.WIPCount = func(ctx context.Context, assignee string) (int, error) { return 3, nil }

	_, err := Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusDoing), Actor: "link",
	}, time.Now(), lookups, 45)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "wip_cap", ae.Gate)

	gctx, err := Run(context.Background(), task, &model.Patch{
		Status: statusPtr(model.StatusDoing), Actor: "link",
		Metadata: model.Metadata{"wip_override": true, "wip_override_reason": "urgent hotfix"},
	}, time.Now(), lookups, 45)
	require.NoError(t, err)
	assert.Equal(t, true, gctx.MetadataOverlay["wip_override"])
}
