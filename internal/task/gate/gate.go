// Package gate implements the ordered gate chain that every task mutation
// passes through before it is persisted (spec §4.1). Each gate is a pure
// function of (task, patch, now, external lookups) returning a decision or
// a structured error — no exceptions for control flow, matching the
// "Coroutine control flow in handlers" redesign note.
package gate

import (
	"context"
	"time"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/prreview"
)

// Lookups bundles the external dependencies a gate may need. The engine
// supplies closures so gates stay pure functions over explicit inputs and
// tests can substitute fakes without touching the store.
type Lookups struct {
	PRClient       prreview.Client
	WIPCount       func(ctx context.Context, assignee string) (int, error)
	OwesReflection func(ctx context.Context, assignee string, now time.Time) (bool, error)
	ResolveTask    func(ctx context.Context, id string) (*model.Task, error)
	WIPCap         func(assignee string) int
	ModelKnown     func(alias string) (effective string, ok bool)
	DefaultModel   string

	// FindBranchCollision returns the id of another doing task belonging to
	// assignee that is already stamped with branch, if any (spec §4.1 gate
	// 10's branch-name collision guard).
	FindBranchCollision func(ctx context.Context, assignee, branch, excludeTaskID string) (collidingTaskID string, found bool, err error)
}

// Context carries the mutable state threaded through the gate chain. Gates
// read Task/Patch, and may append to MetadataOverlay (the overlay that will be
// merged on top of Task.Metadata), Warnings, and AuditDiffs.
type Context struct {
	Ctx     context.Context
	Task    *model.Task
	Patch   *model.Patch
	Now     time.Time
	Actor   string
	Lookups Lookups

	// FocusWindowMinutes is the configured deep-work window length (spec
	// §4.1 gate 11), threaded in rather than hardcoded so policy reload
	// takes effect without a redeploy.
	FocusWindowMinutes int

	// MetadataOverlay holds additional metadata keys the gates want to
	// stamp (branch, effective model, review-state progression, etc) on
	// top of whatever the caller's patch already supplied.
	MetadataOverlay model.Metadata
	Warnings        []string
	AuditDiffs      []AuditDiff
	MutationAlerts  []MutationAlert
}

// AuditDiff is one audit-ledger row the engine must append after a
// successful apply.
type AuditDiff struct {
	Field  string
	Before string
	After  string
}

// MutationAlert is an anomaly the engine must debounce-and-record.
type MutationAlert struct {
	Kind   string
	Actor  string
	Detail string
}

func newContext(ctx context.Context, task *model.Task, patch *model.Patch, now time.Time, lookups Lookups, focusWindowMinutes int) *Context {
	actor := patch.Actor
	return &Context{
		Ctx: ctx, Task: task, Patch: patch, Now: now, Actor: actor, Lookups: lookups,
		MetadataOverlay:    model.Metadata{},
		FocusWindowMinutes: focusWindowMinutes,
	}
}

// Gate is one link in the chain.
type Gate func(*Context) error

// Chain is the full ordered gate-chain, indices 2-11 of spec §4.1 (gate 1,
// prefix resolution, happens before the chain runs — see store.ResolvePrefix).
var Chain = []struct {
	Name string
	Fn   Gate
}{
	{"state_transition", StateTransition},
	{"reviewer_identity", ReviewerIdentity},
	{"model_validation", ModelValidation},
	{"qa_bundle", QABundle},
	{"re_review_delta", ReReviewDelta},
	{"wip_cap", WIPCap},
	{"reflection_debt", ReflectionDebt},
	{"close_gate", CloseGate},
	{"branch_stamping", BranchStamping},
	{"focus_window", FocusWindow},
}

// Run executes every gate in order, short-circuiting on the first failure
// (spec §4.1: "ordered; first failure short-circuits").
func Run(ctx context.Context, task *model.Task, patch *model.Patch, now time.Time, lookups Lookups, focusWindowMinutes int) (*Context, error) {
	gctx := newContext(ctx, task, patch, now, lookups, focusWindowMinutes)
	for _, g := range Chain {
		if err := g.Fn(gctx); err != nil {
			if ae, ok := apperr.As(err); ok && ae.Gate == "" {
				ae.Gate = g.Name
			}
			return gctx, err
		}
	}
	return gctx, nil
}
