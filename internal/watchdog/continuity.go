package watchdog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/model"
)

// ContinuityAction persists a worker's intent to take an external action
// BEFORE the action fires, so a crash between persistence and delivery
// leaves a record the next tick can complete rather than silently
// dropping or double-firing (spec §4.3 "Continuity tick", §5 write-then-
// send guarantee).
func (s *Suite) ContinuityAction(ctx context.Context, worker, actionKind, targetID string, payload model.Metadata, now time.Time) (*model.ContinuityAction, error) {
	a := &model.ContinuityAction{
		ID: uuid.NewString(), Worker: worker, ActionKind: actionKind,
		TargetID: targetID, Payload: payload, Delivered: false, CreatedAt: now,
	}
	if err := s.audit.AppendContinuityAction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ContinuityDelivered marks a previously persisted action as completed,
// letting a restart distinguish "never attempted" from "already sent."
func (s *Suite) ContinuityDelivered(ctx context.Context, actionID string) error {
	return s.audit.MarkContinuityDelivered(ctx, actionID)
}
