package gate

import (
	"strings"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/prreview"
)

func isSpecLane(c *Context) bool {
	switch c.Task.Type {
	case "process":
		return true
	}
	if v, ok := c.Task.Metadata["spec_lane"].(bool); ok && v {
		return true
	}
	return false
}

// CloseGate enforces spec §4.1 gate 9: *->done requires non-empty
// artifacts; code-lane tasks additionally require a PR URL in artifacts
// whose PR the PR client does not report as open or closed (an unknown
// state, or no client, is accepted); reviewer_approved=true if a reviewer
// exists; spec/design/research
// tasks must link a resolvable follow_on_task_id or set follow_on_na=true
// with a reason.
func CloseGate(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "done" {
		return nil
	}

	artifacts, _ := c.Patch.Metadata["artifacts"].([]any)
	if len(artifacts) == 0 {
		if existing, ok := c.Task.Metadata["artifacts"].([]any); ok {
			artifacts = existing
		}
	}
	if len(artifacts) == 0 {
		return apperr.GateFailure("artifacts", "done requires a non-empty artifacts list", "add at least one artifact reference (PR URL, test log, etc)")
	}

	if !isNonCodeLane(c) {
		prURL := firstPRURL(artifacts)
		if prURL == "" {
			return apperr.GateFailure("artifacts", "code-lane tasks require at least one PR URL in artifacts", "")
		}
		if c.Lookups.PRClient != nil {
			info, err := c.Lookups.PRClient.Fetch(c.Ctx, prURL)
			if err == nil && info.MergeState != prreview.StateUnknown && info.MergeState != prreview.StateMerged {
				return apperr.GateFailure("pr_not_merged", "the linked PR is not merged", "merge the PR before closing this task")
			}
		}
	}

	reviewerApproved, _ := c.Patch.Metadata["reviewer_approved"].(bool)
	if !reviewerApproved {
		if v, ok := c.Task.Metadata["reviewer_approved"].(bool); ok {
			reviewerApproved = v
		}
	}
	if c.Task.Reviewer != "" && !reviewerApproved {
		return apperr.GateFailure("reviewer_approval", "done requires reviewer_approved=true", "ask "+c.Task.Reviewer+" to approve via POST /tasks/:id/review")
	}

	if isSpecLane(c) {
		followOn, _ := c.Patch.Metadata["follow_on_task_id"].(string)
		followOnNA, _ := c.Patch.Metadata["follow_on_na"].(bool)
		reason, _ := c.Patch.Metadata["follow_on_reason"].(string)
		switch {
		case followOn != "":
			if c.Lookups.ResolveTask != nil {
				if _, err := c.Lookups.ResolveTask(c.Ctx, followOn); err != nil {
					return apperr.GateFailure("follow_on", "follow_on_task_id does not resolve to a task", "")
				}
			}
		case followOnNA && strings.TrimSpace(reason) != "":
			// accepted N/A with reason
		default:
			return apperr.GateFailure("follow_on", "spec/design/research tasks require follow_on_task_id or follow_on_na=true with a reason", "")
		}
	}

	return nil
}

func firstPRURL(artifacts []any) string {
	for _, a := range artifacts {
		s, _ := a.(string)
		if prreview.ValidPRURL(s) {
			return s
		}
	}
	return ""
}
