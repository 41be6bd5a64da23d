package gate

import (
	"strings"

	"github.com/opsgovernor/governor/internal/apperr"
)

// ReviewerIdentity enforces spec §4.1 gate 3: only the task's designated
// reviewer may set reviewer_approved=true. A mismatch stamps an
// approval_rejected artifact, queues a mutation alert, and fails with 403.
func ReviewerIdentity(c *Context) error {
	approved, ok := c.Patch.Metadata["reviewer_approved"].(bool)
	if !ok || !approved {
		return nil
	}

	if c.Actor == "" || !strings.EqualFold(c.Actor, c.Task.Reviewer) {
		c.MetadataOverlay["approval_rejected"] = true
		c.MutationAlerts = append(c.MutationAlerts, MutationAlert{
			Kind:   "unauthorized_approval",
			Actor:  c.Actor,
			Detail: "actor " + c.Actor + " attempted reviewer_approved for reviewer " + c.Task.Reviewer,
		})
		return apperr.Unauthorized("reviewer_identity", "only the designated reviewer may approve this task")
	}
	return nil
}
