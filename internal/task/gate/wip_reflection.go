package gate

import "github.com/opsgovernor/governor/internal/apperr"

// WIPCap enforces spec §4.1 gate 7: on *->doing, the assignee's in-flight
// doing count must stay below their configured cap, overridable with
// wip_override + a reason (flagged for audit).
func WIPCap(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "doing" {
		return nil
	}
	assignee := c.Task.Assignee
	if c.Patch.Assignee != nil {
		assignee = *c.Patch.Assignee
	}
	if assignee == "" || c.Lookups.WIPCount == nil || c.Lookups.WIPCap == nil {
		return nil
	}

	override, _ := c.Patch.Metadata["wip_override"].(bool)
	reason, _ := c.Patch.Metadata["wip_override_reason"].(string)

	count, err := c.Lookups.WIPCount(c.Ctx, assignee)
	if err != nil {
		return apperr.Transient("failed to read WIP count", err)
	}
	wipCap := c.Lookups.WIPCap(assignee)
	if count >= wipCap {
		if override && reason != "" {
			c.MetadataOverlay["wip_override"] = true
			c.MetadataOverlay["wip_override_reason"] = reason
			c.AuditDiffs = append(c.AuditDiffs, AuditDiff{Field: "wip_override", Before: "false", After: "true"})
			return nil
		}
		return apperr.GateFailure("wip_cap", "assignee is at their WIP cap", "set metadata.wip_override=true with wip_override_reason to force this")
	}
	return nil
}

// ReflectionDebt enforces spec §4.1 gate 8: on *->doing, an assignee who
// has completed >=2 tasks since their last reflection AND more than 4h has
// elapsed may not start new work until they reflect.
func ReflectionDebt(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "doing" {
		return nil
	}
	assignee := c.Task.Assignee
	if c.Patch.Assignee != nil {
		assignee = *c.Patch.Assignee
	}
	if assignee == "" || c.Lookups.OwesReflection == nil {
		return nil
	}
	owes, err := c.Lookups.OwesReflection(c.Ctx, assignee, c.Now)
	if err != nil {
		return apperr.Transient("failed to evaluate reflection debt", err)
	}
	if owes {
		return apperr.GateFailure("reflection_debt", "assignee owes a reflection before starting new work",
			"submit a reflection via POST /reflections before claiming new doing work")
	}
	return nil
}
