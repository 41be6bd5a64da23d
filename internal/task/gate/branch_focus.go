package gate

import (
	"time"
)

// shortID returns a short, stable suffix for branch-name stamping.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// BranchStamping implements spec §4.1 gate 10: on *->doing the engine
// stamps metadata.branch = "{assignee}/task-{shortId}" unless already set.
// It then checks the stamped name for collisions against the assignee's
// other doing tasks and, if one exists, warns with the colliding task's id
// (spec §3's branch-name collision guard).
func BranchStamping(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "doing" {
		return nil
	}
	if _, already := c.Task.Metadata["branch"]; already {
		return nil
	}
	if _, overlaid := c.MetadataOverlay["branch"]; overlaid {
		return nil
	}
	assignee := c.Task.Assignee
	if c.Patch.Assignee != nil {
		assignee = *c.Patch.Assignee
	}
	if assignee == "" {
		return nil
	}
	branch := assignee + "/task-" + shortID(c.Task.ID)
	c.MetadataOverlay["branch"] = branch

	if c.Lookups.FindBranchCollision != nil {
		if collidingID, found, err := c.Lookups.FindBranchCollision(c.Ctx, assignee, branch, c.Task.ID); err == nil && found {
			c.Warnings = append(c.Warnings, "branch "+branch+" collides with task "+shortID(collidingID)+" already in doing")
		}
	}
	return nil
}

// FocusWindow implements spec §4.1 gate 11: on *->doing the engine opens a
// 45-minute deep-work window for the assignee, recorded in metadata so the
// noise budget and watchdogs can consult it.
func FocusWindow(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "doing" {
		return nil
	}
	window := c.FocusWindowMinutes
	if window <= 0 {
		window = 45
	}
	c.MetadataOverlay["focus_window_until"] = c.Now.Add(time.Duration(window) * time.Minute).UTC().Format(time.RFC3339Nano)
	return nil
}
