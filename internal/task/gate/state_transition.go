package gate

import (
	"strings"
	"time"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/model"
)

// whitelist encodes the legal state-transition graph from spec §4.1 gate 2.
var whitelist = map[model.TaskStatus][]model.TaskStatus{
	model.StatusTodo:       {model.StatusDoing},
	model.StatusDoing:      {model.StatusBlocked, model.StatusValidating},
	model.StatusBlocked:    {model.StatusDoing, model.StatusTodo},
	model.StatusValidating: {model.StatusDone, model.StatusDoing},
	model.StatusDone:       {},
}

func allowed(from, to model.TaskStatus) bool {
	if from == to {
		// Same-state "transitions" (e.g. validating->validating for
		// re-review) are governed by ReReviewDelta, not this gate.
		return true
	}
	for _, s := range whitelist[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateTransition enforces the whitelist in spec §4.1 gate 2, including
// the reopen escape hatch: any other transition is rejected unless
// metadata.reopen=true carries a non-empty reopen_reason, in which case
// the engine stamps reopened_at/reopened_from.
func StateTransition(c *Context) error {
	if c.Patch.Status == nil {
		return nil
	}
	to := *c.Patch.Status
	from := c.Task.Status

	if allowed(from, to) {
		return nil
	}

	reopen := false
	reason := ""
	if c.Patch.Metadata != nil {
		if v, ok := c.Patch.Metadata["reopen"].(bool); ok {
			reopen = v
		}
		if v, ok := c.Patch.Metadata["reopen_reason"].(string); ok {
			reason = strings.TrimSpace(v)
		}
	}
	if !reopen || reason == "" {
		return apperr.GateFailure("state_transition",
			"illegal transition "+string(from)+" -> "+string(to),
			"set metadata.reopen=true with a non-empty reopen_reason to force this transition")
	}

	c.MetadataOverlay["reopened_at"] = c.Now.UTC().Format(time.RFC3339Nano)
	c.MetadataOverlay["reopened_from"] = string(from)
	return nil
}
