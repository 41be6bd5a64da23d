package gate

import "github.com/opsgovernor/governor/internal/apperr"

// ModelValidation enforces spec §4.1 gate 4: on any *->doing transition, an
// explicitly requested model alias must be known; an absent one auto-
// defaults (flagged) and the effective model is stored alongside the
// requested alias.
func ModelValidation(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "doing" {
		return nil
	}
	if c.Lookups.ModelKnown == nil {
		return nil
	}

	requested, _ := c.Patch.Metadata["model"].(string)
	if requested == "" {
		effective := c.Lookups.DefaultModel
		c.MetadataOverlay["model"] = effective
		c.MetadataOverlay["model_defaulted"] = true
		return nil
	}

	effective, ok := c.Lookups.ModelKnown(requested)
	if !ok {
		return apperr.Validation("unknown model identifier: "+requested, "model")
	}
	c.MetadataOverlay["model"] = requested
	c.MetadataOverlay["model_effective"] = effective
	return nil
}
