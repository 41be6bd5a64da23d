package gate

import (
	"regexp"
	"strings"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/prreview"
)

var commitShaPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,}$`)

func isNonCodeLane(c *Context) bool {
	if v, ok := c.Patch.Metadata["non_code"].(bool); ok && v {
		return true
	}
	if v, ok := c.Patch.Metadata["config_only"].(bool); ok && v {
		return true
	}
	switch c.Task.Type {
	case "docs", "process":
		return true
	}
	return false
}

// QABundle enforces spec §4.1 gate 5: on *->validating, a code-lane task
// must supply a complete review packet (task_id, pr_url, commit,
// changed_files, artifact_path, caveats) whose commit/files are confirmed
// against the live PR head, unless pr_integrity_override=true (audited).
// Non-code lanes are satisfied by review_handoff alone.
func QABundle(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "validating" {
		return nil
	}

	if isNonCodeLane(c) {
		handoff, _ := c.Patch.Metadata["review_handoff"].(map[string]any)
		if handoff == nil {
			if v, ok := c.Task.Metadata["review_handoff"]; ok {
				handoff, _ = v.(map[string]any)
			}
		}
		if handoff == nil {
			return apperr.GateFailure("qa_bundle", "non-code task requires review_handoff",
				"set metadata.review_handoff describing what changed")
		}
		return nil
	}

	bundle, _ := c.Patch.Metadata["qa_bundle"].(map[string]any)
	if bundle == nil {
		if v, ok := c.Task.Metadata["qa_bundle"]; ok {
			bundle, _ = v.(map[string]any)
		}
	}
	if bundle == nil {
		return apperr.GateFailure("qa_bundle", "missing qa_bundle.review_packet",
			"submit metadata.qa_bundle.review_packet with task_id, pr_url, commit, changed_files, artifact_path, caveats")
	}
	packet, _ := bundle["review_packet"].(map[string]any)
	if packet == nil {
		return apperr.GateFailure("qa_bundle", "missing qa_bundle.review_packet", "")
	}

	taskID, _ := packet["task_id"].(string)
	if taskID != c.Task.ID {
		return apperr.GateFailure("qa_bundle", "review_packet.task_id does not match task", "")
	}

	prURL, _ := packet["pr_url"].(string)
	if !prreview.ValidPRURL(prURL) {
		return apperr.GateFailure("qa_bundle", "review_packet.pr_url is not a valid PR URL", "")
	}

	commit, _ := packet["commit"].(string)
	if !commitShaPattern.MatchString(commit) {
		return apperr.GateFailure("qa_bundle", "review_packet.commit must be at least 7 hex characters", "")
	}

	files, _ := packet["changed_files"].([]any)
	if len(files) == 0 {
		return apperr.GateFailure("qa_bundle", "review_packet.changed_files must be non-empty", "")
	}

	artifactPath, _ := packet["artifact_path"].(string)
	if !strings.HasPrefix(artifactPath, "process/") {
		return apperr.GateFailure("qa_bundle", "review_packet.artifact_path must start with process/", "")
	}

	caveats, _ := packet["caveats"].(string)
	if strings.TrimSpace(caveats) == "" {
		return apperr.GateFailure("qa_bundle", "review_packet.caveats must be non-empty", "")
	}

	override, _ := c.Patch.Metadata["pr_integrity_override"].(bool)
	if override {
		c.AuditDiffs = append(c.AuditDiffs, AuditDiff{Field: "pr_integrity_override", Before: "false", After: "true"})
		return nil
	}

	if c.Lookups.PRClient == nil {
		return nil
	}
	info, err := c.Lookups.PRClient.Fetch(c.Ctx, prURL)
	if err != nil || info.MergeState == prreview.StateUnknown {
		// Unknown is tolerated per spec §6; policy here is to let the
		// transition through rather than block on collaborator outage.
		return nil
	}
	if !strings.HasPrefix(info.HeadSHA, strings.ToLower(commit)) && !strings.HasPrefix(strings.ToLower(info.HeadSHA), strings.ToLower(commit)) {
		return apperr.GateFailure("qa_bundle", "review_packet.commit drifted from PR head", "re-sync the review packet or set pr_integrity_override=true").
			WithDetail("pr_head_sha", info.HeadSHA).WithDetail("packet_commit", commit)
	}
	if len(info.ChangedFiles) > 0 && !sameFileSet(files, info.ChangedFiles) {
		return apperr.GateFailure("qa_bundle", "review_packet.changed_files drifted from PR", "re-sync the review packet or set pr_integrity_override=true")
	}
	return nil
}

func sameFileSet(declared []any, live []string) bool {
	want := make(map[string]bool, len(live))
	for _, f := range live {
		want[f] = true
	}
	for _, d := range declared {
		s, _ := d.(string)
		if !want[s] {
			return false
		}
	}
	return true
}

// ReReviewDelta enforces spec §4.1 gate 6: validating->validating requires
// a non-empty review_delta_note explaining what changed since the last pass.
func ReReviewDelta(c *Context) error {
	if c.Patch.Status == nil || *c.Patch.Status != "validating" || c.Task.Status != "validating" {
		return nil
	}
	note, _ := c.Patch.Metadata["review_delta_note"].(string)
	if strings.TrimSpace(note) == "" {
		return apperr.GateFailure("re_review_delta", "validating->validating requires a non-empty review_delta_note", "")
	}
	return nil
}
