// Package audit extracts individual nested fields out of a task's
// metadata blob for fine-grained ledger diffing, rather than diffing the
// whole qa_bundle map as one opaque stringified blob (spec §4.5 "Audit
// ledger" — "a reviewer needs to see which field inside the bundle
// changed, not just that the bundle changed").
package audit

import (
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// QABundlePaths are the JSONPath expressions evaluated against a task's
// metadata on every mutation. Each one becomes its own audit-ledger field
// so a reviewer can see exactly which part of the QA bundle moved.
var QABundlePaths = []string{
	"$.qa_bundle.review_packet.artifact_path",
	"$.qa_bundle.review_packet.checks_passed",
	"$.qa_bundle.reviewer_signoff",
	"$.qa_bundle.test_summary.failed",
}

// ExtractFields evaluates each JSONPath expression against metadata and
// returns a flattened path -> stringified-value map. A path that doesn't
// resolve (the field is absent on this task) is recorded as an empty
// string rather than propagating the jsonpath "unknown key" error, since
// most tasks won't carry every optional qa_bundle field.
func ExtractFields(metadata map[string]any, paths []string) map[string]string {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		v, err := jsonpath.Get(p, map[string]any(metadata))
		if err != nil {
			out[p] = ""
			continue
		}
		out[p] = fmt.Sprintf("%v", v)
	}
	return out
}
