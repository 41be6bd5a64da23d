package watchdog

import (
	"context"
	"time"

	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/prreview"
)

// DriftReport is one contract violation the execution sweeper found in the
// validating queue (spec §4.3).
type DriftReport struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"` // missing_review_packet | closed_pr
	Detail string `json:"detail"`
}

// SweeperTick scans the validating queue for contract violations: it
// reports tasks with no qa_bundle and tasks whose metadata.pr_url PR is
// closed without merge. It does not compare a task's PR against its review
// packet, so no drift report is produced. When a PR merge is observed, it
// stamps pr_merged and pr_merged_at on the task; CloseGate does not read
// these fields and fetches the PR state itself.
func (s *Suite) SweeperTick(ctx context.Context, prClient prreview.Client, now time.Time, opts Opts) ([]DriftReport, error) {
	validating, err := s.tasks.ListByStatus(ctx, model.StatusValidating)
	if err != nil {
		return nil, err
	}

	var reports []DriftReport
	for _, t := range validating {
		if _, ok := t.Metadata.Get("qa_bundle"); !ok {
			reports = append(reports, DriftReport{TaskID: t.ID, Kind: "missing_review_packet", Detail: "validating task has no qa_bundle"})
			continue
		}

		prURL := t.Metadata.GetString("pr_url")
		if prURL == "" || prClient == nil {
			continue
		}
		info, ferr := prClient.Fetch(ctx, prURL)
		if ferr != nil {
			continue
		}
		switch info.MergeState {
		case prreview.StateClosed:
			reports = append(reports, DriftReport{TaskID: t.ID, Kind: "closed_pr", Detail: "PR closed without merge on a live task"})
		case prreview.StateMerged:
			if opts.DryRun {
				continue
			}
			t.Metadata = t.Metadata.Clone()
			t.Metadata["pr_merged"] = true
			t.Metadata["pr_merged_at"] = now.Format(time.RFC3339)
			t.UpdatedAt = now
			_ = s.tasks.Update(ctx, t)
		}
	}
	return reports, nil
}
