package watchdog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/model"
)

// StaleTask names a `doing` task that has sat past workingStaleMin.
type StaleTask struct {
	TaskID string        `json:"task_id"`
	Title  string        `json:"title"`
	Stale  time.Duration `json:"stale_seconds"`
}

// CadenceTick detects stale `doing` tasks. Given the same (tasks, now) it
// always returns the same ordered result — no randomness, no map-order
// dependence (spec §4.3 "Deterministic: given the same (tasks, messages,
// now), output must be identical").
func (s *Suite) CadenceTick(ctx context.Context, now time.Time, opts Opts) ([]StaleTask, error) {
	cfg := s.cfg.Get().Watchdog
	cutoff := now.Add(-time.Duration(cfg.WorkingStaleMin) * time.Minute)

	doing, err := s.tasks.ListByStatus(ctx, model.StatusDoing)
	if err != nil {
		return nil, err
	}

	var stale []StaleTask
	for _, t := range doing {
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		stale = append(stale, StaleTask{TaskID: t.ID, Title: t.Title, Stale: now.Sub(t.UpdatedAt)})
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].TaskID < stale[j].TaskID })

	if len(stale) == 0 || opts.DryRun {
		return stale, nil
	}

	last, lerr := s.watchdog.LastEscalation(ctx, "board", "cadence")
	if lerr == nil && last != nil && now.Sub(last.CreatedAt) < time.Duration(cfg.CadenceCooldownMin)*time.Minute {
		return stale, nil
	}

	suppressed, reason := s.gate(now, opts)
	_ = s.watchdog.AppendEscalation(ctx, &model.Escalation{
		ID: uuid.NewString(), Agent: "board", Kind: "cadence",
		Detail: fmt.Sprintf("%d stale doing tasks", len(stale)), CreatedAt: now,
	})
	if !suppressed {
		s.publishAlert("cadence", "", reason, "watchdog")
	}
	return stale, nil
}
