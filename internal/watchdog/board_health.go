package watchdog

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/opsgovernor/governor/internal/model"
)

// BoardAction is a single auto-action the board-health worker took (or
// would take in dryRun), logged with before/after state so it can be
// rolled back within rollbackWindowMs (spec §4.3).
type BoardAction struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"` // auto_block | suggest_close
	Reason string `json:"reason"`
}

// BoardHealthReport is the digest produced each tick.
type BoardHealthReport struct {
	Actions   []BoardAction `json:"actions"`
	Truncated bool          `json:"truncated"`
	Load      LoadSample    `json:"load"`
}

// LoadSample is the process-level resource snapshot attached to every
// board-health digest, so an operator reading the digest can tell a
// flood of auto-actions from the worker itself being under memory
// pressure (spec §4.3 "board-health digest").
type LoadSample struct {
	Goroutines     int     `json:"goroutines"`
	MemoryUsedPct  float64 `json:"memory_used_pct"`
	MemorySampleOK bool    `json:"memory_sample_ok"`
}

func sampleLoad() LoadSample {
	s := LoadSample{Goroutines: runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsedPct = vm.UsedPercent
		s.MemorySampleOK = true
	}
	return s
}

// BoardHealthTick scans for stale `doing` tasks (auto-blocked with an
// explanation) and very-stale `done` tasks (suggested for close), capping
// the number of mutating actions per tick to avoid cascades (spec §4.3).
func (s *Suite) BoardHealthTick(ctx context.Context, now time.Time, opts Opts) (BoardHealthReport, error) {
	cfg := s.cfg.Get().Watchdog
	staleDoingCutoff := now.Add(-time.Duration(cfg.WorkingStaleMin) * time.Minute)
	staleDoneCutoff := now.Add(-time.Duration(cfg.WorkingStaleMin) * 4 * time.Minute)

	var report BoardHealthReport
	report.Load = sampleLoad()

	doing, err := s.tasks.ListByStatus(ctx, model.StatusDoing)
	if err != nil {
		return report, err
	}
	for _, t := range doing {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Truncated = true
			break
		}
		if t.UpdatedAt.After(staleDoingCutoff) {
			continue
		}
		report.Actions = append(report.Actions, BoardAction{TaskID: t.ID, Kind: "auto_block", Reason: "stale in doing"})
		if opts.DryRun {
			continue
		}
		before := string(t.Status)
		t.Status = model.StatusBlocked
		t.Metadata = t.Metadata.Clone()
		t.Metadata["board_health_auto_block"] = true
		t.Metadata["board_health_reason"] = "stale in doing past working_stale_min"
		t.UpdatedAt = now
		if err := s.tasks.Update(ctx, t); err != nil {
			continue
		}
		s.recordRollback(ctx, t.ID, "status", before, string(t.Status), now)
	}

	done, err := s.tasks.ListByStatus(ctx, model.StatusDone)
	if err != nil {
		return report, err
	}
	for _, t := range done {
		if len(report.Actions) >= cfg.MaxActionsPerTick {
			report.Truncated = true
			break
		}
		if t.UpdatedAt.After(staleDoneCutoff) || t.Metadata.GetBool("close_suggested") {
			continue
		}
		report.Actions = append(report.Actions, BoardAction{TaskID: t.ID, Kind: "suggest_close", Reason: "very stale done"})
		if opts.DryRun {
			continue
		}
		t.Metadata = t.Metadata.Clone()
		t.Metadata["close_suggested"] = true
		t.UpdatedAt = now
		if err := s.tasks.Update(ctx, t); err != nil {
			continue
		}
		s.recordRollback(ctx, t.ID, "close_suggested", "false", "true", now)
	}

	return report, nil
}

// recordRollback logs before/after state to the audit ledger so an
// operator can reverse a board-health action within rollbackWindowMs.
func (s *Suite) recordRollback(ctx context.Context, taskID, field, before, after string, now time.Time) {
	_ = s.audit.AppendEntry(ctx, &model.AuditEntry{
		ID: uuid.NewString(), TaskID: taskID, Actor: "board_health", Context: "board_health",
		Field: field, Before: before, After: after, CreatedAt: now,
	})
}

// RollbackWindow reports whether a board-health action on taskID is still
// inside its reversible window.
func (s *Suite) RollbackWindow(ctx context.Context, taskID string, now time.Time) (bool, error) {
	entries, err := s.audit.ListForTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	cfg := s.cfg.Get().Watchdog
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Context != "board_health" {
			continue
		}
		return now.Sub(entries[i].CreatedAt) <= time.Duration(cfg.RollbackWindowMs)*time.Millisecond, nil
	}
	return false, nil
}
