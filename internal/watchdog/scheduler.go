package watchdog

import (
	"context"
	"time"

	"github.com/opsgovernor/governor/internal/prreview"
)

// workerJob is one registered background job: its own ticker interval and
// an enabled flag, generalized from the teacher's automation scheduler
// into a fixed table of the seven documented workers (spec §4.3, §9 "the
// scheduler calls the same Tick(now, opts) function the admin HTTP
// endpoints invoke").
type workerJob struct {
	name     string
	interval time.Duration
	enabled  func(*Suite) bool
	run      func(*Suite, context.Context, time.Time)
}

// Scheduler drives every registered worker on its own cooperative ticker
// until Stop is called.
type Scheduler struct {
	suite  *Suite
	prs    prreview.Client
	cancel context.CancelFunc
}

func NewScheduler(suite *Suite, prs prreview.Client) *Scheduler {
	return &Scheduler{suite: suite, prs: prs}
}

func (sch *Scheduler) jobs() []workerJob {
	return []workerJob{
		{"idle_nudge", time.Minute, func(*Suite) bool { return true }, func(s *Suite, ctx context.Context, now time.Time) {
			_, _ = s.IdleNudgeTick(ctx, now, Opts{})
		}},
		{"cadence", time.Minute, func(*Suite) bool { return true }, func(s *Suite, ctx context.Context, now time.Time) {
			_, _ = s.CadenceTick(ctx, now, Opts{})
		}},
		{"mention_rescue", 30 * time.Second, func(*Suite) bool { return true }, func(s *Suite, ctx context.Context, now time.Time) {
			_, _ = s.MentionRescueTick(ctx, "general", now, Opts{})
		}},
		{"board_health", time.Duration(sch.suite.cfg.Get().Watchdog.BoardHealthMin) * time.Minute, func(*Suite) bool { return true }, func(s *Suite, ctx context.Context, now time.Time) {
			_, _ = s.BoardHealthTick(ctx, now, Opts{})
		}},
		{"sweeper", time.Duration(sch.suite.cfg.Get().Watchdog.SweeperMin) * time.Minute, func(*Suite) bool { return true }, func(s *Suite, ctx context.Context, now time.Time) {
			_, _ = s.SweeperTick(ctx, sch.prs, now, Opts{})
			_, _ = s.webhooks.PurgeExpired(ctx, now)
		}},
		{"reminders", time.Duration(sch.suite.cfg.Get().Watchdog.ReminderPollSec) * time.Second, func(*Suite) bool { return true }, func(s *Suite, ctx context.Context, now time.Time) {
			_, _ = s.ReminderTick(ctx, "general", now, Opts{})
		}},
		{"webhook_retry", 5 * time.Second, func(*Suite) bool { return true }, func(s *Suite, ctx context.Context, now time.Time) {
			s.webhooks.Tick(ctx, now)
		}},
	}
}

// Start launches a goroutine per registered job; Stop cancels their shared
// context and ends them all cooperatively.
func (sch *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sch.cancel = cancel
	for _, job := range sch.jobs() {
		job := job
		if job.interval <= 0 {
			job.interval = time.Minute
		}
		go func() {
			ticker := time.NewTicker(job.interval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if !job.enabled(sch.suite) {
						continue
					}
					job.run(sch.suite, runCtx, time.Now())
				}
			}
		}()
	}
}

// Stop cancels every running worker goroutine.
func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
	}
}
