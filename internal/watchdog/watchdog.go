// Package watchdog implements the cooperative-scheduler background worker
// suite: idle-nudge, cadence, mention-rescue, board health, execution
// sweeper, reminder engine, and continuity tick (spec §4.3).
package watchdog

import (
	"context"
	"time"

	"github.com/opsgovernor/governor/internal/chat"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/quiethours"
	"github.com/opsgovernor/governor/internal/store"
	"github.com/opsgovernor/governor/internal/webhook"
)

// Opts carries the per-tick flags every worker's HTTP endpoint and the
// internal scheduler both honor (spec §9 "all accepting dryRun/force/nowMs").
type Opts struct {
	DryRun bool
	Force  bool
}

// Suite bundles every background worker with the repositories and services
// they share, so the scheduler and the admin HTTP surface can both drive
// the same Tick functions.
type Suite struct {
	tasks    *store.TaskRepo
	audit    *store.AuditRepo
	watchdog *store.WatchdogRepo
	chat     *chat.Service
	bus      *eventbus.Bus
	webhooks *webhook.Engine
	cfg      *config.Watcher
	log      *logging.Logger
}

func New(tasks *store.TaskRepo, audit *store.AuditRepo, wd *store.WatchdogRepo, chatSvc *chat.Service, bus *eventbus.Bus, webhooks *webhook.Engine, cfg *config.Watcher, log *logging.Logger) *Suite {
	return &Suite{tasks: tasks, audit: audit, watchdog: wd, chat: chatSvc, bus: bus, webhooks: webhooks, cfg: cfg, log: log}
}

// quietWindows collects every currently configured quiet-hours window for
// Union evaluation (spec §4.3 "overlapping windows resolve by union").
// Today's config model carries a single window; this stays a slice so a
// future multi-window config needs no caller changes.
func (s *Suite) quietWindows() []quiethours.Window {
	return []quiethours.Window{quiethours.FromConfig(s.cfg.Get().QuietHours)}
}

func (s *Suite) gate(now time.Time, opts Opts) (suppressed bool, reason string) {
	return quiethours.Gate(now, opts.Force, s.quietWindows()...)
}

// publishAlert emits an alert event onto the bus. It does not consult quiet
// hours itself: callers skip it when the tick is suppressed, while their
// internal bookkeeping (escalation row, cooldown) still happens.
func (s *Suite) publishAlert(kind, agent, detail string, topics ...string) {
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindAlert, Agent: agent, Topics: append([]string{kind}, topics...), Payload: detail})
}
