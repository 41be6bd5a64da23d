package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/model"
)

// IdleDecision is one agent's idle-nudge evaluation, returned verbatim in
// dryRun mode so an operator can see the decision matrix without any
// message firing (spec §4.3 "Explicit dryRun and force modes return the
// decision matrix without messaging").
type IdleDecision struct {
	Agent       string        `json:"agent"`
	Idle        time.Duration `json:"idle_seconds"`
	Action      string        `json:"action"` // none | nudge | escalate
	Suppressed  bool          `json:"suppressed"`
	Reason      string        `json:"reason,omitempty"`
}

// IdleNudgeTick computes, for every agent with recorded presence, time
// since last activity and fires a nudge or escalation when warnMin/
// escalateMin are crossed. A per-agent cooldown and a post-ship grace
// period (recently completed a task) suppress re-firing (spec §4.3).
func (s *Suite) IdleNudgeTick(ctx context.Context, now time.Time, opts Opts) ([]IdleDecision, error) {
	cfg := s.cfg.Get().Watchdog
	warnCutoff := now.Add(-time.Duration(cfg.IdleWarnMin) * time.Minute)

	agents, err := s.chat.IdleSince(ctx, warnCutoff)
	if err != nil {
		return nil, err
	}

	quietSuppressed, quietReason := s.gate(now, opts)

	var decisions []IdleDecision
	for _, agent := range agents {
		presence, perr := s.chat.Presence(ctx, agent)
		if perr != nil {
			continue
		}
		idle := now.Sub(presence.LastActivityAt)

		action := "none"
		switch {
		case idle >= time.Duration(cfg.IdleEscalateMin)*time.Minute:
			action = "escalate"
		case idle >= time.Duration(cfg.IdleWarnMin)*time.Minute:
			action = "nudge"
		default:
			continue
		}

		d := IdleDecision{Agent: agent, Idle: idle, Action: action}

		if inGrace, gerr := s.inPostShipGrace(ctx, agent, now); gerr == nil && inGrace {
			d.Action, d.Suppressed, d.Reason = "none", true, "post_ship_grace"
			decisions = append(decisions, d)
			continue
		}

		last, lerr := s.watchdog.LastEscalation(ctx, agent, "idle_"+action)
		if lerr == nil && last != nil && now.Sub(last.CreatedAt) < time.Duration(cfg.IdleCooldownMin)*time.Minute {
			d.Suppressed, d.Reason = true, "cooldown"
			decisions = append(decisions, d)
			continue
		}

		if quietSuppressed {
			d.Suppressed, d.Reason = true, quietReason
		}

		if !opts.DryRun {
			_ = s.watchdog.AppendEscalation(ctx, &model.Escalation{
				ID: uuid.NewString(), Agent: agent, Kind: "idle_" + action,
				Detail: fmt.Sprintf("idle for %s", idle.Round(time.Second)), CreatedAt: now,
			})
			if !d.Suppressed {
				s.publishAlert("idle_"+action, agent, d.Reason, "watchdog")
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// inPostShipGrace reports whether the agent's most recent activity was a
// status_change within the post-ship grace window, which defers idle
// nudging right after wrapping up a task.
func (s *Suite) inPostShipGrace(ctx context.Context, agent string, now time.Time) (bool, error) {
	presence, err := s.chat.Presence(ctx, agent)
	if err != nil {
		return false, err
	}
	cfg := s.cfg.Get().Watchdog
	if presence.LastKind != "status_change" {
		return false, nil
	}
	return now.Sub(presence.LastActivityAt) < time.Duration(cfg.PostShipGraceMin)*time.Minute, nil
}
