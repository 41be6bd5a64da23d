package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/model"
)

const mentionHardFloorMin = 3

// RescuePing is one agent re-pinged for an unanswered mention.
type RescuePing struct {
	Agent   string `json:"agent"`
	Channel string `json:"channel"`
}

// MentionRescueTick scans recent chat for an agent mentioned by any other
// author (the author is not checked for being a human) with no reply
// within delayMin (hard-floored at 3 minutes), and re-pings the agent,
// subject to a per-agent cooldown (spec §4.3).
func (s *Suite) MentionRescueTick(ctx context.Context, channel string, now time.Time, opts Opts) ([]RescuePing, error) {
	cfg := s.cfg.Get().Watchdog
	delayMin := cfg.MentionDelayMin
	if delayMin < mentionHardFloorMin {
		delayMin = mentionHardFloorMin
	}
	cutoff := now.Add(-time.Duration(delayMin) * time.Minute)

	msgs, err := s.chat.Since(ctx, channel, cutoff.Add(-24*time.Hour), 500)
	if err != nil {
		return nil, err
	}

	// Last message time per agent, used to tell whether a mentioned agent
	// has spoken since being mentioned.
	lastSpoke := map[string]time.Time{}
	for _, m := range msgs {
		if m.CreatedAt.After(lastSpoke[m.Author]) {
			lastSpoke[m.Author] = m.CreatedAt
		}
	}

	suppressed, reason := s.gate(now, opts)

	var pings []RescuePing
	for _, m := range msgs {
		if m.CreatedAt.After(cutoff) || len(m.Mentions) == 0 {
			continue
		}
		for _, agent := range m.Mentions {
			if agent == m.Author {
				continue
			}
			if spoke, ok := lastSpoke[agent]; ok && spoke.After(m.CreatedAt) {
				continue // already responded
			}

			last, lerr := s.watchdog.LastEscalation(ctx, agent, "mention_rescue")
			if lerr == nil && last != nil && now.Sub(last.CreatedAt) < time.Duration(cfg.MentionCooldownMin)*time.Minute {
				continue
			}

			pings = append(pings, RescuePing{Agent: agent, Channel: channel})
			if opts.DryRun {
				continue
			}
			_ = s.watchdog.AppendEscalation(ctx, &model.Escalation{
				ID: uuid.NewString(), Agent: agent, Kind: "mention_rescue",
				Detail: fmt.Sprintf("unanswered mention in %s", channel), CreatedAt: now,
			})
			if !suppressed {
				s.publishAlert("mention_rescue", agent, reason, channel)
			}
		}
	}
	return pings, nil
}
