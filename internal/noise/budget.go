// Package noise implements the two-stage filter sitting above chat (spec
// §4.6): the per-channel noise budget (digest diversion) and alert
// integrity (dedup/suppression), backed by the persistent suppression
// ledger.
package noise

import (
	"context"
	"time"

	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/ratelimit"
	"github.com/opsgovernor/governor/internal/store"
)

// Decision is the outcome of running a message through the noise budget.
type Decision struct {
	Allow     bool
	Diverted  bool
	Digest    bool
	Reason    string
}

// Budget tracks per-channel message rate and diverts non-critical traffic
// to a digest queue once policy's rate is exceeded. A canary mode records
// decisions without enforcing (spec §4.6 "A canary mode records decisions
// without enforcing; an explicit activate switches to enforcement").
type Budget struct {
	repo     *store.NoiseRepo
	limiters *ratelimit.PerChannel
	cfg      *config.Watcher
}

func New(repo *store.NoiseRepo, cfg *config.Watcher) *Budget {
	c := cfg.Get().NoiseBudget
	return &Budget{
		repo: repo,
		limiters: ratelimit.NewPerChannel(ratelimit.Config{
			PerSecond: float64(c.MessagesPerMinute) / 60.0,
			Burst:     c.MessagesPerMinute,
		}),
		cfg: cfg,
	}
}

// Evaluate decides whether a content message on channel should go straight
// through or be diverted to the digest queue. Critical severity always
// bypasses the budget (spec §4.6).
func (b *Budget) Evaluate(ctx context.Context, channel string, critical bool, now time.Time) Decision {
	cfg := b.cfg.Get().NoiseBudget
	windowStart := now.Truncate(time.Minute)

	if critical {
		_ = b.repo.IncrementBudget(ctx, channel, windowStart, false, cfg.Enforce)
		return Decision{Allow: true, Reason: "critical_bypass"}
	}

	withinBudget := b.limiters.Allow(channel)
	if withinBudget {
		_ = b.repo.IncrementBudget(ctx, channel, windowStart, false, cfg.Enforce)
		return Decision{Allow: true}
	}

	_ = b.repo.IncrementBudget(ctx, channel, windowStart, true, cfg.Enforce)
	if !cfg.Enforce {
		// Canary mode: record the would-be diversion but let it through.
		return Decision{Allow: true, Diverted: true, Digest: false, Reason: "canary_over_budget"}
	}
	return Decision{Allow: false, Diverted: true, Digest: true, Reason: "over_budget"}
}

// Snapshot reports the current window's counters for a channel.
func (b *Budget) Snapshot(ctx context.Context, channel string, now time.Time) (*model.NoiseBudgetSnapshot, error) {
	return b.repo.Snapshot(ctx, channel, now.Truncate(time.Minute))
}
