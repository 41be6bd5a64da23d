package pipeline

import (
	"context"
	"time"

	"github.com/opsgovernor/governor/internal/eventbus"
)

// healthWindow is the rolling window the pipeline-health monitor samples
// over before declaring itself broken (SPEC_FULL §4 "Pipeline health
// monitor").
const healthWindow = 10 * time.Minute

// healthAlertCooldown bounds how often a broken-pipeline alert re-fires.
const healthAlertCooldown = 30 * time.Minute

// HealthStatus is a point-in-time read of the pipeline-health monitor.
type HealthStatus struct {
	ReflectionsIn   int
	InsightActivity int
	Promotions      int
	Broken          bool
	WindowStart     time.Time
}

// Health reports whether reflections have been flowing in without producing
// any insight activity for a full window — a broken clustering pipeline
// (SPEC_FULL §4, spec.md §4.2 "Pipeline health"). A window older than
// healthWindow is evaluated first and then reset to start at now.
func (p *Pipeline) Health(now time.Time) HealthStatus {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	elapsed := now.Sub(p.stats.since)
	broken := p.stats.reflectionsIn > 0 && p.stats.insightActivity == 0 && elapsed >= healthWindow
	status := HealthStatus{
		ReflectionsIn: p.stats.reflectionsIn, InsightActivity: p.stats.insightActivity,
		Promotions: p.stats.promotions, Broken: broken, WindowStart: p.stats.since,
	}
	if elapsed > healthWindow {
		p.stats = window{since: now}
	}
	return status
}

// Tick is the cooperative-scheduler entry point for the pipeline-health
// worker: it samples Health and, if broken, publishes a debounced alert
// event onto the bus.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) {
	status := p.Health(now)
	if !status.Broken {
		return
	}
	p.statsMu.Lock()
	if now.Sub(p.lastHealthAlert) < healthAlertCooldown {
		p.statsMu.Unlock()
		return
	}
	p.lastHealthAlert = now
	p.statsMu.Unlock()
	p.bus.Publish(eventbus.Event{Kind: eventbus.KindAlert, Topics: []string{"pipeline_health"}, Payload: status})
}
