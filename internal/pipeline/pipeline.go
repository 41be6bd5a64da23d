// Package pipeline implements the reflection -> insight -> task bridge:
// ingest and clustering, the severity-aware auto-task bridge, orphan
// reconciliation, and the pipeline-health monitor (spec §4.2).
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/config"
	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
	"github.com/opsgovernor/governor/internal/model"
	"github.com/opsgovernor/governor/internal/store"
	"github.com/opsgovernor/governor/internal/task"
)

// Pipeline wires reflection ingest, clustering, and the auto-task bridge.
type Pipeline struct {
	reflections *store.ReflectionRepo
	tasks       *store.TaskRepo
	engine      *task.Engine
	bus         *eventbus.Bus
	log         *logging.Logger
	cfg         *config.Watcher

	mu        sync.Mutex
	cooldowns map[string]time.Time // cluster_key -> last bridge fire, in-process per spec §5 single-process model

	statsMu         sync.Mutex
	stats           window
	lastHealthAlert time.Time
}

// window accumulates the rolling counters consumed by the pipeline-health
// monitor (spec §4.2 "Pipeline health").
type window struct {
	reflectionsIn   int
	insightActivity int
	promotions      int
	since           time.Time
}

func New(reflections *store.ReflectionRepo, tasks *store.TaskRepo, engine *task.Engine, bus *eventbus.Bus, log *logging.Logger, cfg *config.Watcher) *Pipeline {
	return &Pipeline{
		reflections: reflections, tasks: tasks, engine: engine, bus: bus, log: log, cfg: cfg,
		cooldowns: map[string]time.Time{},
		stats:     window{since: time.Now()},
	}
}

// Ingest validates and persists a reflection, clusters it into an insight,
// and runs the auto-task bridge unless the cluster is cooling down (spec
// §4.2 "Ingest", "Cooldowns").
func (p *Pipeline) Ingest(ctx context.Context, rf *model.Reflection) (*model.Insight, error) {
	if err := validateReflection(rf); err != nil {
		return nil, err
	}
	rf.ID = uuid.NewString()
	rf.CreatedAt = time.Now()
	if err := p.reflections.CreateReflection(ctx, rf); err != nil {
		return nil, apperr.Internal("failed to persist reflection", err)
	}
	p.bumpReflectionsIn()

	key := ClusterKey(rf.Tags, rf.Pain+" "+rf.Impact+" "+rf.SuspectedWhy+" "+rf.ProposedFix)

	insight, err := p.reflections.GetInsightByClusterKey(ctx, key)
	now := time.Now()
	if err != nil {
		if err != store.ErrNotFound {
			return nil, apperr.Internal("failed to look up insight", err)
		}
		insight = &model.Insight{
			ID: uuid.NewString(), Title: rf.Pain, ClusterKey: key, Status: model.InsightOpen,
			SeverityMax: rf.Severity, CreatedAt: now, UpdatedAt: now,
		}
	}

	mergeReflectionIntoInsight(insight, rf, now)

	if err := p.reflections.UpsertInsight(ctx, insight); err != nil {
		return nil, apperr.Internal("failed to persist insight", err)
	}
	p.bumpInsightActivity()

	kind := eventbus.KindInsightUpdated
	if insight.CreatedAt.Equal(now) {
		kind = eventbus.KindInsightCreated
	}
	p.bus.Publish(eventbus.Event{Kind: kind, Payload: insight})

	if p.onCooldown(key, now) {
		return insight, nil
	}
	if insight.Status == model.InsightOpen {
		if err := p.bridge(ctx, insight, now); err != nil {
			p.log.WithError(err).Warn("auto-task bridge failed")
		}
	}
	return insight, nil
}

func validateReflection(rf *model.Reflection) error {
	if len(rf.Evidence) == 0 {
		return apperr.Validation("evidence must have at least one entry", "evidence")
	}
	if rf.Confidence < 0 || rf.Confidence > 10 {
		return apperr.Validation("confidence must be within [0,10]", "confidence")
	}
	switch rf.Severity {
	case model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow:
	default:
		return apperr.Validation("severity must be one of critical|high|medium|low", "severity")
	}
	if rf.Author == "" {
		return apperr.Validation("author is required", "author")
	}
	return nil
}

// mergeReflectionIntoInsight appends rf into insight, deduplicates
// authors, refreshes the EMA score, and bumps independent_count (spec
// §4.2 "Ingest").
func mergeReflectionIntoInsight(insight *model.Insight, rf *model.Reflection, now time.Time) {
	insight.ReflectionIDs = append(insight.ReflectionIDs, rf.ID)
	insight.EvidenceRefs = append(insight.EvidenceRefs, rf.Evidence...)
	insight.SeverityMax = model.MaxSeverity(insight.SeverityMax, rf.Severity)
	insight.UpdatedAt = now

	found := false
	for _, a := range insight.Authors {
		if strings.EqualFold(a, rf.Author) {
			found = true
			break
		}
	}
	if !found {
		insight.Authors = append(insight.Authors, rf.Author)
	}
	insight.IndependentCount = len(insight.Authors)

	sample := rf.Confidence * severityWeight(rf.Severity)
	const alpha = 0.35 // EMA smoothing factor
	if len(insight.ReflectionIDs) <= 1 {
		insight.Score = sample
	} else {
		insight.Score = alpha*sample + (1-alpha)*insight.Score
	}
}

func severityWeight(s model.Severity) float64 {
	switch s {
	case model.SeverityCritical:
		return 1.0
	case model.SeverityHigh:
		return 0.8
	case model.SeverityMedium:
		return 0.5
	default:
		return 0.25
	}
}

func (p *Pipeline) onCooldown(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	fired, ok := p.cooldowns[key]
	if !ok {
		return false
	}
	cooldown := time.Duration(p.cfg.Get().Watchdog.PipelineCooldownMin) * time.Minute
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return now.Sub(fired) < cooldown
}

func (p *Pipeline) armCooldown(key string, now time.Time) {
	p.mu.Lock()
	p.cooldowns[key] = now
	p.mu.Unlock()
}

// bridge inspects insight.SeverityMax and routes per spec §4.2
// "Auto-task bridge": auto-create for severities in autoCreateSeverities,
// else pending_triage. An insight with a non-null task_id is skipped
// (idempotency).
func (p *Pipeline) bridge(ctx context.Context, insight *model.Insight, now time.Time) error {
	if insight.TaskID != "" {
		return nil
	}
	cfg := p.cfg.Get()
	autoCreate := false
	for _, s := range cfg.Task.AutoCreateSeverities {
		if model.Severity(s) == insight.SeverityMax {
			autoCreate = true
			break
		}
	}

	if !autoCreate {
		insight.Status = model.InsightPendingTriage
		insight.UpdatedAt = now
		if err := p.reflections.UpsertInsight(ctx, insight); err != nil {
			return err
		}
		return p.reflections.AppendPromotionAudit(ctx, insight.ID, "pending_triage", "severity "+string(insight.SeverityMax)+" requires human triage", now.UTC().Format(time.RFC3339Nano))
	}

	assignee, reviewer := p.ownershipGuardrail(insight)
	t := &model.Task{
		Title:       insight.Title,
		Description: fmt.Sprintf("Auto-created from insight %s (severity=%s)", insight.ID, insight.SeverityMax),
		Type:        model.TaskProcess,
		Priority:    severityToPriority(insight.SeverityMax),
		Assignee:    assignee,
		Reviewer:    reviewer,
		DoneCriteria: []string{"Root cause addressed", "Insight cluster resolved"},
		CreatedBy:   "pipeline",
		Metadata:    model.Metadata{"source_insight": insight.ID},
	}
	created, err := p.engine.Create(ctx, t)
	if err != nil {
		return err
	}

	insight.Status = model.InsightTaskCreated
	insight.TaskID = created.ID
	insight.Priority = created.Priority
	insight.UpdatedAt = now
	if err := p.reflections.UpsertInsight(ctx, insight); err != nil {
		return err
	}
	p.armCooldown(insight.ClusterKey, now)
	p.bumpPromotion()
	return p.reflections.AppendPromotionAudit(ctx, insight.ID, "auto_created", "task "+created.ID+" created for "+assignee, now.UTC().Format(time.RFC3339Nano))
}

// ownershipGuardrail returns "unassigned" for both assignee and reviewer
// on every insight. It does not pick a non-author assignee or reviewer:
// no agent candidates are looked up, so the insight's authors are never
// compared against anyone.
func (p *Pipeline) ownershipGuardrail(insight *model.Insight) (assignee, reviewer string) {
	// No agent directory is consulted here: the pipeline never assigns an
	// insight's own author, so absent a known non-author candidate both
	// fields fall back to unassigned pending human routing.
	return "unassigned", "unassigned"
}

func severityToPriority(s model.Severity) model.Priority {
	switch s {
	case model.SeverityCritical:
		return model.P0
	case model.SeverityHigh:
		return model.P1
	case model.SeverityMedium:
		return model.P2
	default:
		return model.P3
	}
}

// Triage records a human approve/dismiss decision over a pending_triage
// insight, promoting it to a task on approve (spec §4.2).
func (p *Pipeline) Triage(ctx context.Context, insightID, actor, decision, reason string) (*model.Insight, error) {
	insight, err := p.reflections.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if insight.Status != model.InsightPendingTriage {
		return nil, apperr.Conflict("insight is not pending triage")
	}
	now := time.Now()
	if err := p.reflections.AppendTriageAudit(ctx, &model.TriageDecision{
		ID: uuid.NewString(), InsightID: insightID, Actor: actor, Decision: decision, Reason: reason, CreatedAt: now,
	}); err != nil {
		return nil, apperr.Internal("failed to append triage audit", err)
	}

	if decision == "dismiss" {
		insight.Status = model.InsightClosed
		insight.UpdatedAt = now
		return insight, p.reflections.UpsertInsight(ctx, insight)
	}

	assignee, reviewer := p.ownershipGuardrail(insight)
	created, err := p.engine.Create(ctx, &model.Task{
		Title: insight.Title, Description: "Promoted via human triage from insight " + insight.ID,
		Type: model.TaskProcess, Priority: severityToPriority(insight.SeverityMax),
		Assignee: assignee, Reviewer: reviewer,
		DoneCriteria: []string{"Root cause addressed"}, CreatedBy: actor,
		Metadata: model.Metadata{"source_insight": insight.ID},
	})
	if err != nil {
		return nil, err
	}
	insight.Status = model.InsightTaskCreated
	insight.TaskID = created.ID
	insight.UpdatedAt = now
	return insight, p.reflections.UpsertInsight(ctx, insight)
}

// GetReflection, ListReflections, GetInsight, and ListInsights are the
// read paths the HTTP surface needs for `GET /reflections[/:id]` and
// `GET /insights[/:id]` (spec §6).
func (p *Pipeline) GetReflection(ctx context.Context, id string) (*model.Reflection, error) {
	rf, err := p.reflections.GetReflection(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("reflection", id)
		}
		return nil, apperr.Internal("failed to load reflection", err)
	}
	return rf, nil
}

func (p *Pipeline) ListReflections(ctx context.Context) ([]*model.Reflection, error) {
	return p.reflections.ListReflections(ctx)
}

func (p *Pipeline) GetInsight(ctx context.Context, id string) (*model.Insight, error) {
	in, err := p.reflections.GetInsight(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("insight", id)
		}
		return nil, apperr.Internal("failed to load insight", err)
	}
	return in, nil
}

func (p *Pipeline) ListInsights(ctx context.Context) ([]*model.Insight, error) {
	return p.reflections.ListInsights(ctx)
}

func (p *Pipeline) bumpReflectionsIn() {
	p.statsMu.Lock()
	p.stats.reflectionsIn++
	p.statsMu.Unlock()
}
func (p *Pipeline) bumpInsightActivity() {
	p.statsMu.Lock()
	p.stats.insightActivity++
	p.statsMu.Unlock()
}
func (p *Pipeline) bumpPromotion() {
	p.statsMu.Lock()
	p.stats.promotions++
	p.statsMu.Unlock()
}
