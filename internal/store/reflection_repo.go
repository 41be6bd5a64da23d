package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsgovernor/governor/internal/model"
)

// ReflectionRepo persists reflections, their derived insights, and the
// triage/promotion audit trail that shadows every insight transition.
type ReflectionRepo struct {
	db *sqlx.DB
}

func NewReflectionRepo(db *sqlx.DB) *ReflectionRepo { return &ReflectionRepo{db: db} }

// CreateReflection inserts an immutable reflection row.
func (r *ReflectionRepo) CreateReflection(ctx context.Context, rf *model.Reflection) error {
	evidence, err := json.Marshal(rf.Evidence)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(rf.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reflections (id, pain, impact, evidence, went_well, suspected_why, proposed_fix,
			confidence, role_type, severity, author, tags, task_id, team_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rf.ID, rf.Pain, rf.Impact, string(evidence), rf.WentWell, rf.SuspectedWhy, rf.ProposedFix,
		rf.Confidence, rf.RoleType, string(rf.Severity), rf.Author, string(tags), rf.TaskID, rf.TeamID,
		rf.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert reflection: %w", err)
	}
	if err := r.ResetTracking(ctx, rf.Author, rf.CreatedAt.UTC().Format(timeLayout)); err != nil {
		return err
	}
	return nil
}

// GetReflection fetches a single reflection by ID.
func (r *ReflectionRepo) GetReflection(ctx context.Context, id string) (*model.Reflection, error) {
	var row struct {
		ID, Pain, Impact, Evidence, WentWell, SuspectedWhy, ProposedFix string
		Confidence                                                     float64
		RoleType, Severity, Author, Tags, TaskID, TeamID, CreatedAt     string
	}
	err := r.db.QueryRowContext(ctx, `SELECT id, pain, impact, evidence, went_well, suspected_why, proposed_fix,
		confidence, role_type, severity, author, tags, task_id, team_id, created_at FROM reflections WHERE id = ?`, id).
		Scan(&row.ID, &row.Pain, &row.Impact, &row.Evidence, &row.WentWell, &row.SuspectedWhy, &row.ProposedFix,
			&row.Confidence, &row.RoleType, &row.Severity, &row.Author, &row.Tags, &row.TaskID, &row.TeamID, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reflection: %w", err)
	}
	return reflectionRowToModel(row.ID, row.Pain, row.Impact, row.Evidence, row.WentWell, row.SuspectedWhy,
		row.ProposedFix, row.Confidence, row.RoleType, row.Severity, row.Author, row.Tags, row.TaskID, row.TeamID, row.CreatedAt)
}

// ListReflections returns every reflection, newest first.
func (r *ReflectionRepo) ListReflections(ctx context.Context) ([]*model.Reflection, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, pain, impact, evidence, went_well, suspected_why, proposed_fix,
		confidence, role_type, severity, author, tags, task_id, team_id, created_at FROM reflections ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	defer rows.Close()
	var out []*model.Reflection
	for rows.Next() {
		var id, pain, impact, evidence, wentWell, suspectedWhy, proposedFix string
		var confidence float64
		var roleType, severity, author, tags, taskID, teamID, createdAt string
		if err := rows.Scan(&id, &pain, &impact, &evidence, &wentWell, &suspectedWhy, &proposedFix,
			&confidence, &roleType, &severity, &author, &tags, &taskID, &teamID, &createdAt); err != nil {
			return nil, err
		}
		rf, err := reflectionRowToModel(id, pain, impact, evidence, wentWell, suspectedWhy, proposedFix,
			confidence, roleType, severity, author, tags, taskID, teamID, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

func reflectionRowToModel(id, pain, impact, evidence, wentWell, suspectedWhy, proposedFix string,
	confidence float64, roleType, severity, author, tags, taskID, teamID, createdAt string) (*model.Reflection, error) {
	rf := &model.Reflection{
		ID: id, Pain: pain, Impact: impact, WentWell: wentWell, SuspectedWhy: suspectedWhy,
		ProposedFix: proposedFix, Confidence: confidence, RoleType: roleType,
		Severity: model.Severity(severity), Author: author, TaskID: taskID, TeamID: teamID,
	}
	if err := json.Unmarshal([]byte(evidence), &rf.Evidence); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &rf.Tags); err != nil {
		return nil, err
	}
	var err error
	if rf.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return rf, nil
}

// ListInsights returns every insight regardless of status, newest first.
func (r *ReflectionRepo) ListInsights(ctx context.Context) ([]*model.Insight, error) {
	var rows []insightRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM insights ORDER BY updated_at DESC`); err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	out := make([]*model.Insight, 0, len(rows))
	for _, row := range rows {
		in, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// CountByTaskID returns how many reflections reference a given task,
// used for reflection-debt tracking.
func (r *ReflectionRepo) CountByTaskID(ctx context.Context, taskID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM reflections WHERE task_id = ?`, taskID); err != nil {
		return 0, fmt.Errorf("count reflections: %w", err)
	}
	return n, nil
}

// GetInsightByClusterKey looks up an existing insight to merge a new
// reflection into (spec §4.2 clustering).
func (r *ReflectionRepo) GetInsightByClusterKey(ctx context.Context, key string) (*model.Insight, error) {
	return r.scanInsight(ctx, `SELECT * FROM insights WHERE cluster_key = ?`, key)
}

// GetInsight fetches an insight by ID.
func (r *ReflectionRepo) GetInsight(ctx context.Context, id string) (*model.Insight, error) {
	return r.scanInsight(ctx, `SELECT * FROM insights WHERE id = ?`, id)
}

func (r *ReflectionRepo) scanInsight(ctx context.Context, query string, arg string) (*model.Insight, error) {
	var row insightRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get insight: %w", err)
	}
	return row.toModel()
}

type insightRow struct {
	ID               string  `db:"id"`
	Title            string  `db:"title"`
	ClusterKey       string  `db:"cluster_key"`
	Status           string  `db:"status"`
	Score            float64 `db:"score"`
	SeverityMax      string  `db:"severity_max"`
	Priority         string  `db:"priority"`
	ReflectionIDs    string  `db:"reflection_ids"`
	Authors          string  `db:"authors"`
	IndependentCount int     `db:"independent_count"`
	EvidenceRefs     string  `db:"evidence_refs"`
	TaskID           string  `db:"task_id"`
	CreatedAt        string  `db:"created_at"`
	UpdatedAt        string  `db:"updated_at"`
}

func (row insightRow) toModel() (*model.Insight, error) {
	in := &model.Insight{
		ID: row.ID, Title: row.Title, ClusterKey: row.ClusterKey,
		Status: model.InsightStatus(row.Status), Score: row.Score,
		SeverityMax: model.Severity(row.SeverityMax), Priority: model.Priority(row.Priority),
		IndependentCount: row.IndependentCount, TaskID: row.TaskID,
	}
	var err error
	if in.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, err
	}
	if in.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.ReflectionIDs), &in.ReflectionIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.Authors), &in.Authors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.EvidenceRefs), &in.EvidenceRefs); err != nil {
		return nil, err
	}
	return in, nil
}

// UpsertInsight inserts a new insight or overwrites an existing one with
// the same ID — callers decide create-vs-update based on GetInsightByClusterKey.
func (r *ReflectionRepo) UpsertInsight(ctx context.Context, in *model.Insight) error {
	rids, err := json.Marshal(in.ReflectionIDs)
	if err != nil {
		return err
	}
	authors, err := json.Marshal(in.Authors)
	if err != nil {
		return err
	}
	evidence, err := json.Marshal(in.EvidenceRefs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO insights (id, title, cluster_key, status, score, severity_max, priority,
			reflection_ids, authors, independent_count, evidence_refs, task_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET title=excluded.title, status=excluded.status, score=excluded.score,
			severity_max=excluded.severity_max, priority=excluded.priority, reflection_ids=excluded.reflection_ids,
			authors=excluded.authors, independent_count=excluded.independent_count,
			evidence_refs=excluded.evidence_refs, task_id=excluded.task_id, updated_at=excluded.updated_at`,
		in.ID, in.Title, in.ClusterKey, string(in.Status), in.Score, string(in.SeverityMax), string(in.Priority),
		string(rids), string(authors), in.IndependentCount, string(evidence), in.TaskID,
		in.CreatedAt.UTC().Format(timeLayout), in.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert insight: %w", err)
	}
	return nil
}

// ListPendingTriage returns insights awaiting a human triage decision.
func (r *ReflectionRepo) ListPendingTriage(ctx context.Context) ([]*model.Insight, error) {
	var rows []insightRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM insights WHERE status = ? ORDER BY score DESC`,
		string(model.InsightPendingTriage)); err != nil {
		return nil, fmt.Errorf("list pending triage: %w", err)
	}
	out := make([]*model.Insight, 0, len(rows))
	for _, row := range rows {
		in, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// ListPromoted returns insights that have recorded a task_id, the set the
// reconciliation job checks for orphans (task row gone missing).
func (r *ReflectionRepo) ListPromoted(ctx context.Context) ([]*model.Insight, error) {
	var rows []insightRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM insights WHERE status = ? AND task_id != ''`,
		string(model.InsightTaskCreated)); err != nil {
		return nil, fmt.Errorf("list promoted: %w", err)
	}
	out := make([]*model.Insight, 0, len(rows))
	for _, row := range rows {
		in, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// AppendPromotionAudit records an automatic insight-to-task promotion.
func (r *ReflectionRepo) AppendPromotionAudit(ctx context.Context, insightID, action, detail string, at string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO promotion_audit (id, insight_id, action, detail, created_at) VALUES (?,?,?,?,?)`,
		newAuditID(), insightID, action, detail, at)
	if err != nil {
		return fmt.Errorf("append promotion audit: %w", err)
	}
	return nil
}

// Tracking holds the reflection-debt counters for one agent (spec §4.1
// gate 8 "Reflection debt").
type Tracking struct {
	Agent                    string
	DoneTasksSinceReflection int
	LastReflectionAt         time.Time
	HasReflected             bool
}

// GetTracking returns an agent's reflection-debt counters, zero-valued if
// the agent has never been tracked.
func (r *ReflectionRepo) GetTracking(ctx context.Context, agent string) (Tracking, error) {
	var t Tracking
	t.Agent = agent
	var lastAt sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT done_tasks_since_reflection, last_reflection_at
		FROM reflection_tracking WHERE agent = ?`, agent).Scan(&t.DoneTasksSinceReflection, &lastAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return Tracking{}, fmt.Errorf("get tracking: %w", err)
	}
	if lastAt.Valid && lastAt.String != "" {
		if t.LastReflectionAt, err = parseTime(lastAt.String); err != nil {
			return Tracking{}, err
		}
		t.HasReflected = true
	}
	return t, nil
}

// IncrementDoneSinceReflection bumps an agent's done-task counter,
// creating the tracking row if needed.
func (r *ReflectionRepo) IncrementDoneSinceReflection(ctx context.Context, agent string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reflection_tracking (agent, done_tasks_since_reflection) VALUES (?, 1)
		ON CONFLICT(agent) DO UPDATE SET done_tasks_since_reflection = done_tasks_since_reflection + 1`,
		agent)
	if err != nil {
		return fmt.Errorf("increment done count: %w", err)
	}
	return nil
}

// ResetTracking zeroes an agent's done-task counter and stamps the
// reflection timestamp, called whenever a new reflection is recorded.
func (r *ReflectionRepo) ResetTracking(ctx context.Context, agent string, at string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reflection_tracking (agent, done_tasks_since_reflection, last_reflection_at) VALUES (?, 0, ?)
		ON CONFLICT(agent) DO UPDATE SET done_tasks_since_reflection = 0, last_reflection_at = excluded.last_reflection_at`,
		agent, at)
	if err != nil {
		return fmt.Errorf("reset tracking: %w", err)
	}
	return nil
}

// AppendTriageAudit records a human triage decision.
func (r *ReflectionRepo) AppendTriageAudit(ctx context.Context, d *model.TriageDecision) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO triage_audit (id, insight_id, actor, decision, reason, created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.InsightID, d.Actor, d.Decision, d.Reason, d.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append triage audit: %w", err)
	}
	return nil
}
