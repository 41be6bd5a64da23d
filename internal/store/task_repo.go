package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/model"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// TaskRepo persists model.Task and its append-only side tables, mirroring
// the teacher's repository-per-aggregate style (infrastructure/database
// generic_repository.go) but hand-specialized rather than generic, since
// the governance core has a handful of concrete aggregates rather than a
// dynamic catalog of them.
type TaskRepo struct {
	db *sqlx.DB
}

func NewTaskRepo(db *sqlx.DB) *TaskRepo { return &TaskRepo{db: db} }

type taskRow struct {
	ID           string `db:"id"`
	Title        string `db:"title"`
	Description  string `db:"description"`
	Type         string `db:"type"`
	Status       string `db:"status"`
	Priority     string `db:"priority"`
	Assignee     string `db:"assignee"`
	Reviewer     string `db:"reviewer"`
	DoneCriteria string `db:"done_criteria"`
	CreatedBy    string `db:"created_by"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
	BlockedBy    string `db:"blocked_by"`
	Tags         string `db:"tags"`
	TeamID       string `db:"team_id"`
	Metadata     string `db:"metadata"`
}

func toRow(t *model.Task) (*taskRow, error) {
	done, err := json.Marshal(t.DoneCriteria)
	if err != nil {
		return nil, err
	}
	blocked, err := json.Marshal(t.BlockedBy)
	if err != nil {
		return nil, err
	}
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, err
	}
	return &taskRow{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Type:         string(t.Type),
		Status:       string(t.Status),
		Priority:     string(t.Priority),
		Assignee:     t.Assignee,
		Reviewer:     t.Reviewer,
		DoneCriteria: string(done),
		CreatedBy:    t.CreatedBy,
		CreatedAt:    t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    t.UpdatedAt.UTC().Format(timeLayout),
		BlockedBy:    string(blocked),
		Tags:         string(tags),
		TeamID:       t.TeamID,
		Metadata:     string(meta),
	}, nil
}

func (r *taskRow) toModel() (*model.Task, error) {
	t := &model.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Type:        model.TaskType(r.Type),
		Status:      model.TaskStatus(r.Status),
		Priority:    model.Priority(r.Priority),
		Assignee:    r.Assignee,
		Reviewer:    r.Reviewer,
		CreatedBy:   r.CreatedBy,
		TeamID:      r.TeamID,
	}
	var err error
	if t.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.DoneCriteria), &t.DoneCriteria); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.BlockedBy), &t.BlockedBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Tags), &t.Tags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Metadata), &t.Metadata); err != nil {
		return nil, err
	}
	return t, nil
}

const insertTaskSQL = `
INSERT INTO tasks (id, title, description, type, status, priority, assignee, reviewer,
                    done_criteria, created_by, created_at, updated_at, blocked_by, tags, team_id, metadata)
VALUES (:id, :title, :description, :type, :status, :priority, :assignee, :reviewer,
        :done_criteria, :created_by, :created_at, :updated_at, :blocked_by, :tags, :team_id, :metadata)`

const updateTaskSQL = `
UPDATE tasks SET title=:title, description=:description, type=:type, status=:status,
    priority=:priority, assignee=:assignee, reviewer=:reviewer, done_criteria=:done_criteria,
    updated_at=:updated_at, blocked_by=:blocked_by, tags=:tags, team_id=:team_id, metadata=:metadata
WHERE id=:id`

// Create inserts a new task row.
func (r *TaskRepo) Create(ctx context.Context, t *model.Task) error {
	row, err := toRow(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if _, err := r.db.NamedExecContext(ctx, insertTaskSQL, row); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Update persists a task whose fields have already been validated/mutated
// by the gate-chain engine.
func (r *TaskRepo) Update(ctx context.Context, t *model.Task) error {
	row, err := toRow(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	res, err := r.db.NamedExecContext(ctx, updateTaskSQL, row)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a task row outright. Reserved for is_test cleanup: spec
// §3 says tasks are "never deleted in production (soft closure via
// done)", so the engine only calls this once it has confirmed
// metadata.is_test=true.
func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches a task by exact ID.
func (r *TaskRepo) Get(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return row.toModel()
}

// ResolvePrefix resolves a task ID prefix to exactly one task, the store
// side of the task engine's prefix-resolution gate (spec §4.1). It returns
// apperr.KindAmbiguous when more than one task matches and apperr.KindNotFound
// when none do, so the gate chain can surface the right envelope directly.
func (r *TaskRepo) ResolvePrefix(ctx context.Context, prefix string) (*model.Task, error) {
	if prefix == "" {
		return nil, apperr.Validation("task id must not be empty", "id_prefix")
	}
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM tasks WHERE id LIKE ? ORDER BY id LIMIT 6`, prefix+"%"); err != nil {
		return nil, fmt.Errorf("resolve prefix: %w", err)
	}
	switch len(rows) {
	case 0:
		return nil, apperr.NotFound("task", prefix)
	case 1:
		return rows[0].toModel()
	default:
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		return nil, apperr.Ambiguous(ids)
	}
}

// ListByStatus returns tasks with the given status, newest first.
func (r *TaskRepo) ListByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM tasks WHERE status = ? ORDER BY updated_at DESC`, string(status)); err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return rowsToTasks(rows)
}

// ListByAssignee returns every task currently assigned to actor, used by
// the WIP-cap gate and the idle/cadence workers.
func (r *TaskRepo) ListByAssignee(ctx context.Context, assignee string, statuses ...model.TaskStatus) ([]*model.Task, error) {
	q := `SELECT * FROM tasks WHERE assignee = ?`
	args := []any{assignee}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		q += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	q += ` ORDER BY updated_at DESC`
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list by assignee: %w", err)
	}
	return rowsToTasks(rows)
}

// All returns every task, for board-health scans and pipeline reconciliation.
func (r *TaskRepo) All(ctx context.Context) ([]*model.Task, error) {
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM tasks ORDER BY updated_at DESC`); err != nil {
		return nil, fmt.Errorf("list all tasks: %w", err)
	}
	return rowsToTasks(rows)
}

func rowsToTasks(rows []taskRow) ([]*model.Task, error) {
	out := make([]*model.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// AppendHistory writes one transition record.
func (r *TaskRepo) AppendHistory(ctx context.Context, h *model.TaskHistoryEntry) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO task_history (id, task_id, from_state, to_state, actor, reason, created_at)
		VALUES (:id, :task_id, :from_state, :to_state, :actor, :reason, :created_at)`,
		map[string]any{
			"id": h.ID, "task_id": h.TaskID, "from_state": string(h.FromState),
			"to_state": string(h.ToState), "actor": h.Actor, "reason": h.Reason,
			"created_at": h.CreatedAt.UTC().Format(timeLayout),
		})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the transition trail for a task, oldest first.
func (r *TaskRepo) History(ctx context.Context, taskID string) ([]*model.TaskHistoryEntry, error) {
	var out []*model.TaskHistoryEntry
	rows, err := r.db.QueryxContext(ctx, `SELECT id, task_id, from_state, to_state, actor, reason, created_at
		FROM task_history WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, tid, from, to, actor, reason, createdAt string
		if err := rows.Scan(&id, &tid, &from, &to, &actor, &reason, &createdAt); err != nil {
			return nil, err
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.TaskHistoryEntry{
			ID: id, TaskID: tid, FromState: model.TaskStatus(from), ToState: model.TaskStatus(to),
			Actor: actor, Reason: reason, CreatedAt: ts,
		})
	}
	return out, rows.Err()
}

// AddComment appends a comment to a task's thread.
func (r *TaskRepo) AddComment(ctx context.Context, c *model.TaskComment) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO task_comments (id, task_id, author, body, created_at)
		VALUES (:id, :task_id, :author, :body, :created_at)`,
		map[string]any{
			"id": c.ID, "task_id": c.TaskID, "author": c.Author, "body": c.Body,
			"created_at": c.CreatedAt.UTC().Format(timeLayout),
		})
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

// Comments returns a task's comment thread, oldest first.
func (r *TaskRepo) Comments(ctx context.Context, taskID string) ([]*model.TaskComment, error) {
	var out []*model.TaskComment
	rows, err := r.db.QueryxContext(ctx, `SELECT id, task_id, author, body, created_at
		FROM task_comments WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("comments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, tid, author, body, createdAt string
		if err := rows.Scan(&id, &tid, &author, &body, &createdAt); err != nil {
			return nil, err
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.TaskComment{ID: id, TaskID: tid, Author: author, Body: body, CreatedAt: ts})
	}
	return out, rows.Err()
}
