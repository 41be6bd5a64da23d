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

// AuditRepo persists the audit ledger, mutation alerts, routing overrides,
// pause controls, and continuity-action log — the governance side tables
// that shadow task mutation (spec §4.5).
type AuditRepo struct {
	db *sqlx.DB
}

func NewAuditRepo(db *sqlx.DB) *AuditRepo { return &AuditRepo{db: db} }

// AppendEntry writes one field-level audit row.
func (r *AuditRepo) AppendEntry(ctx context.Context, e *model.AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_ledger (id, task_id, actor, context, field, before, after, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.Actor, e.Context, e.Field, e.Before, e.After, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListForTask returns a task's audit trail, oldest first.
func (r *AuditRepo) ListForTask(ctx context.Context, taskID string) ([]*model.AuditEntry, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, task_id, actor, context, field, before, after, created_at
		FROM audit_ledger WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Actor, &e.Context, &e.Field, &e.Before, &e.After, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LastMutationAlert returns the most recent alert for (taskID, kind), used
// to debounce repeated alerts to one per window (spec §4.5).
func (r *AuditRepo) LastMutationAlert(ctx context.Context, taskID, kind string) (*model.MutationAlert, error) {
	var id, actor, detail, createdAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, actor, detail, created_at FROM mutation_alerts
		WHERE task_id = ? AND kind = ? ORDER BY created_at DESC LIMIT 1`, taskID, kind).
		Scan(&id, &actor, &detail, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last mutation alert: %w", err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &model.MutationAlert{ID: id, TaskID: taskID, Kind: kind, Actor: actor, Detail: detail, CreatedAt: ts}, nil
}

// AppendMutationAlert records a new alert.
func (r *AuditRepo) AppendMutationAlert(ctx context.Context, a *model.MutationAlert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mutation_alerts (id, task_id, kind, actor, detail, created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.Kind, a.Actor, a.Detail, a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append mutation alert: %w", err)
	}
	return nil
}

// RecentMutationAlerts returns the most recent mutation alerts across all
// tasks, newest first, for the `/audit/mutation-alerts` admin endpoint.
func (r *AuditRepo) RecentMutationAlerts(ctx context.Context, limit int) ([]*model.MutationAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, task_id, kind, actor, detail, created_at FROM mutation_alerts
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent mutation alerts: %w", err)
	}
	defer rows.Close()
	var out []*model.MutationAlert
	for rows.Next() {
		var a model.MutationAlert
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Kind, &a.Actor, &a.Detail, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// RecentReviewEntries returns audit-ledger rows touching review-state
// fields, newest first, for the `/audit/reviews` admin endpoint — a
// reviewer-facing slice of the full ledger rather than every field change.
func (r *AuditRepo) RecentReviewEntries(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, task_id, actor, context, field, before, after, created_at
		FROM audit_ledger
		WHERE field IN ('reviewer', 'reviewer_approved', 'review_state', 'review_handoff', 'status')
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent review entries: %w", err)
	}
	defer rows.Close()
	var out []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Actor, &e.Context, &e.Field, &e.Before, &e.After, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ActiveRoutingOverrides returns overrides that have not yet expired.
func (r *AuditRepo) ActiveRoutingOverrides(ctx context.Context, now time.Time) ([]*model.RoutingOverride, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, target, task_class, condition, created_by, expires_at, created_at
		FROM routing_overrides WHERE expires_at > ? ORDER BY created_at DESC`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("active routing overrides: %w", err)
	}
	defer rows.Close()
	var out []*model.RoutingOverride
	for rows.Next() {
		var o model.RoutingOverride
		var expires, created string
		if err := rows.Scan(&o.ID, &o.Target, &o.TaskClass, &o.Condition, &o.CreatedBy, &expires, &created); err != nil {
			return nil, err
		}
		if o.ExpiresAt, err = parseTime(expires); err != nil {
			return nil, err
		}
		if o.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// AddRoutingOverride inserts a new time-bounded override.
func (r *AuditRepo) AddRoutingOverride(ctx context.Context, o *model.RoutingOverride) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO routing_overrides (id, target, task_class, condition, created_by, expires_at, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		o.ID, o.Target, o.TaskClass, o.Condition, o.CreatedBy, o.ExpiresAt.UTC().Format(timeLayout),
		o.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("add routing override: %w", err)
	}
	return nil
}

// ActivePause returns the open pause entry for a scope, if any.
func (r *AuditRepo) ActivePause(ctx context.Context, scope string) (*model.PauseEntry, error) {
	var p model.PauseEntry
	var pausedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, scope, reason, paused_by, paused_at FROM pause_controls
		WHERE scope = ? AND resumed_at IS NULL ORDER BY paused_at DESC LIMIT 1`, scope).
		Scan(&p.ID, &p.Scope, &p.Reason, &p.PausedBy, &pausedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active pause: %w", err)
	}
	if p.PausedAt, err = parseTime(pausedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Pause opens a new pause entry for scope.
func (r *AuditRepo) Pause(ctx context.Context, p *model.PauseEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pause_controls (id, scope, reason, paused_by, paused_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Scope, p.Reason, p.PausedBy, p.PausedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Resume closes the open pause entry for scope.
func (r *AuditRepo) Resume(ctx context.Context, scope string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pause_controls SET resumed_at = ? WHERE scope = ? AND resumed_at IS NULL`,
		at.UTC().Format(timeLayout), scope)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// AppendContinuityAction records an auto-action taken by a background
// worker before its external side effect runs (spec §4.3).
func (r *AuditRepo) AppendContinuityAction(ctx context.Context, a *model.ContinuityAction) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO continuity_actions (id, worker, action_kind, target_id, payload, delivered, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.Worker, a.ActionKind, a.TargetID, string(payload), a.Delivered, a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append continuity action: %w", err)
	}
	return nil
}

// MarkContinuityDelivered flips the delivered flag once the side effect
// has actually completed.
func (r *AuditRepo) MarkContinuityDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE continuity_actions SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark continuity delivered: %w", err)
	}
	return nil
}
